package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
)

type Service interface {
	// RecordEvent validates and stores one event, then brings the machine's
	// counters and the event's daily and hourly rollups up to date.
	RecordEvent(ctx context.Context, req RecordEventRequest) (*RecordEventResult, error)
	// RecordEvents records each item independently. It only fails as a whole
	// when the batch itself is malformed.
	RecordEvents(ctx context.Context, reqs []RecordEventRequest) (*BatchResult, error)
	// ReprocessEvent recomputes the aggregates an existing event feeds.
	ReprocessEvent(ctx context.Context, eventID snowflake.ID) (*RecordEventResult, error)
	// SoftDeleteEvent hides an event from every aggregate.
	SoftDeleteEvent(ctx context.Context, eventID snowflake.ID) (*eventdomain.Event, error)
}
