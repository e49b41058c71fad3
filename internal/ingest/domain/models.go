package domain

import (
	"time"

	"github.com/shopspring/decimal"
	counterdomain "github.com/smallbiznis/coinpulse/internal/counter/domain"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
)

// RecordEventRequest reports one pulse or completed game. Exactly one of
// MachineID and MachineCode is needed; when both are set they must name the
// same machine.
type RecordEventRequest struct {
	MachineID       string           `json:"machine_id"`
	MachineCode     string           `json:"machine_code"`
	Value           *decimal.Decimal `json:"value"`
	OccurredAt      *time.Time       `json:"occurred_at"`
	SequenceNumber  *int64           `json:"sequence_number"`
	Players         int              `json:"players"`
	DurationSeconds int64            `json:"duration_seconds"`
	Metadata        map[string]any   `json:"metadata"`
	OriginIP        string           `json:"-"`
	ClientID        string           `json:"client_id"`
}

// MachineRef returns the identifier used to resolve the machine.
func (r RecordEventRequest) MachineRef() string {
	if r.MachineID != "" {
		return r.MachineID
	}
	return r.MachineCode
}

type RecordEventResult struct {
	Event    *eventdomain.Event             `json:"event"`
	Counters *counterdomain.MachineCounters `json:"counters"`
	// Warning is set when the event was stored but its aggregates were not
	// updated.
	Warning *PartialProcessingError `json:"warning,omitempty"`
}

type ItemStatus string

const (
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
)

type ItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type BatchItem struct {
	Index     int        `json:"index"`
	Status    ItemStatus `json:"status"`
	EventID   string     `json:"event_id,omitempty"`
	Processed bool       `json:"processed"`
	Error     *ItemError `json:"error,omitempty"`
}

type BatchResult struct {
	BatchID   string      `json:"batch_id"`
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}
