package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
	machinedomain "github.com/smallbiznis/coinpulse/internal/machine/domain"
)

var (
	ErrInvalidValue          = errors.New("invalid_value")
	ErrInvalidOccurredAt     = errors.New("invalid_occurred_at")
	ErrInvalidSequenceNumber = errors.New("invalid_sequence_number")
	ErrInvalidPlayers        = errors.New("invalid_players")
	ErrInvalidDuration       = errors.New("invalid_duration_seconds")
	ErrInvalidBatch          = errors.New("invalid_batch")
	ErrInvalidEventID        = errors.New("invalid_event_id")
	ErrConflict              = errors.New("conflict")
)

// Stage names the aggregate write that failed.
type Stage string

const (
	StageRollup  Stage = "rollup"
	StageCounter Stage = "counter"
	StageMark    Stage = "mark_processed"
	StageDelete  Stage = "soft_delete"
)

// PartialProcessingError reports an event that was stored while its counters
// and rollups were not updated. The event stays unprocessed.
type PartialProcessingError struct {
	EventID snowflake.ID `json:"event_id"`
	Stage   Stage        `json:"stage"`
	Code    string       `json:"code"`
	Err     error        `json:"-"`
}

func (e *PartialProcessingError) Error() string {
	return fmt.Sprintf("event %s stored but %s update failed: %v", e.EventID, e.Stage, e.Err)
}

func (e *PartialProcessingError) Unwrap() error { return e.Err }

// Message is the client facing description.
func (e *PartialProcessingError) Message() string {
	return fmt.Sprintf("event stored, %s update pending", e.Stage)
}

var knownErrors = []error{
	ErrInvalidValue,
	ErrInvalidOccurredAt,
	ErrInvalidSequenceNumber,
	ErrInvalidPlayers,
	ErrInvalidDuration,
	ErrInvalidBatch,
	ErrInvalidEventID,
	ErrConflict,
	eventdomain.ErrEventNotFound,
	machinedomain.ErrInvalidMachine,
	machinedomain.ErrMachineNotFound,
	machinedomain.ErrMachineNotOperational,
	machinedomain.ErrMachineLookupTimeout,
}

// ErrorCode maps err onto its stable machine readable code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var partial *PartialProcessingError
	if errors.As(err, &partial) {
		return "partial_processing"
	}
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal_error"
}

// IsValidation reports whether err was caused by a malformed request.
func IsValidation(err error) bool {
	for _, known := range knownErrors {
		if strings.HasPrefix(known.Error(), "invalid_") && errors.Is(err, known) {
			return true
		}
	}
	return false
}
