package audit

import (
	"context"
	"errors"
	"time"
)

// Outcome is the lifecycle state of an audit event. Events are written
// PENDING before the action they describe executes, then finalized.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomePending, OutcomeSuccess, OutcomeFailure:
		return true
	default:
		return false
	}
}

// Event is an immutable record of an action against the budget data.
// ClonedFromID back-references the source event when the record was
// produced by the audit trail cloner.
type Event struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Action         string    `json:"action"`
	EntityType     string    `json:"entity_type,omitempty"`
	EntityID       string    `json:"entity_id,omitempty"`
	EntityName     string    `json:"entity_name,omitempty"`
	CentreID       string    `json:"centre_id,omitempty"`
	CentreName     string    `json:"centre_name,omitempty"`
	FiscalYearID   string    `json:"fiscal_year_id,omitempty"`
	FiscalYearName string    `json:"fiscal_year_name,omitempty"`
	Outcome        Outcome   `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	ClonedFromID   string    `json:"cloned_from_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

var (
	// ErrNotFound indicates the event does not exist.
	ErrNotFound = errors.New("audit: not found")
	// ErrConflict indicates an id collision on append.
	ErrConflict = errors.New("audit: conflict")
)

// Store persists audit events. Finalize is the only permitted update:
// it moves a PENDING event to its terminal outcome.
type Store interface {
	Append(ctx context.Context, e *Event) error
	Finalize(ctx context.Context, id string, outcome Outcome, errMsg string) error
	ListByCentre(ctx context.Context, centreID string) ([]Event, error)
	ListByFiscalYear(ctx context.Context, fiscalYearID string) ([]Event, error)
}
