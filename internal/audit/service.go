package audit

import (
	"context"
	"errors"
	"fmt"

	"rcbudget.org/internal/ids"
	"rcbudget.org/internal/obs"
)

// Service records audit events and clones audit history alongside a
// structural clone. Recording is pre-emptive: Begin writes a PENDING
// event before the action runs, Finish stamps the terminal outcome.
type Service struct {
	store Store
}

// NewService constructs the audit service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	return &Service{store: store}, nil
}

// Begin writes a PENDING event for the action about to execute and
// returns its id for Finish.
func (s *Service) Begin(ctx context.Context, e Event) (string, error) {
	if e.Username == "" || e.Action == "" {
		return "", errors.New("audit event requires username and action")
	}
	e.ID = ids.New()
	e.Outcome = OutcomePending
	if err := s.store.Append(ctx, &e); err != nil {
		return "", fmt.Errorf("append audit event: %w", err)
	}
	_ = LogEvent(ctx, e.Action, map[string]any{
		"audit_id":    e.ID,
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
		"outcome":     string(e.Outcome),
	})
	return e.ID, nil
}

// Finish resolves a PENDING event to SUCCESS, or to FAILURE with the
// error message when actionErr is non-nil.
func (s *Service) Finish(ctx context.Context, id string, actionErr error) error {
	if id == "" {
		return nil
	}
	outcome := OutcomeSuccess
	msg := ""
	if actionErr != nil {
		outcome = OutcomeFailure
		msg = actionErr.Error()
	}
	if err := s.store.Finalize(ctx, id, outcome, msg); err != nil {
		return fmt.Errorf("finalize audit event %s: %w", id, err)
	}
	return nil
}

// ListByCentre returns the centre's audit history.
func (s *Service) ListByCentre(ctx context.Context, centreID string) ([]Event, error) {
	return s.store.ListByCentre(ctx, centreID)
}

// ListByFiscalYear returns the fiscal year's audit history.
func (s *Service) ListByFiscalYear(ctx context.Context, fiscalYearID string) ([]Event, error) {
	return s.store.ListByFiscalYear(ctx, fiscalYearID)
}

// Target names the cloned context historical events are relabeled to.
type Target struct {
	CentreID       string
	CentreName     string
	FiscalYearID   string
	FiscalYearName string
}

// CloneForFiscalYear copies the source fiscal year's audit history to
// the target context. It runs after the structural clone committed and
// is best-effort per event: a failed copy is logged and skipped, never
// escalated.
func (s *Service) CloneForFiscalYear(ctx context.Context, sourceFiscalYearID string, target Target) {
	events, err := s.store.ListByFiscalYear(ctx, sourceFiscalYearID)
	if err != nil {
		obs.Warn("audit clone: list source events", map[string]any{
			"fiscal_year_id": sourceFiscalYearID,
			"error":          err.Error(),
		})
		return
	}
	s.cloneEvents(ctx, events, target)
}

// CloneForCentre copies the source centre's centre-scoped audit history
// (events not tied to any fiscal year) to the target context. Fiscal
// year histories are cloned by the per-year calls of a centre clone.
func (s *Service) CloneForCentre(ctx context.Context, sourceCentreID string, target Target) {
	events, err := s.store.ListByCentre(ctx, sourceCentreID)
	if err != nil {
		obs.Warn("audit clone: list source events", map[string]any{
			"centre_id": sourceCentreID,
			"error":     err.Error(),
		})
		return
	}
	scoped := events[:0:0]
	for _, e := range events {
		if e.FiscalYearID == "" {
			scoped = append(scoped, e)
		}
	}
	s.cloneEvents(ctx, scoped, target)
}

func (s *Service) cloneEvents(ctx context.Context, events []Event, target Target) {
	for _, src := range events {
		copied := src
		copied.ID = ids.New()
		copied.ClonedFromID = src.ID
		copied.CentreID = target.CentreID
		copied.CentreName = target.CentreName
		if src.FiscalYearID != "" {
			copied.FiscalYearID = target.FiscalYearID
			copied.FiscalYearName = target.FiscalYearName
		}
		if err := s.store.Append(ctx, &copied); err != nil {
			obs.Warn("audit clone: copy event", map[string]any{
				"source_event_id": src.ID,
				"error":           err.Error(),
			})
			continue
		}
		obs.AuditEventCloned()
	}
}
