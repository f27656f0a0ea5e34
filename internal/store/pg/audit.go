package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rcbudget.org/internal/audit"
	"rcbudget.org/internal/ids"
)

// AuditStore implements audit.Store over Postgres.
type AuditStore struct {
	q querier
}

var _ audit.Store = (*AuditStore)(nil)

const auditColumns = `id, username, action, entity_type, entity_id, entity_name, centre_id, centre_name, fiscal_year_id, fiscal_year_name, outcome, error, cloned_from_id, created_at`

func (s *AuditStore) Append(ctx context.Context, e *audit.Event) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = audit.OutcomePending
	}
	_, err := s.q.ExecContext(ctx, `
		insert into audit_events (`+auditColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, e.ID, e.Username, e.Action, nullIfEmpty(e.EntityType), nullIfEmpty(e.EntityID), nullIfEmpty(e.EntityName),
		nullIfEmpty(e.CentreID), nullIfEmpty(e.CentreName), nullIfEmpty(e.FiscalYearID), nullIfEmpty(e.FiscalYearName),
		string(e.Outcome), nullIfEmpty(e.Error), nullIfEmpty(e.ClonedFromID), e.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return audit.ErrConflict
		}
		return err
	}
	return nil
}

func (s *AuditStore) Finalize(ctx context.Context, id string, outcome audit.Outcome, errMsg string) error {
	res, err := s.q.ExecContext(ctx, `
		update audit_events set outcome = $2, error = $3 where id = $1
	`, id, string(outcome), nullIfEmpty(errMsg))
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: event %s", audit.ErrNotFound, id)
	}
	return nil
}

func (s *AuditStore) ListByCentre(ctx context.Context, centreID string) ([]audit.Event, error) {
	return s.list(ctx, `centre_id`, centreID)
}

func (s *AuditStore) ListByFiscalYear(ctx context.Context, fiscalYearID string) ([]audit.Event, error) {
	return s.list(ctx, `fiscal_year_id`, fiscalYearID)
}

func (s *AuditStore) list(ctx context.Context, column, value string) ([]audit.Event, error) {
	rows, err := s.q.QueryContext(ctx, `
		select `+auditColumns+`
		from audit_events
		where `+column+` = $1
		order by id
	`, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Event
	for rows.Next() {
		var (
			e                                 audit.Event
			entityType, entityID, entityName  sql.NullString
			centreID, centreName              sql.NullString
			fiscalYearID, fiscalYearName      sql.NullString
			outcome                           string
			errMsg, clonedFromID              sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Username, &e.Action, &entityType, &entityID, &entityName,
			&centreID, &centreName, &fiscalYearID, &fiscalYearName,
			&outcome, &errMsg, &clonedFromID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EntityType = entityType.String
		e.EntityID = entityID.String
		e.EntityName = entityName.String
		e.CentreID = centreID.String
		e.CentreName = centreName.String
		e.FiscalYearID = fiscalYearID.String
		e.FiscalYearName = fiscalYearName.String
		e.Outcome = audit.Outcome(outcome)
		e.Error = errMsg.String
		e.ClonedFromID = clonedFromID.String
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
