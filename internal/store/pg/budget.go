package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rcbudget.org/internal/budget"
	"rcbudget.org/internal/ids"
)

// BudgetStore implements budget.Store over Postgres. Aggregates span
// several tables; their create paths always run inside a transaction,
// either the caller's or one opened here.
type BudgetStore struct {
	db *sql.DB
	q  querier
}

var _ budget.Store = (*BudgetStore)(nil)

func (s *BudgetStore) WithinTx(ctx context.Context, fn func(budget.Store) error) error {
	return s.inTx(ctx, func(tx *BudgetStore) error { return fn(tx) })
}

// inTx reruns the mutation inside a transaction when the store is not
// already a transactional view. Aggregate creates span several tables
// and must not be observable half-written.
func (s *BudgetStore) inTx(ctx context.Context, fn func(tx *BudgetStore) error) error {
	if s.db == nil {
		return fn(s)
	}
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&BudgetStore{q: tx})
	})
}

func (s *BudgetStore) CreateFiscalYear(ctx context.Context, fy *budget.FiscalYear) error {
	if fy.ID == "" {
		fy.ID = ids.New()
	}
	if fy.CreatedAt.IsZero() {
		fy.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into fiscal_years (id, centre_id, name, starts_on, ends_on, notes, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, fy.ID, fy.CentreID, fy.Name, fy.StartsOn, fy.EndsOn, nullIfEmpty(fy.Notes), fy.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return budget.ErrConflict
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: centre %s", budget.ErrNotFound, fy.CentreID)
			}
		}
		return err
	}
	return nil
}

func (s *BudgetStore) FiscalYear(ctx context.Context, id string) (budget.FiscalYear, error) {
	var (
		fy    budget.FiscalYear
		notes sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		select id, centre_id, name, starts_on, ends_on, notes, created_at
		from fiscal_years
		where id = $1
	`, id).Scan(&fy.ID, &fy.CentreID, &fy.Name, &fy.StartsOn, &fy.EndsOn, &notes, &fy.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return budget.FiscalYear{}, fmt.Errorf("%w: fiscal year %s", budget.ErrNotFound, id)
	}
	if err != nil {
		return budget.FiscalYear{}, err
	}
	if notes.Valid {
		fy.Notes = notes.String
	}
	return fy, nil
}

func (s *BudgetStore) FiscalYearsByCentre(ctx context.Context, centreID string) ([]budget.FiscalYear, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, centre_id, name, starts_on, ends_on, notes, created_at
		from fiscal_years
		where centre_id = $1
		order by id
	`, centreID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []budget.FiscalYear
	for rows.Next() {
		var (
			fy    budget.FiscalYear
			notes sql.NullString
		)
		if err := rows.Scan(&fy.ID, &fy.CentreID, &fy.Name, &fy.StartsOn, &fy.EndsOn, &notes, &fy.CreatedAt); err != nil {
			return nil, err
		}
		if notes.Valid {
			fy.Notes = notes.String
		}
		result = append(result, fy)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteFiscalYear removes the year; the graph goes with it through
// on-delete cascades.
func (s *BudgetStore) DeleteFiscalYear(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `delete from fiscal_years where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: fiscal year %s", budget.ErrNotFound, id)
	}
	return nil
}

func (s *BudgetStore) CreateMoney(ctx context.Context, m *budget.Money) error {
	if m.ID == "" {
		m.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into moneys (id, fiscal_year_id, code, name)
		values ($1, $2, $3, $4)
	`, m.ID, m.FiscalYearID, m.Code, m.Name)
	return mapGraphInsertErr(err, m.FiscalYearID)
}

func (s *BudgetStore) Moneys(ctx context.Context, fiscalYearID string) ([]budget.Money, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, fiscal_year_id, code, name
		from moneys
		where fiscal_year_id = $1
		order by id
	`, fiscalYearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []budget.Money
	for rows.Next() {
		var m budget.Money
		if err := rows.Scan(&m.ID, &m.FiscalYearID, &m.Code, &m.Name); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BudgetStore) CreateCategory(ctx context.Context, c *budget.Category) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into categories (id, fiscal_year_id, name, funding_type)
		values ($1, $2, $3, $4)
	`, c.ID, c.FiscalYearID, c.Name, c.FundingType)
	return mapGraphInsertErr(err, c.FiscalYearID)
}

func (s *BudgetStore) Categories(ctx context.Context, fiscalYearID string) ([]budget.Category, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, fiscal_year_id, name, funding_type
		from categories
		where fiscal_year_id = $1
		order by id
	`, fiscalYearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []budget.Category
	for rows.Next() {
		var c budget.Category
		if err := rows.Scan(&c.ID, &c.FiscalYearID, &c.Name, &c.FundingType); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BudgetStore) CreateSpendingCategory(ctx context.Context, c *budget.SpendingCategory) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into spending_categories (id, fiscal_year_id, name)
		values ($1, $2, $3)
	`, c.ID, c.FiscalYearID, c.Name)
	return mapGraphInsertErr(err, c.FiscalYearID)
}

func (s *BudgetStore) SpendingCategories(ctx context.Context, fiscalYearID string) ([]budget.SpendingCategory, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, fiscal_year_id, name
		from spending_categories
		where fiscal_year_id = $1
		order by id
	`, fiscalYearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []budget.SpendingCategory
	for rows.Next() {
		var c budget.SpendingCategory
		if err := rows.Scan(&c.ID, &c.FiscalYearID, &c.Name); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BudgetStore) CreateFundingItem(ctx context.Context, item *budget.FundingItem) error {
	return s.inTx(ctx, func(tx *BudgetStore) error {
		if item.ID == "" {
			item.ID = ids.New()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = time.Now().UTC()
		}
		_, err := tx.q.ExecContext(ctx, `
			insert into funding_items (id, fiscal_year_id, category_id, name, description, created_at)
			values ($1, $2, $3, $4, $5, $6)
		`, item.ID, item.FiscalYearID, item.CategoryID, item.Name, nullIfEmpty(item.Description), item.CreatedAt)
		if err != nil {
			return mapGraphInsertErr(err, item.FiscalYearID)
		}
		for i := range item.Allocations {
			if item.Allocations[i].ID == "" {
				item.Allocations[i].ID = ids.New()
			}
			a := item.Allocations[i]
			if _, err := tx.q.ExecContext(ctx, `
				insert into money_allocations (id, funding_item_id, money_id, cap_amount, om_amount)
				values ($1, $2, $3, $4, $5)
			`, a.ID, item.ID, a.MoneyID, a.CapAmount, a.OMAmount); err != nil {
				return mapGraphInsertErr(err, item.FiscalYearID)
			}
		}
		return nil
	})
}

func (s *BudgetStore) FundingItems(ctx context.Context, fiscalYearID string) ([]budget.FundingItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, fiscal_year_id, category_id, name, description, created_at
		from funding_items
		where fiscal_year_id = $1
		order by id
	`, fiscalYearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []budget.FundingItem
	for rows.Next() {
		var (
			item budget.FundingItem
			desc sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.FiscalYearID, &item.CategoryID, &item.Name, &desc, &item.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			item.Description = desc.String
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		allocs, err := s.moneyAllocations(ctx, `funding_item_id`, `money_allocations`, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Allocations = allocs
	}
	return result, nil
}

func (s *BudgetStore) moneyAllocations(ctx context.Context, parentColumn, table, parentID string) ([]budget.MoneyAllocation, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, money_id, cap_amount, om_amount
		from `+table+`
		where `+parentColumn+` = $1
		order by id
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []budget.MoneyAllocation
	for rows.Next() {
		var a budget.MoneyAllocation
		if err := rows.Scan(&a.ID, &a.MoneyID, &a.CapAmount, &a.OMAmount); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BudgetStore) CreateProcurementItem(ctx context.Context, item *budget.ProcurementItem) error {
	return s.inTx(ctx, func(tx *BudgetStore) error {
		if item.ID == "" {
			item.ID = ids.New()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = time.Now().UTC()
		}
		_, err := tx.q.ExecContext(ctx, `
			insert into procurement_items (id, fiscal_year_id, category_id, name, description, created_at)
			values ($1, $2, $3, $4, $5, $6)
		`, item.ID, item.FiscalYearID, nullIfEmpty(item.CategoryID), item.Name, nullIfEmpty(item.Description), item.CreatedAt)
		if err != nil {
			return mapGraphInsertErr(err, item.FiscalYearID)
		}
		for i := range item.Quotes {
			if item.Quotes[i].ID == "" {
				item.Quotes[i].ID = ids.New()
			}
			q := item.Quotes[i]
			if _, err := tx.q.ExecContext(ctx, `
				insert into quotes (id, procurement_item_id, supplier, amount, notes)
				values ($1, $2, $3, $4, $5)
			`, q.ID, item.ID, q.Supplier, q.Amount, nullIfEmpty(q.Notes)); err != nil {
				return mapGraphInsertErr(err, item.FiscalYearID)
			}
			if err := tx.insertFiles(ctx, `quote_files`, `quote_id`, q.ID, item.Quotes[i].Files); err != nil {
				return err
			}
		}
		for i := range item.Events {
			if item.Events[i].ID == "" {
				item.Events[i].ID = ids.New()
			}
			e := item.Events[i]
			if _, err := tx.q.ExecContext(ctx, `
				insert into procurement_events (id, procurement_item_id, description, occurred_on)
				values ($1, $2, $3, $4)
			`, e.ID, item.ID, e.Description, e.OccurredOn); err != nil {
				return mapGraphInsertErr(err, item.FiscalYearID)
			}
			if err := tx.insertFiles(ctx, `event_files`, `event_id`, e.ID, item.Events[i].Files); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BudgetStore) insertFiles(ctx context.Context, table, parentColumn, parentID string, files []budget.File) error {
	for i := range files {
		if files[i].ID == "" {
			files[i].ID = ids.New()
		}
		f := files[i]
		if _, err := s.q.ExecContext(ctx, `
			insert into `+table+` (id, `+parentColumn+`, filename, content_type, size, description, content)
			values ($1, $2, $3, $4, $5, $6, $7)
		`, f.ID, parentID, f.Filename, f.ContentType, f.Size, nullIfEmpty(f.Description), f.Content); err != nil {
			return err
		}
	}
	return nil
}

func (s *BudgetStore) ProcurementItems(ctx context.Context, fiscalYearID string) ([]budget.ProcurementItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, fiscal_year_id, category_id, name, description, created_at
		from procurement_items
		where fiscal_year_id = $1
		order by id
	`, fiscalYearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []budget.ProcurementItem
	for rows.Next() {
		var (
			item     budget.ProcurementItem
			category sql.NullString
			desc     sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.FiscalYearID, &category, &item.Name, &desc, &item.CreatedAt); err != nil {
			return nil, err
		}
		if category.Valid {
			item.CategoryID = category.String
		}
		if desc.Valid {
			item.Description = desc.String
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		if err := s.loadProcurementChildren(ctx, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *BudgetStore) loadProcurementChildren(ctx context.Context, item *budget.ProcurementItem) error {
	rows, err := s.q.QueryContext(ctx, `
		select id, supplier, amount, notes
		from quotes
		where procurement_item_id = $1
		order by id
	`, item.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			q     budget.Quote
			notes sql.NullString
		)
		if err := rows.Scan(&q.ID, &q.Supplier, &q.Amount, &notes); err != nil {
			rows.Close()
			return err
		}
		if notes.Valid {
			q.Notes = notes.String
		}
		item.Quotes = append(item.Quotes, q)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	for i := range item.Quotes {
		files, err := s.loadFiles(ctx, `quote_files`, `quote_id`, item.Quotes[i].ID)
		if err != nil {
			return err
		}
		item.Quotes[i].Files = files
	}

	rows, err = s.q.QueryContext(ctx, `
		select id, description, occurred_on
		from procurement_events
		where procurement_item_id = $1
		order by id
	`, item.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var e budget.ProcurementEvent
		if err := rows.Scan(&e.ID, &e.Description, &e.OccurredOn); err != nil {
			rows.Close()
			return err
		}
		item.Events = append(item.Events, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	for i := range item.Events {
		files, err := s.loadFiles(ctx, `event_files`, `event_id`, item.Events[i].ID)
		if err != nil {
			return err
		}
		item.Events[i].Files = files
	}
	return nil
}

func (s *BudgetStore) loadFiles(ctx context.Context, table, parentColumn, parentID string) ([]budget.File, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, filename, content_type, size, description, content
		from `+table+`
		where `+parentColumn+` = $1
		order by id
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []budget.File
	for rows.Next() {
		var (
			f    budget.File
			desc sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.Filename, &f.ContentType, &f.Size, &desc, &f.Content); err != nil {
			return nil, err
		}
		if desc.Valid {
			f.Description = desc.String
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BudgetStore) CreateSpendingItem(ctx context.Context, item *budget.SpendingItem) error {
	if item.CategoryID == "" {
		return fmt.Errorf("%w: spending item requires a category", budget.ErrInvalidInput)
	}
	return s.inTx(ctx, func(tx *BudgetStore) error {
		if item.ID == "" {
			item.ID = ids.New()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = time.Now().UTC()
		}
		_, err := tx.q.ExecContext(ctx, `
			insert into spending_items (id, fiscal_year_id, category_id, procurement_item_id, name, description, created_at)
			values ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, item.FiscalYearID, item.CategoryID, nullIfEmpty(item.ProcurementItemID), item.Name, nullIfEmpty(item.Description), item.CreatedAt)
		if err != nil {
			return mapGraphInsertErr(err, item.FiscalYearID)
		}
		for i := range item.Allocations {
			if item.Allocations[i].ID == "" {
				item.Allocations[i].ID = ids.New()
			}
			a := item.Allocations[i]
			if _, err := tx.q.ExecContext(ctx, `
				insert into spending_allocations (id, spending_item_id, money_id, cap_amount, om_amount)
				values ($1, $2, $3, $4, $5)
			`, a.ID, item.ID, a.MoneyID, a.CapAmount, a.OMAmount); err != nil {
				return mapGraphInsertErr(err, item.FiscalYearID)
			}
		}
		for i := range item.Events {
			if item.Events[i].ID == "" {
				item.Events[i].ID = ids.New()
			}
			e := item.Events[i]
			if _, err := tx.q.ExecContext(ctx, `
				insert into spending_events (id, spending_item_id, description, amount, occurred_on)
				values ($1, $2, $3, $4, $5)
			`, e.ID, item.ID, e.Description, e.Amount, e.OccurredOn); err != nil {
				return mapGraphInsertErr(err, item.FiscalYearID)
			}
		}
		return nil
	})
}

func (s *BudgetStore) SpendingItems(ctx context.Context, fiscalYearID string) ([]budget.SpendingItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, fiscal_year_id, category_id, procurement_item_id, name, description, created_at
		from spending_items
		where fiscal_year_id = $1
		order by id
	`, fiscalYearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []budget.SpendingItem
	for rows.Next() {
		var (
			item        budget.SpendingItem
			procurement sql.NullString
			desc        sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.FiscalYearID, &item.CategoryID, &procurement, &item.Name, &desc, &item.CreatedAt); err != nil {
			return nil, err
		}
		if procurement.Valid {
			item.ProcurementItemID = procurement.String
		}
		if desc.Valid {
			item.Description = desc.String
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		allocs, err := s.moneyAllocations(ctx, `spending_item_id`, `spending_allocations`, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Allocations = allocs
		events, err := s.spendingEvents(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Events = events
	}
	return result, nil
}

func (s *BudgetStore) spendingEvents(ctx context.Context, itemID string) ([]budget.SpendingEvent, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, description, amount, occurred_on
		from spending_events
		where spending_item_id = $1
		order by id
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []budget.SpendingEvent
	for rows.Next() {
		var e budget.SpendingEvent
		if err := rows.Scan(&e.ID, &e.Description, &e.Amount, &e.OccurredOn); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BudgetStore) CreateTrainingItem(ctx context.Context, item *budget.TrainingItem) error {
	return s.inTx(ctx, func(tx *BudgetStore) error {
		if item.ID == "" {
			item.ID = ids.New()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = time.Now().UTC()
		}
		_, err := tx.q.ExecContext(ctx, `
			insert into training_items (id, fiscal_year_id, name, description, created_at)
			values ($1, $2, $3, $4, $5)
		`, item.ID, item.FiscalYearID, item.Name, nullIfEmpty(item.Description), item.CreatedAt)
		if err != nil {
			return mapGraphInsertErr(err, item.FiscalYearID)
		}
		return tx.insertOMAllocations(ctx, `training_allocations`, `training_item_id`, item.ID, item.Allocations, item.FiscalYearID)
	})
}

func (s *BudgetStore) TrainingItems(ctx context.Context, fiscalYearID string) ([]budget.TrainingItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, fiscal_year_id, name, description, created_at
		from training_items
		where fiscal_year_id = $1
		order by id
	`, fiscalYearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []budget.TrainingItem
	for rows.Next() {
		var (
			item budget.TrainingItem
			desc sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.FiscalYearID, &item.Name, &desc, &item.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			item.Description = desc.String
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		allocs, err := s.omAllocations(ctx, `training_allocations`, `training_item_id`, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Allocations = allocs
	}
	return result, nil
}

func (s *BudgetStore) CreateTravelItem(ctx context.Context, item *budget.TravelItem) error {
	return s.inTx(ctx, func(tx *BudgetStore) error {
		if item.ID == "" {
			item.ID = ids.New()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = time.Now().UTC()
		}
		_, err := tx.q.ExecContext(ctx, `
			insert into travel_items (id, fiscal_year_id, name, description, created_at)
			values ($1, $2, $3, $4, $5)
		`, item.ID, item.FiscalYearID, item.Name, nullIfEmpty(item.Description), item.CreatedAt)
		if err != nil {
			return mapGraphInsertErr(err, item.FiscalYearID)
		}
		return tx.insertOMAllocations(ctx, `travel_allocations`, `travel_item_id`, item.ID, item.Allocations, item.FiscalYearID)
	})
}

func (s *BudgetStore) TravelItems(ctx context.Context, fiscalYearID string) ([]budget.TravelItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, fiscal_year_id, name, description, created_at
		from travel_items
		where fiscal_year_id = $1
		order by id
	`, fiscalYearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []budget.TravelItem
	for rows.Next() {
		var (
			item budget.TravelItem
			desc sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.FiscalYearID, &item.Name, &desc, &item.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			item.Description = desc.String
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		allocs, err := s.omAllocations(ctx, `travel_allocations`, `travel_item_id`, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Allocations = allocs
	}
	return result, nil
}

func (s *BudgetStore) insertOMAllocations(ctx context.Context, table, parentColumn, parentID string, allocs []budget.OMAllocation, fiscalYearID string) error {
	for i := range allocs {
		if allocs[i].ID == "" {
			allocs[i].ID = ids.New()
		}
		a := allocs[i]
		if _, err := s.q.ExecContext(ctx, `
			insert into `+table+` (id, `+parentColumn+`, money_id, om_amount)
			values ($1, $2, $3, $4)
		`, a.ID, parentID, a.MoneyID, a.OMAmount); err != nil {
			return mapGraphInsertErr(err, fiscalYearID)
		}
	}
	return nil
}

func (s *BudgetStore) omAllocations(ctx context.Context, table, parentColumn, parentID string) ([]budget.OMAllocation, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, money_id, om_amount
		from `+table+`
		where `+parentColumn+` = $1
		order by id
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []budget.OMAllocation
	for rows.Next() {
		var a budget.OMAllocation
		if err := rows.Scan(&a.ID, &a.MoneyID, &a.OMAmount); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func mapGraphInsertErr(err error, fiscalYearID string) error {
	if err == nil {
		return nil
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return budget.ErrConflict
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: fiscal year %s", budget.ErrNotFound, fiscalYearID)
		}
	}
	return err
}
