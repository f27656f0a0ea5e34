package budget

import "context"

// Store persists the fiscal-year entity graph. Items are stored and
// loaded as whole aggregates: a FundingItem carries its allocations, a
// ProcurementItem its quotes, files and events. WithinTx runs fn
// against a transactional view; the deep-clone walk executes entirely
// inside one such transaction so a failed clone persists nothing.
type Store interface {
	WithinTx(ctx context.Context, fn func(Store) error) error

	CreateFiscalYear(ctx context.Context, fy *FiscalYear) error
	FiscalYear(ctx context.Context, id string) (FiscalYear, error)
	FiscalYearsByCentre(ctx context.Context, centreID string) ([]FiscalYear, error)
	DeleteFiscalYear(ctx context.Context, id string) error

	CreateMoney(ctx context.Context, m *Money) error
	Moneys(ctx context.Context, fiscalYearID string) ([]Money, error)

	CreateCategory(ctx context.Context, c *Category) error
	Categories(ctx context.Context, fiscalYearID string) ([]Category, error)

	CreateSpendingCategory(ctx context.Context, c *SpendingCategory) error
	SpendingCategories(ctx context.Context, fiscalYearID string) ([]SpendingCategory, error)

	CreateFundingItem(ctx context.Context, item *FundingItem) error
	FundingItems(ctx context.Context, fiscalYearID string) ([]FundingItem, error)

	CreateProcurementItem(ctx context.Context, item *ProcurementItem) error
	ProcurementItems(ctx context.Context, fiscalYearID string) ([]ProcurementItem, error)

	CreateSpendingItem(ctx context.Context, item *SpendingItem) error
	SpendingItems(ctx context.Context, fiscalYearID string) ([]SpendingItem, error)

	CreateTrainingItem(ctx context.Context, item *TrainingItem) error
	TrainingItems(ctx context.Context, fiscalYearID string) ([]TrainingItem, error)

	CreateTravelItem(ctx context.Context, item *TravelItem) error
	TravelItems(ctx context.Context, fiscalYearID string) ([]TravelItem, error)
}
