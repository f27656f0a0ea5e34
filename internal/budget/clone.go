package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rcbudget.org/internal/audit"
	"rcbudget.org/internal/ids"
	"rcbudget.org/internal/obs"
)

// Cloner duplicates a fiscal year's entity graph into a fully
// independent copy. The structural walk runs inside one store
// transaction: any failure rolls the whole clone back. The audit trail
// is copied after that transaction commits and is best-effort per
// event.
type Cloner struct {
	store Store
	trail *audit.Service
}

// NewCloner constructs the deep-clone orchestrator.
func NewCloner(store Store, trail *audit.Service) (*Cloner, error) {
	if store == nil {
		return nil, errors.New("budget store is required")
	}
	if trail == nil {
		return nil, errors.New("audit service is required")
	}
	return &Cloner{store: store, trail: trail}, nil
}

// CloneRequest describes one fiscal-year clone. The target centre may
// be the source's own centre (same-RC duplication) or another one.
type CloneRequest struct {
	SourceFiscalYearID string
	TargetName         string
	TargetCentreID     string
	TargetCentreName   string
	Actor              string
}

func (r CloneRequest) validate() error {
	if strings.TrimSpace(r.SourceFiscalYearID) == "" {
		return fmt.Errorf("%w: source fiscal year is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.TargetName) == "" {
		return fmt.Errorf("%w: target name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.TargetCentreID) == "" {
		return fmt.Errorf("%w: target centre is required", ErrInvalidInput)
	}
	return nil
}

// remap is the transient old-id to new-id lookup built per entity type
// during one clone call and discarded after. Never persisted.
type remap map[string]string

// CloneFiscalYear copies the source year's whole graph into a new
// fiscal year under the target centre.
//
// Stages run in dependency order: the year shell, then the leaf types
// (moneys, categories, spending categories), then procurement items
// with their nested quotes, events and files, then the types that
// reference earlier stages (funding, spending, training, travel),
// rewriting every reference through the remaps. An allocation whose
// fund code has no remap entry is skipped and logged; a missing
// category is a structural fault and aborts the clone.
func (c *Cloner) CloneFiscalYear(ctx context.Context, req CloneRequest) (FiscalYear, error) {
	if err := req.validate(); err != nil {
		return FiscalYear{}, err
	}
	source, err := c.store.FiscalYear(ctx, req.SourceFiscalYearID)
	if err != nil {
		return FiscalYear{}, err
	}

	auditID, err := c.trail.Begin(ctx, audit.Event{
		Username:   req.Actor,
		Action:     "fiscal_year.clone",
		EntityType: "fiscal_year",
		EntityID:   source.ID,
		EntityName: source.Name,
		CentreID:   req.TargetCentreID,
		CentreName: req.TargetCentreName,
	})
	if err != nil {
		return FiscalYear{}, err
	}

	var created FiscalYear
	err = c.store.WithinTx(ctx, func(tx Store) error {
		var werr error
		created, werr = c.cloneGraph(ctx, tx, source, req)
		return werr
	})
	if ferr := c.trail.Finish(ctx, auditID, err); ferr != nil {
		obs.Warn("finalize clone audit event", map[string]any{"error": ferr.Error()})
	}
	if err != nil {
		obs.CloneFinished("failure")
		return FiscalYear{}, err
	}
	obs.CloneFinished("success")

	c.trail.CloneForFiscalYear(ctx, source.ID, audit.Target{
		CentreID:       req.TargetCentreID,
		CentreName:     req.TargetCentreName,
		FiscalYearID:   created.ID,
		FiscalYearName: created.Name,
	})
	return created, nil
}

// CloneResponsibilityCentre clones every fiscal year of the source
// centre into the target centre, then copies the centre-scoped audit
// history. Each year clones atomically on its own; a failure stops the
// run and reports which year broke.
func (c *Cloner) CloneResponsibilityCentre(ctx context.Context, sourceCentreID, targetCentreID, targetCentreName, actor string) ([]FiscalYear, error) {
	years, err := c.store.FiscalYearsByCentre(ctx, sourceCentreID)
	if err != nil {
		return nil, err
	}
	cloned := make([]FiscalYear, 0, len(years))
	for _, fy := range years {
		created, err := c.CloneFiscalYear(ctx, CloneRequest{
			SourceFiscalYearID: fy.ID,
			TargetName:         fy.Name,
			TargetCentreID:     targetCentreID,
			TargetCentreName:   targetCentreName,
			Actor:              actor,
		})
		if err != nil {
			return cloned, fmt.Errorf("clone fiscal year %q: %w", fy.Name, err)
		}
		cloned = append(cloned, created)
	}
	c.trail.CloneForCentre(ctx, sourceCentreID, audit.Target{
		CentreID:   targetCentreID,
		CentreName: targetCentreName,
	})
	return cloned, nil
}

func (c *Cloner) cloneGraph(ctx context.Context, tx Store, source FiscalYear, req CloneRequest) (FiscalYear, error) {
	target := FiscalYear{
		ID:       ids.New(),
		CentreID: req.TargetCentreID,
		Name:     strings.TrimSpace(req.TargetName),
		StartsOn: source.StartsOn,
		EndsOn:   source.EndsOn,
		Notes:    source.Notes,
	}
	if err := tx.CreateFiscalYear(ctx, &target); err != nil {
		return FiscalYear{}, fmt.Errorf("create fiscal year shell: %w", err)
	}

	moneys, err := c.cloneMoneys(ctx, tx, source.ID, target.ID)
	if err != nil {
		return FiscalYear{}, err
	}
	categories, err := c.cloneCategories(ctx, tx, source.ID, target.ID)
	if err != nil {
		return FiscalYear{}, err
	}
	if err := c.cloneSpendingCategories(ctx, tx, source.ID, target.ID); err != nil {
		return FiscalYear{}, err
	}
	procurements, err := c.cloneProcurementItems(ctx, tx, source.ID, target.ID, categories)
	if err != nil {
		return FiscalYear{}, err
	}
	if err := c.cloneFundingItems(ctx, tx, source.ID, target.ID, categories, moneys); err != nil {
		return FiscalYear{}, err
	}
	if err := c.cloneSpendingItems(ctx, tx, source.ID, target.ID, categories, procurements, moneys); err != nil {
		return FiscalYear{}, err
	}
	if err := c.cloneTrainingItems(ctx, tx, source.ID, target.ID, moneys); err != nil {
		return FiscalYear{}, err
	}
	if err := c.cloneTravelItems(ctx, tx, source.ID, target.ID, moneys); err != nil {
		return FiscalYear{}, err
	}
	return target, nil
}

func (c *Cloner) cloneMoneys(ctx context.Context, tx Store, sourceFY, targetFY string) (remap, error) {
	moneys, err := tx.Moneys(ctx, sourceFY)
	if err != nil {
		return nil, err
	}
	m := make(remap, len(moneys))
	for _, src := range moneys {
		cloned := src
		cloned.ID = ids.New()
		cloned.FiscalYearID = targetFY
		if err := tx.CreateMoney(ctx, &cloned); err != nil {
			return nil, fmt.Errorf("clone money %q: %w", src.Code, err)
		}
		m[src.ID] = cloned.ID
	}
	return m, nil
}

func (c *Cloner) cloneCategories(ctx context.Context, tx Store, sourceFY, targetFY string) (remap, error) {
	categories, err := tx.Categories(ctx, sourceFY)
	if err != nil {
		return nil, err
	}
	m := make(remap, len(categories))
	for _, src := range categories {
		cloned := src
		cloned.ID = ids.New()
		cloned.FiscalYearID = targetFY
		if err := tx.CreateCategory(ctx, &cloned); err != nil {
			return nil, fmt.Errorf("clone category %q: %w", src.Name, err)
		}
		m[src.ID] = cloned.ID
	}
	return m, nil
}

func (c *Cloner) cloneSpendingCategories(ctx context.Context, tx Store, sourceFY, targetFY string) error {
	categories, err := tx.SpendingCategories(ctx, sourceFY)
	if err != nil {
		return err
	}
	for _, src := range categories {
		cloned := src
		cloned.ID = ids.New()
		cloned.FiscalYearID = targetFY
		if err := tx.CreateSpendingCategory(ctx, &cloned); err != nil {
			return fmt.Errorf("clone spending category %q: %w", src.Name, err)
		}
	}
	return nil
}

func (c *Cloner) cloneProcurementItems(ctx context.Context, tx Store, sourceFY, targetFY string, categories remap) (remap, error) {
	items, err := tx.ProcurementItems(ctx, sourceFY)
	if err != nil {
		return nil, err
	}
	m := make(remap, len(items))
	for _, src := range items {
		categoryID, err := mapCategory(src.CategoryID, categories)
		if err != nil {
			return nil, fmt.Errorf("procurement item %q: %w", src.Name, err)
		}
		cloned := src
		cloned.ID = ids.New()
		cloned.FiscalYearID = targetFY
		cloned.CategoryID = categoryID
		cloned.Quotes = cloneQuotes(src.Quotes)
		cloned.Events = cloneProcurementEventRecords(src.Events)
		if err := tx.CreateProcurementItem(ctx, &cloned); err != nil {
			return nil, fmt.Errorf("clone procurement item %q: %w", src.Name, err)
		}
		m[src.ID] = cloned.ID
	}
	return m, nil
}

func (c *Cloner) cloneFundingItems(ctx context.Context, tx Store, sourceFY, targetFY string, categories, moneys remap) error {
	items, err := tx.FundingItems(ctx, sourceFY)
	if err != nil {
		return err
	}
	for _, src := range items {
		categoryID, err := mapCategory(src.CategoryID, categories)
		if err != nil {
			return fmt.Errorf("funding item %q: %w", src.Name, err)
		}
		cloned := src
		cloned.ID = ids.New()
		cloned.FiscalYearID = targetFY
		cloned.CategoryID = categoryID
		cloned.Allocations = c.remapAllocations(src.Allocations, moneys, "funding_item", src.Name)
		if err := tx.CreateFundingItem(ctx, &cloned); err != nil {
			return fmt.Errorf("clone funding item %q: %w", src.Name, err)
		}
	}
	return nil
}

func (c *Cloner) cloneSpendingItems(ctx context.Context, tx Store, sourceFY, targetFY string, categories, procurements, moneys remap) error {
	items, err := tx.SpendingItems(ctx, sourceFY)
	if err != nil {
		return err
	}
	for _, src := range items {
		categoryID, err := mapCategory(src.CategoryID, categories)
		if err != nil {
			return fmt.Errorf("spending item %q: %w", src.Name, err)
		}
		cloned := src
		cloned.ID = ids.New()
		cloned.FiscalYearID = targetFY
		cloned.CategoryID = categoryID
		cloned.ProcurementItemID = ""
		if src.ProcurementItemID != "" {
			if mapped, ok := procurements[src.ProcurementItemID]; ok {
				cloned.ProcurementItemID = mapped
			} else {
				// Dropping the link beats pointing at the source year.
				obs.Warn("clone: procurement link dropped", map[string]any{
					"spending_item":       src.Name,
					"procurement_item_id": src.ProcurementItemID,
				})
			}
		}
		cloned.Allocations = c.remapAllocations(src.Allocations, moneys, "spending_item", src.Name)
		cloned.Events = cloneSpendingEventRecords(src.Events)
		if err := tx.CreateSpendingItem(ctx, &cloned); err != nil {
			return fmt.Errorf("clone spending item %q: %w", src.Name, err)
		}
	}
	return nil
}

func (c *Cloner) cloneTrainingItems(ctx context.Context, tx Store, sourceFY, targetFY string, moneys remap) error {
	items, err := tx.TrainingItems(ctx, sourceFY)
	if err != nil {
		return err
	}
	for _, src := range items {
		cloned := src
		cloned.ID = ids.New()
		cloned.FiscalYearID = targetFY
		cloned.Allocations = c.remapOMAllocations(src.Allocations, moneys, "training_item", src.Name)
		if err := tx.CreateTrainingItem(ctx, &cloned); err != nil {
			return fmt.Errorf("clone training item %q: %w", src.Name, err)
		}
	}
	return nil
}

func (c *Cloner) cloneTravelItems(ctx context.Context, tx Store, sourceFY, targetFY string, moneys remap) error {
	items, err := tx.TravelItems(ctx, sourceFY)
	if err != nil {
		return err
	}
	for _, src := range items {
		cloned := src
		cloned.ID = ids.New()
		cloned.FiscalYearID = targetFY
		cloned.Allocations = c.remapOMAllocations(src.Allocations, moneys, "travel_item", src.Name)
		if err := tx.CreateTravelItem(ctx, &cloned); err != nil {
			return fmt.Errorf("clone travel item %q: %w", src.Name, err)
		}
	}
	return nil
}

// remapAllocations rewrites fund-code references through the money
// remap. An allocation whose fund code is missing from the remap is
// additive financial detail, not structure: it is skipped and logged
// instead of failing the clone.
func (c *Cloner) remapAllocations(in []MoneyAllocation, moneys remap, itemType, itemName string) []MoneyAllocation {
	out := make([]MoneyAllocation, 0, len(in))
	for _, a := range in {
		mapped, ok := moneys[a.MoneyID]
		if !ok {
			c.skipAllocation(itemType, itemName, a.MoneyID)
			continue
		}
		a.ID = ids.New()
		a.MoneyID = mapped
		out = append(out, a)
	}
	return out
}

func (c *Cloner) remapOMAllocations(in []OMAllocation, moneys remap, itemType, itemName string) []OMAllocation {
	out := make([]OMAllocation, 0, len(in))
	for _, a := range in {
		mapped, ok := moneys[a.MoneyID]
		if !ok {
			c.skipAllocation(itemType, itemName, a.MoneyID)
			continue
		}
		a.ID = ids.New()
		a.MoneyID = mapped
		out = append(out, a)
	}
	return out
}

func (c *Cloner) skipAllocation(itemType, itemName, moneyID string) {
	obs.Warn("clone: allocation skipped, fund code not in remap", map[string]any{
		"item_type": itemType,
		"item_name": itemName,
		"money_id":  moneyID,
	})
	obs.CloneAllocationSkipped()
}

// mapCategory rewrites a mandatory category reference. Categories clone
// unconditionally before anything references them, so a miss means the
// source graph itself is inconsistent.
func mapCategory(categoryID string, categories remap) (string, error) {
	if categoryID == "" {
		return "", nil
	}
	mapped, ok := categories[categoryID]
	if !ok {
		return "", fmt.Errorf("%w: category %s", ErrCrossFiscalYear, categoryID)
	}
	return mapped, nil
}

func cloneQuotes(in []Quote) []Quote {
	out := make([]Quote, 0, len(in))
	for _, q := range in {
		q.ID = ids.New()
		q.Files = cloneFiles(q.Files)
		out = append(out, q)
	}
	return out
}

func cloneProcurementEventRecords(in []ProcurementEvent) []ProcurementEvent {
	out := make([]ProcurementEvent, 0, len(in))
	for _, e := range in {
		e.ID = ids.New()
		e.Files = cloneFiles(e.Files)
		out = append(out, e)
	}
	return out
}

func cloneSpendingEventRecords(in []SpendingEvent) []SpendingEvent {
	out := make([]SpendingEvent, 0, len(in))
	for _, e := range in {
		e.ID = ids.New()
		out = append(out, e)
	}
	return out
}

// cloneFiles copies attachment blobs verbatim under fresh ids.
func cloneFiles(in []File) []File {
	out := make([]File, 0, len(in))
	for _, f := range in {
		f.ID = ids.New()
		f.Content = append([]byte(nil), f.Content...)
		out = append(out, f)
	}
	return out
}
