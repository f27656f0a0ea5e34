package budget

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"rcbudget.org/internal/audit"
)

type cloneFixture struct {
	store  *Memory
	events *audit.Memory
	trail  *audit.Service
	cloner *Cloner
	source FiscalYear
}

func newCloneFixture(t *testing.T) *cloneFixture {
	t.Helper()
	store := NewMemory()
	events := audit.NewMemory()
	trail, err := audit.NewService(events)
	if err != nil {
		t.Fatal(err)
	}
	cloner, err := NewCloner(store, trail)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	source := FiscalYear{
		CentreID: "rc-src",
		Name:     "FY 2025",
		StartsOn: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		EndsOn:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Notes:    "baseline",
	}
	if err := store.CreateFiscalYear(ctx, &source); err != nil {
		t.Fatal(err)
	}
	return &cloneFixture{store: store, events: events, trail: trail, cloner: cloner, source: source}
}

// populate fills the source year with one record of every type,
// including the cross-type procurement link and binary attachments.
func (f *cloneFixture) populate(t *testing.T) (money Money, category Category, procurement ProcurementItem) {
	t.Helper()
	ctx := context.Background()

	money = Money{FiscalYearID: f.source.ID, Code: "AB", Name: "Fund AB"}
	if err := f.store.CreateMoney(ctx, &money); err != nil {
		t.Fatal(err)
	}
	second := Money{FiscalYearID: f.source.ID, Code: "CD", Name: "Fund CD"}
	if err := f.store.CreateMoney(ctx, &second); err != nil {
		t.Fatal(err)
	}

	category = Category{FiscalYearID: f.source.ID, Name: "Compute", FundingType: true}
	if err := f.store.CreateCategory(ctx, &category); err != nil {
		t.Fatal(err)
	}
	if err := f.store.CreateSpendingCategory(ctx, &SpendingCategory{FiscalYearID: f.source.ID, Name: "Consumables"}); err != nil {
		t.Fatal(err)
	}

	procurement = ProcurementItem{
		FiscalYearID: f.source.ID,
		CategoryID:   category.ID,
		Name:         "Server order",
		Quotes: []Quote{{
			Supplier: "ACME",
			Amount:   123_45,
			Files:    []File{{Filename: "quote.pdf", ContentType: "application/pdf", Size: 3, Content: []byte{1, 2, 3}}},
		}},
		Events: []ProcurementEvent{{
			Description: "PO issued",
			OccurredOn:  time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
			Files:       []File{{Filename: "po.pdf", ContentType: "application/pdf", Size: 2, Content: []byte{9, 9}}},
		}},
	}
	if err := f.store.CreateProcurementItem(ctx, &procurement); err != nil {
		t.Fatal(err)
	}

	funding := FundingItem{
		FiscalYearID: f.source.ID,
		CategoryID:   category.ID,
		Name:         "Servers",
		Allocations:  []MoneyAllocation{{MoneyID: money.ID, CapAmount: 100_00, OMAmount: 50_00}},
	}
	if err := f.store.CreateFundingItem(ctx, &funding); err != nil {
		t.Fatal(err)
	}

	spending := SpendingItem{
		FiscalYearID:      f.source.ID,
		CategoryID:        category.ID,
		ProcurementItemID: procurement.ID,
		Name:              "Server spend",
		Allocations:       []MoneyAllocation{{MoneyID: money.ID, CapAmount: 80_00, OMAmount: 0}},
		Events:            []SpendingEvent{{Description: "invoice paid", Amount: 80_00, OccurredOn: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}},
	}
	if err := f.store.CreateSpendingItem(ctx, &spending); err != nil {
		t.Fatal(err)
	}

	training := TrainingItem{
		FiscalYearID: f.source.ID,
		Name:         "Go course",
		Allocations:  []OMAllocation{{MoneyID: second.ID, OMAmount: 20_00}},
	}
	if err := f.store.CreateTrainingItem(ctx, &training); err != nil {
		t.Fatal(err)
	}

	travel := TravelItem{
		FiscalYearID: f.source.ID,
		Name:         "Conference",
		Allocations:  []OMAllocation{{MoneyID: money.ID, OMAmount: 30_00}},
	}
	if err := f.store.CreateTravelItem(ctx, &travel); err != nil {
		t.Fatal(err)
	}
	return money, category, procurement
}

type graphDump struct {
	moneys             []Money
	categories         []Category
	spendingCategories []SpendingCategory
	fundingItems       []FundingItem
	procurementItems   []ProcurementItem
	spendingItems      []SpendingItem
	trainingItems      []TrainingItem
	travelItems        []TravelItem
}

func dumpGraph(t *testing.T, store Store, fyID string) graphDump {
	t.Helper()
	ctx := context.Background()
	var d graphDump
	var err error
	if d.moneys, err = store.Moneys(ctx, fyID); err != nil {
		t.Fatal(err)
	}
	if d.categories, err = store.Categories(ctx, fyID); err != nil {
		t.Fatal(err)
	}
	if d.spendingCategories, err = store.SpendingCategories(ctx, fyID); err != nil {
		t.Fatal(err)
	}
	if d.fundingItems, err = store.FundingItems(ctx, fyID); err != nil {
		t.Fatal(err)
	}
	if d.procurementItems, err = store.ProcurementItems(ctx, fyID); err != nil {
		t.Fatal(err)
	}
	if d.spendingItems, err = store.SpendingItems(ctx, fyID); err != nil {
		t.Fatal(err)
	}
	if d.trainingItems, err = store.TrainingItems(ctx, fyID); err != nil {
		t.Fatal(err)
	}
	if d.travelItems, err = store.TravelItems(ctx, fyID); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestCloneFiscalYearFullGraph(t *testing.T) {
	f := newCloneFixture(t)
	f.populate(t)
	ctx := context.Background()
	before := dumpGraph(t, f.store, f.source.ID)

	created, err := f.cloner.CloneFiscalYear(ctx, CloneRequest{
		SourceFiscalYearID: f.source.ID,
		TargetName:         "FY 2026",
		TargetCentreID:     "rc-dst",
		TargetCentreName:   "Target RC",
		Actor:              "vsmith",
	})
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if created.ID == f.source.ID || created.CentreID != "rc-dst" || created.Name != "FY 2026" {
		t.Fatalf("unexpected clone shell: %+v", created)
	}
	if !created.StartsOn.Equal(f.source.StartsOn) || created.Notes != f.source.Notes {
		t.Fatalf("display settings not copied: %+v", created)
	}

	after := dumpGraph(t, f.store, f.source.ID)
	if !reflect.DeepEqual(before, after) {
		t.Fatal("cloning changed the source graph")
	}

	src := before
	dst := dumpGraph(t, f.store, created.ID)
	if len(dst.moneys) != len(src.moneys) ||
		len(dst.categories) != len(src.categories) ||
		len(dst.spendingCategories) != len(src.spendingCategories) ||
		len(dst.fundingItems) != len(src.fundingItems) ||
		len(dst.procurementItems) != len(src.procurementItems) ||
		len(dst.spendingItems) != len(src.spendingItems) ||
		len(dst.trainingItems) != len(src.trainingItems) ||
		len(dst.travelItems) != len(src.travelItems) {
		t.Fatalf("per-type counts differ:\nsrc %+v\ndst %+v", src, dst)
	}

	// Every reference in the clone resolves within the clone.
	targetMoneys := map[string]bool{}
	for _, m := range dst.moneys {
		if m.ID == src.moneys[0].ID || m.ID == src.moneys[1].ID {
			t.Fatalf("money id reused from source: %s", m.ID)
		}
		targetMoneys[m.ID] = true
	}
	targetCategories := map[string]bool{}
	for _, c := range dst.categories {
		targetCategories[c.ID] = true
	}
	for _, item := range dst.fundingItems {
		if !targetCategories[item.CategoryID] {
			t.Fatalf("funding item %q references a category outside the clone", item.Name)
		}
		for _, a := range item.Allocations {
			if !targetMoneys[a.MoneyID] {
				t.Fatalf("allocation references a fund code outside the clone: %+v", a)
			}
		}
	}
	for _, item := range dst.spendingItems {
		if !targetCategories[item.CategoryID] {
			t.Fatalf("spending item %q references a category outside the clone", item.Name)
		}
		for _, a := range item.Allocations {
			if !targetMoneys[a.MoneyID] {
				t.Fatalf("allocation references a fund code outside the clone: %+v", a)
			}
		}
		if item.ProcurementItemID != dst.procurementItems[0].ID {
			t.Fatalf("procurement link not remapped: %+v", item)
		}
	}
	for _, item := range dst.trainingItems {
		for _, a := range item.Allocations {
			if !targetMoneys[a.MoneyID] {
				t.Fatalf("training allocation outside the clone: %+v", a)
			}
		}
	}
	for _, item := range dst.travelItems {
		for _, a := range item.Allocations {
			if !targetMoneys[a.MoneyID] {
				t.Fatalf("travel allocation outside the clone: %+v", a)
			}
		}
	}

	// Attachments are fresh, byte-identical blobs.
	srcQuote := src.procurementItems[0].Quotes[0]
	dstQuote := dst.procurementItems[0].Quotes[0]
	if dstQuote.ID == srcQuote.ID || dstQuote.Files[0].ID == srcQuote.Files[0].ID {
		t.Fatal("quote or file id reused from source")
	}
	if !bytes.Equal(dstQuote.Files[0].Content, srcQuote.Files[0].Content) {
		t.Fatal("file content not copied verbatim")
	}
	if dstQuote.Supplier != "ACME" || dstQuote.Amount != 123_45 {
		t.Fatalf("quote fields not copied: %+v", dstQuote)
	}

	// The clone was recorded and its trail copied.
	history, err := f.trail.ListByFiscalYear(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		// Source had no fiscal-year-scoped history, so nothing to copy.
		t.Fatalf("unexpected cloned history: %+v", history)
	}
}

// One Money AB, one Category Compute, one FundingItem "Servers" with a
// $100/$50 CAP/OM split: the clone holds a distinct "Servers" whose
// allocation references the new AB record with identical amounts.
func TestCloneFundingItemScenario(t *testing.T) {
	f := newCloneFixture(t)
	ctx := context.Background()

	money := Money{FiscalYearID: f.source.ID, Code: "AB", Name: "Fund AB"}
	if err := f.store.CreateMoney(ctx, &money); err != nil {
		t.Fatal(err)
	}
	category := Category{FiscalYearID: f.source.ID, Name: "Compute", FundingType: true}
	if err := f.store.CreateCategory(ctx, &category); err != nil {
		t.Fatal(err)
	}
	item := FundingItem{
		FiscalYearID: f.source.ID,
		CategoryID:   category.ID,
		Name:         "Servers",
		Allocations:  []MoneyAllocation{{MoneyID: money.ID, CapAmount: 100_00, OMAmount: 50_00}},
	}
	if err := f.store.CreateFundingItem(ctx, &item); err != nil {
		t.Fatal(err)
	}

	created, err := f.cloner.CloneFiscalYear(ctx, CloneRequest{
		SourceFiscalYearID: f.source.ID,
		TargetName:         "Demo-Target",
		TargetCentreID:     f.source.CentreID,
		Actor:              "vsmith",
	})
	if err != nil {
		t.Fatal(err)
	}

	moneys, _ := f.store.Moneys(ctx, created.ID)
	if len(moneys) != 1 || moneys[0].ID == money.ID || moneys[0].Code != "AB" || moneys[0].Name != "Fund AB" {
		t.Fatalf("cloned fund code wrong: %+v", moneys)
	}
	items, _ := f.store.FundingItems(ctx, created.ID)
	if len(items) != 1 || items[0].Name != "Servers" || items[0].ID == item.ID {
		t.Fatalf("cloned funding item wrong: %+v", items)
	}
	alloc := items[0].Allocations[0]
	if alloc.MoneyID != moneys[0].ID {
		t.Fatalf("allocation references %s, want new AB %s", alloc.MoneyID, moneys[0].ID)
	}
	if alloc.CapAmount != 100_00 || alloc.OMAmount != 50_00 {
		t.Fatalf("amounts not preserved: %+v", alloc)
	}
}

func TestCloneSkipsAllocationWithUnknownFundCode(t *testing.T) {
	f := newCloneFixture(t)
	ctx := context.Background()

	money := Money{FiscalYearID: f.source.ID, Code: "AB", Name: "Fund AB"}
	if err := f.store.CreateMoney(ctx, &money); err != nil {
		t.Fatal(err)
	}
	category := Category{FiscalYearID: f.source.ID, Name: "Compute"}
	if err := f.store.CreateCategory(ctx, &category); err != nil {
		t.Fatal(err)
	}
	item := FundingItem{
		FiscalYearID: f.source.ID,
		CategoryID:   category.ID,
		Name:         "Mixed",
		Allocations: []MoneyAllocation{
			{MoneyID: money.ID, CapAmount: 10_00, OMAmount: 0},
			{MoneyID: "stale-money-id", CapAmount: 99_00, OMAmount: 0},
		},
	}
	if err := f.store.CreateFundingItem(ctx, &item); err != nil {
		t.Fatal(err)
	}

	created, err := f.cloner.CloneFiscalYear(ctx, CloneRequest{
		SourceFiscalYearID: f.source.ID,
		TargetName:         "FY 2026",
		TargetCentreID:     f.source.CentreID,
		Actor:              "vsmith",
	})
	if err != nil {
		t.Fatalf("a dangling allocation must not fail the clone: %v", err)
	}
	items, _ := f.store.FundingItems(ctx, created.ID)
	if len(items) != 1 || len(items[0].Allocations) != 1 {
		t.Fatalf("expected the dangling allocation skipped, got %+v", items)
	}
	if items[0].Allocations[0].CapAmount != 10_00 {
		t.Fatalf("wrong allocation survived: %+v", items[0].Allocations)
	}
}

func TestCloneDropsUnmappableProcurementLink(t *testing.T) {
	f := newCloneFixture(t)
	ctx := context.Background()
	category := Category{FiscalYearID: f.source.ID, Name: "Compute"}
	if err := f.store.CreateCategory(ctx, &category); err != nil {
		t.Fatal(err)
	}
	item := SpendingItem{
		FiscalYearID:      f.source.ID,
		CategoryID:        category.ID,
		ProcurementItemID: "procurement-in-another-year",
		Name:              "Orphan spend",
	}
	if err := f.store.CreateSpendingItem(ctx, &item); err != nil {
		t.Fatal(err)
	}

	created, err := f.cloner.CloneFiscalYear(ctx, CloneRequest{
		SourceFiscalYearID: f.source.ID,
		TargetName:         "FY 2026",
		TargetCentreID:     f.source.CentreID,
		Actor:              "vsmith",
	})
	if err != nil {
		t.Fatal(err)
	}
	items, _ := f.store.SpendingItems(ctx, created.ID)
	if len(items) != 1 || items[0].ProcurementItemID != "" {
		t.Fatalf("expected the dangling link dropped, got %+v", items)
	}
}

func TestCloneStructuralFailureRollsBackEverything(t *testing.T) {
	f := newCloneFixture(t)
	ctx := context.Background()

	money := Money{FiscalYearID: f.source.ID, Code: "AB", Name: "Fund AB"}
	if err := f.store.CreateMoney(ctx, &money); err != nil {
		t.Fatal(err)
	}
	// A funding item whose category does not belong to the year breaks
	// the mandatory remap mid-walk.
	item := FundingItem{
		FiscalYearID: f.source.ID,
		CategoryID:   "category-from-elsewhere",
		Name:         "Broken",
	}
	if err := f.store.CreateFundingItem(ctx, &item); err != nil {
		t.Fatal(err)
	}

	_, err := f.cloner.CloneFiscalYear(ctx, CloneRequest{
		SourceFiscalYearID: f.source.ID,
		TargetName:         "FY 2026",
		TargetCentreID:     "rc-dst",
		Actor:              "vsmith",
	})
	if !errors.Is(err, ErrCrossFiscalYear) {
		t.Fatalf("want ErrCrossFiscalYear, got %v", err)
	}

	// Nothing persisted: no fiscal year under the target centre.
	years, _ := f.store.FiscalYearsByCentre(ctx, "rc-dst")
	if len(years) != 0 {
		t.Fatalf("partial clone persisted: %+v", years)
	}

	// The pre-emptive audit event resolved to failure.
	events, _ := f.trail.ListByCentre(ctx, "rc-dst")
	if len(events) != 1 || events[0].Outcome != audit.OutcomeFailure {
		t.Fatalf("expected one failed clone event, got %+v", events)
	}
}

func TestCloneRecordsPendingThenSuccess(t *testing.T) {
	f := newCloneFixture(t)
	ctx := context.Background()
	if _, err := f.cloner.CloneFiscalYear(ctx, CloneRequest{
		SourceFiscalYearID: f.source.ID,
		TargetName:         "FY 2026",
		TargetCentreID:     "rc-dst",
		TargetCentreName:   "Target RC",
		Actor:              "vsmith",
	}); err != nil {
		t.Fatal(err)
	}
	events, _ := f.trail.ListByCentre(ctx, "rc-dst")
	if len(events) != 1 {
		t.Fatalf("expected one clone event, got %+v", events)
	}
	e := events[0]
	if e.Action != "fiscal_year.clone" || e.Outcome != audit.OutcomeSuccess || e.Username != "vsmith" {
		t.Fatalf("unexpected clone event: %+v", e)
	}
	if e.EntityID != f.source.ID || e.EntityName != "FY 2025" {
		t.Fatalf("clone event does not describe the source: %+v", e)
	}
}

func TestCloneCopiesFiscalYearAuditTrail(t *testing.T) {
	f := newCloneFixture(t)
	ctx := context.Background()
	src := audit.Event{
		Username:     "vsmith",
		Action:       "money.create",
		CentreID:     "rc-src",
		FiscalYearID: f.source.ID,
		Outcome:      audit.OutcomeSuccess,
	}
	if err := f.events.Append(ctx, &src); err != nil {
		t.Fatal(err)
	}

	created, err := f.cloner.CloneFiscalYear(ctx, CloneRequest{
		SourceFiscalYearID: f.source.ID,
		TargetName:         "FY 2026",
		TargetCentreID:     "rc-dst",
		TargetCentreName:   "Target RC",
		Actor:              "vsmith",
	})
	if err != nil {
		t.Fatal(err)
	}
	history, _ := f.trail.ListByFiscalYear(ctx, created.ID)
	if len(history) != 1 || history[0].ClonedFromID != src.ID {
		t.Fatalf("fiscal-year history not cloned: %+v", history)
	}
	if history[0].CentreID != "rc-dst" || history[0].FiscalYearName != "FY 2026" {
		t.Fatalf("history not relabeled: %+v", history[0])
	}
}

func TestCloneResponsibilityCentre(t *testing.T) {
	f := newCloneFixture(t)
	ctx := context.Background()
	second := FiscalYear{CentreID: "rc-src", Name: "FY 2024"}
	if err := f.store.CreateFiscalYear(ctx, &second); err != nil {
		t.Fatal(err)
	}
	money := Money{FiscalYearID: second.ID, Code: "EF", Name: "Fund EF"}
	if err := f.store.CreateMoney(ctx, &money); err != nil {
		t.Fatal(err)
	}

	cloned, err := f.cloner.CloneResponsibilityCentre(ctx, "rc-src", "rc-dst", "Target RC", "vsmith")
	if err != nil {
		t.Fatal(err)
	}
	if len(cloned) != 2 {
		t.Fatalf("expected both fiscal years cloned, got %+v", cloned)
	}
	years, _ := f.store.FiscalYearsByCentre(ctx, "rc-dst")
	if len(years) != 2 {
		t.Fatalf("target centre has %d fiscal years", len(years))
	}
	names := map[string]bool{}
	for _, fy := range years {
		names[fy.Name] = true
	}
	if !names["FY 2025"] || !names["FY 2024"] {
		t.Fatalf("fiscal year names not carried over: %+v", years)
	}
}

func TestCloneValidatesRequest(t *testing.T) {
	f := newCloneFixture(t)
	ctx := context.Background()
	cases := []CloneRequest{
		{TargetName: "x", TargetCentreID: "rc"},
		{SourceFiscalYearID: f.source.ID, TargetCentreID: "rc"},
		{SourceFiscalYearID: f.source.ID, TargetName: "x"},
	}
	for _, req := range cases {
		req.Actor = "vsmith"
		if _, err := f.cloner.CloneFiscalYear(ctx, req); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("req %+v: want ErrInvalidInput, got %v", req, err)
		}
	}
	if _, err := f.cloner.CloneFiscalYear(ctx, CloneRequest{
		SourceFiscalYearID: "missing",
		TargetName:         "x",
		TargetCentreID:     "rc",
		Actor:              "vsmith",
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing source: want ErrNotFound, got %v", err)
	}
}
