package budget

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rcbudget.org/internal/ids"
)

// Memory implements Store in process. Aggregates are deep-copied on
// write and on read, so callers never share slices with stored state.
type Memory struct {
	mu    sync.Mutex
	state *bmState
}

type bmState struct {
	fiscalYears        map[string]FiscalYear
	moneys             map[string]Money
	categories         map[string]Category
	spendingCategories map[string]SpendingCategory
	fundingItems       map[string]FundingItem
	procurementItems   map[string]ProcurementItem
	spendingItems      map[string]SpendingItem
	trainingItems      map[string]TrainingItem
	travelItems        map[string]TravelItem
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: newBMState()}
}

func newBMState() *bmState {
	return &bmState{
		fiscalYears:        make(map[string]FiscalYear),
		moneys:             make(map[string]Money),
		categories:         make(map[string]Category),
		spendingCategories: make(map[string]SpendingCategory),
		fundingItems:       make(map[string]FundingItem),
		procurementItems:   make(map[string]ProcurementItem),
		spendingItems:      make(map[string]SpendingItem),
		trainingItems:      make(map[string]TrainingItem),
		travelItems:        make(map[string]TravelItem),
	}
}

// Stored aggregates are never mutated in place, so a rollback snapshot
// only needs fresh maps over the same values.
func (s *bmState) clone() *bmState {
	out := newBMState()
	for k, v := range s.fiscalYears {
		out.fiscalYears[k] = v
	}
	for k, v := range s.moneys {
		out.moneys[k] = v
	}
	for k, v := range s.categories {
		out.categories[k] = v
	}
	for k, v := range s.spendingCategories {
		out.spendingCategories[k] = v
	}
	for k, v := range s.fundingItems {
		out.fundingItems[k] = v
	}
	for k, v := range s.procurementItems {
		out.procurementItems[k] = v
	}
	for k, v := range s.spendingItems {
		out.spendingItems[k] = v
	}
	for k, v := range s.trainingItems {
		out.trainingItems[k] = v
	}
	for k, v := range s.travelItems {
		out.travelItems[k] = v
	}
	return out
}

// WithinTx serializes the callback under one lock and rolls the state
// back when it fails.
func (m *Memory) WithinTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.state.clone()
	if err := fn(&bmTx{state: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) tx() *bmTx { return &bmTx{state: m.state} }

func (m *Memory) CreateFiscalYear(ctx context.Context, fy *FiscalYear) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateFiscalYear(ctx, fy)
}

func (m *Memory) FiscalYear(ctx context.Context, id string) (FiscalYear, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().FiscalYear(ctx, id)
}

func (m *Memory) FiscalYearsByCentre(ctx context.Context, centreID string) ([]FiscalYear, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().FiscalYearsByCentre(ctx, centreID)
}

func (m *Memory) DeleteFiscalYear(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().DeleteFiscalYear(ctx, id)
}

func (m *Memory) CreateMoney(ctx context.Context, mo *Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateMoney(ctx, mo)
}

func (m *Memory) Moneys(ctx context.Context, fiscalYearID string) ([]Money, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().Moneys(ctx, fiscalYearID)
}

func (m *Memory) CreateCategory(ctx context.Context, c *Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateCategory(ctx, c)
}

func (m *Memory) Categories(ctx context.Context, fiscalYearID string) ([]Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().Categories(ctx, fiscalYearID)
}

func (m *Memory) CreateSpendingCategory(ctx context.Context, c *SpendingCategory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateSpendingCategory(ctx, c)
}

func (m *Memory) SpendingCategories(ctx context.Context, fiscalYearID string) ([]SpendingCategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().SpendingCategories(ctx, fiscalYearID)
}

func (m *Memory) CreateFundingItem(ctx context.Context, item *FundingItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateFundingItem(ctx, item)
}

func (m *Memory) FundingItems(ctx context.Context, fiscalYearID string) ([]FundingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().FundingItems(ctx, fiscalYearID)
}

func (m *Memory) CreateProcurementItem(ctx context.Context, item *ProcurementItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateProcurementItem(ctx, item)
}

func (m *Memory) ProcurementItems(ctx context.Context, fiscalYearID string) ([]ProcurementItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().ProcurementItems(ctx, fiscalYearID)
}

func (m *Memory) CreateSpendingItem(ctx context.Context, item *SpendingItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateSpendingItem(ctx, item)
}

func (m *Memory) SpendingItems(ctx context.Context, fiscalYearID string) ([]SpendingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().SpendingItems(ctx, fiscalYearID)
}

func (m *Memory) CreateTrainingItem(ctx context.Context, item *TrainingItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateTrainingItem(ctx, item)
}

func (m *Memory) TrainingItems(ctx context.Context, fiscalYearID string) ([]TrainingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().TrainingItems(ctx, fiscalYearID)
}

func (m *Memory) CreateTravelItem(ctx context.Context, item *TravelItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateTravelItem(ctx, item)
}

func (m *Memory) TravelItems(ctx context.Context, fiscalYearID string) ([]TravelItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().TravelItems(ctx, fiscalYearID)
}

// bmTx operates on shared state; the caller holds the store lock.
type bmTx struct {
	state *bmState
}

func (t *bmTx) WithinTx(ctx context.Context, fn func(Store) error) error {
	// Already inside a transaction; nest flatly.
	return fn(t)
}

func (t *bmTx) requireFiscalYear(id string) error {
	if _, ok := t.state.fiscalYears[id]; !ok {
		return fmt.Errorf("%w: fiscal year %s", ErrNotFound, id)
	}
	return nil
}

func (t *bmTx) CreateFiscalYear(ctx context.Context, fy *FiscalYear) error {
	if fy.ID == "" {
		fy.ID = ids.New()
	}
	if fy.CreatedAt.IsZero() {
		fy.CreatedAt = time.Now().UTC()
	}
	if _, ok := t.state.fiscalYears[fy.ID]; ok {
		return ErrConflict
	}
	t.state.fiscalYears[fy.ID] = *fy
	return nil
}

func (t *bmTx) FiscalYear(ctx context.Context, id string) (FiscalYear, error) {
	fy, ok := t.state.fiscalYears[id]
	if !ok {
		return FiscalYear{}, fmt.Errorf("%w: fiscal year %s", ErrNotFound, id)
	}
	return fy, nil
}

func (t *bmTx) FiscalYearsByCentre(ctx context.Context, centreID string) ([]FiscalYear, error) {
	var out []FiscalYear
	for _, fy := range t.state.fiscalYears {
		if fy.CentreID == centreID {
			out = append(out, fy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *bmTx) DeleteFiscalYear(ctx context.Context, id string) error {
	if err := t.requireFiscalYear(id); err != nil {
		return err
	}
	delete(t.state.fiscalYears, id)
	for k, v := range t.state.moneys {
		if v.FiscalYearID == id {
			delete(t.state.moneys, k)
		}
	}
	for k, v := range t.state.categories {
		if v.FiscalYearID == id {
			delete(t.state.categories, k)
		}
	}
	for k, v := range t.state.spendingCategories {
		if v.FiscalYearID == id {
			delete(t.state.spendingCategories, k)
		}
	}
	for k, v := range t.state.fundingItems {
		if v.FiscalYearID == id {
			delete(t.state.fundingItems, k)
		}
	}
	for k, v := range t.state.procurementItems {
		if v.FiscalYearID == id {
			delete(t.state.procurementItems, k)
		}
	}
	for k, v := range t.state.spendingItems {
		if v.FiscalYearID == id {
			delete(t.state.spendingItems, k)
		}
	}
	for k, v := range t.state.trainingItems {
		if v.FiscalYearID == id {
			delete(t.state.trainingItems, k)
		}
	}
	for k, v := range t.state.travelItems {
		if v.FiscalYearID == id {
			delete(t.state.travelItems, k)
		}
	}
	return nil
}

func (t *bmTx) CreateMoney(ctx context.Context, m *Money) error {
	if err := t.requireFiscalYear(m.FiscalYearID); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = ids.New()
	}
	if _, ok := t.state.moneys[m.ID]; ok {
		return ErrConflict
	}
	t.state.moneys[m.ID] = *m
	return nil
}

func (t *bmTx) Moneys(ctx context.Context, fiscalYearID string) ([]Money, error) {
	var out []Money
	for _, m := range t.state.moneys {
		if m.FiscalYearID == fiscalYearID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *bmTx) CreateCategory(ctx context.Context, c *Category) error {
	if err := t.requireFiscalYear(c.FiscalYearID); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	if _, ok := t.state.categories[c.ID]; ok {
		return ErrConflict
	}
	t.state.categories[c.ID] = *c
	return nil
}

func (t *bmTx) Categories(ctx context.Context, fiscalYearID string) ([]Category, error) {
	var out []Category
	for _, c := range t.state.categories {
		if c.FiscalYearID == fiscalYearID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *bmTx) CreateSpendingCategory(ctx context.Context, c *SpendingCategory) error {
	if err := t.requireFiscalYear(c.FiscalYearID); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	if _, ok := t.state.spendingCategories[c.ID]; ok {
		return ErrConflict
	}
	t.state.spendingCategories[c.ID] = *c
	return nil
}

func (t *bmTx) SpendingCategories(ctx context.Context, fiscalYearID string) ([]SpendingCategory, error) {
	var out []SpendingCategory
	for _, c := range t.state.spendingCategories {
		if c.FiscalYearID == fiscalYearID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *bmTx) CreateFundingItem(ctx context.Context, item *FundingItem) error {
	if err := t.requireFiscalYear(item.FiscalYearID); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = ids.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if _, ok := t.state.fundingItems[item.ID]; ok {
		return ErrConflict
	}
	item.Allocations = fillAllocationIDs(item.Allocations)
	stored := *item
	stored.Allocations = copyAllocations(item.Allocations)
	t.state.fundingItems[item.ID] = stored
	return nil
}

func (t *bmTx) FundingItems(ctx context.Context, fiscalYearID string) ([]FundingItem, error) {
	var out []FundingItem
	for _, item := range t.state.fundingItems {
		if item.FiscalYearID == fiscalYearID {
			item.Allocations = copyAllocations(item.Allocations)
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *bmTx) CreateProcurementItem(ctx context.Context, item *ProcurementItem) error {
	if err := t.requireFiscalYear(item.FiscalYearID); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = ids.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if _, ok := t.state.procurementItems[item.ID]; ok {
		return ErrConflict
	}
	item.Quotes = fillQuoteIDs(item.Quotes)
	item.Events = fillEventIDs(item.Events)
	stored := *item
	stored.Quotes = copyQuotes(item.Quotes)
	stored.Events = copyProcurementEvents(item.Events)
	t.state.procurementItems[item.ID] = stored
	return nil
}

func (t *bmTx) ProcurementItems(ctx context.Context, fiscalYearID string) ([]ProcurementItem, error) {
	var out []ProcurementItem
	for _, item := range t.state.procurementItems {
		if item.FiscalYearID == fiscalYearID {
			item.Quotes = copyQuotes(item.Quotes)
			item.Events = copyProcurementEvents(item.Events)
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *bmTx) CreateSpendingItem(ctx context.Context, item *SpendingItem) error {
	if err := t.requireFiscalYear(item.FiscalYearID); err != nil {
		return err
	}
	if item.CategoryID == "" {
		return fmt.Errorf("%w: spending item requires a category", ErrInvalidInput)
	}
	if item.ID == "" {
		item.ID = ids.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if _, ok := t.state.spendingItems[item.ID]; ok {
		return ErrConflict
	}
	item.Allocations = fillAllocationIDs(item.Allocations)
	item.Events = fillSpendingEventIDs(item.Events)
	stored := *item
	stored.Allocations = copyAllocations(item.Allocations)
	stored.Events = copySpendingEvents(item.Events)
	t.state.spendingItems[item.ID] = stored
	return nil
}

func (t *bmTx) SpendingItems(ctx context.Context, fiscalYearID string) ([]SpendingItem, error) {
	var out []SpendingItem
	for _, item := range t.state.spendingItems {
		if item.FiscalYearID == fiscalYearID {
			item.Allocations = copyAllocations(item.Allocations)
			item.Events = copySpendingEvents(item.Events)
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *bmTx) CreateTrainingItem(ctx context.Context, item *TrainingItem) error {
	if err := t.requireFiscalYear(item.FiscalYearID); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = ids.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if _, ok := t.state.trainingItems[item.ID]; ok {
		return ErrConflict
	}
	item.Allocations = fillOMAllocationIDs(item.Allocations)
	stored := *item
	stored.Allocations = copyOMAllocations(item.Allocations)
	t.state.trainingItems[item.ID] = stored
	return nil
}

func (t *bmTx) TrainingItems(ctx context.Context, fiscalYearID string) ([]TrainingItem, error) {
	var out []TrainingItem
	for _, item := range t.state.trainingItems {
		if item.FiscalYearID == fiscalYearID {
			item.Allocations = copyOMAllocations(item.Allocations)
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *bmTx) CreateTravelItem(ctx context.Context, item *TravelItem) error {
	if err := t.requireFiscalYear(item.FiscalYearID); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = ids.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if _, ok := t.state.travelItems[item.ID]; ok {
		return ErrConflict
	}
	item.Allocations = fillOMAllocationIDs(item.Allocations)
	stored := *item
	stored.Allocations = copyOMAllocations(item.Allocations)
	t.state.travelItems[item.ID] = stored
	return nil
}

func (t *bmTx) TravelItems(ctx context.Context, fiscalYearID string) ([]TravelItem, error) {
	var out []TravelItem
	for _, item := range t.state.travelItems {
		if item.FiscalYearID == fiscalYearID {
			item.Allocations = copyOMAllocations(item.Allocations)
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func copyAllocations(in []MoneyAllocation) []MoneyAllocation {
	if in == nil {
		return nil
	}
	out := make([]MoneyAllocation, len(in))
	copy(out, in)
	return out
}

func copyOMAllocations(in []OMAllocation) []OMAllocation {
	if in == nil {
		return nil
	}
	out := make([]OMAllocation, len(in))
	copy(out, in)
	return out
}

func copySpendingEvents(in []SpendingEvent) []SpendingEvent {
	if in == nil {
		return nil
	}
	out := make([]SpendingEvent, len(in))
	copy(out, in)
	return out
}

func copyFiles(in []File) []File {
	if in == nil {
		return nil
	}
	out := make([]File, len(in))
	for i, f := range in {
		f.Content = append([]byte(nil), f.Content...)
		out[i] = f
	}
	return out
}

func copyQuotes(in []Quote) []Quote {
	if in == nil {
		return nil
	}
	out := make([]Quote, len(in))
	for i, q := range in {
		q.Files = copyFiles(q.Files)
		out[i] = q
	}
	return out
}

func copyProcurementEvents(in []ProcurementEvent) []ProcurementEvent {
	if in == nil {
		return nil
	}
	out := make([]ProcurementEvent, len(in))
	for i, e := range in {
		e.Files = copyFiles(e.Files)
		out[i] = e
	}
	return out
}

func fillAllocationIDs(in []MoneyAllocation) []MoneyAllocation {
	for i := range in {
		if in[i].ID == "" {
			in[i].ID = ids.New()
		}
	}
	return in
}

func fillOMAllocationIDs(in []OMAllocation) []OMAllocation {
	for i := range in {
		if in[i].ID == "" {
			in[i].ID = ids.New()
		}
	}
	return in
}

func fillSpendingEventIDs(in []SpendingEvent) []SpendingEvent {
	for i := range in {
		if in[i].ID == "" {
			in[i].ID = ids.New()
		}
	}
	return in
}

func fillQuoteIDs(in []Quote) []Quote {
	for i := range in {
		if in[i].ID == "" {
			in[i].ID = ids.New()
		}
		for j := range in[i].Files {
			if in[i].Files[j].ID == "" {
				in[i].Files[j].ID = ids.New()
			}
		}
	}
	return in
}

func fillEventIDs(in []ProcurementEvent) []ProcurementEvent {
	for i := range in {
		if in[i].ID == "" {
			in[i].ID = ids.New()
		}
		for j := range in[i].Files {
			if in[i].Files[j].ID == "" {
				in[i].Files[j].ID = ids.New()
			}
		}
	}
	return in
}
