package budget

import "time"

// FiscalYear is a dated budget period scoped to one responsibility
// centre. It owns the full record graph below; every child references
// entities of the same fiscal year only.
type FiscalYear struct {
	ID        string    `json:"id"`
	CentreID  string    `json:"centre_id"`
	Name      string    `json:"name"`
	StartsOn  time.Time `json:"starts_on"`
	EndsOn    time.Time `json:"ends_on"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Money is a fund-code definition referenced by allocations.
type Money struct {
	ID           string `json:"id"`
	FiscalYearID string `json:"fiscal_year_id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
}

// Category classifies funding, procurement and spending items.
// FundingType restricts which allocation kinds apply to items filed
// under it.
type Category struct {
	ID           string `json:"id"`
	FiscalYearID string `json:"fiscal_year_id"`
	Name         string `json:"name"`
	FundingType  bool   `json:"funding_type"`
}

// SpendingCategory is an independent classification axis for spending
// reports. Nothing else in the graph references it.
type SpendingCategory struct {
	ID           string `json:"id"`
	FiscalYearID string `json:"fiscal_year_id"`
	Name         string `json:"name"`
}

// File is an attached binary, stored and copied as an opaque blob.
type File struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Description string `json:"description,omitempty"`
	Content     []byte `json:"-"`
}

// Amounts throughout are integer minor units (cents). No floats.

// MoneyAllocation splits a funding item's amount across a fund code as
// capital and O&M portions.
type MoneyAllocation struct {
	ID        string `json:"id"`
	MoneyID   string `json:"money_id"`
	CapAmount int64  `json:"cap_amount"`
	OMAmount  int64  `json:"om_amount"`
}

// FundingItem is a planned funding line under a category.
type FundingItem struct {
	ID           string            `json:"id"`
	FiscalYearID string            `json:"fiscal_year_id"`
	CategoryID   string            `json:"category_id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Allocations  []MoneyAllocation `json:"allocations"`
}

// Quote is a supplier quote attached to a procurement item.
type Quote struct {
	ID       string `json:"id"`
	Supplier string `json:"supplier"`
	Amount   int64  `json:"amount"`
	Notes    string `json:"notes,omitempty"`
	Files    []File `json:"files,omitempty"`
}

// ProcurementEvent is a dated milestone on a procurement item.
type ProcurementEvent struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	OccurredOn  time.Time `json:"occurred_on"`
	Files       []File    `json:"files,omitempty"`
}

// ProcurementItem tracks one purchase through quotes and events.
type ProcurementItem struct {
	ID           string             `json:"id"`
	FiscalYearID string             `json:"fiscal_year_id"`
	CategoryID   string             `json:"category_id"`
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	Quotes       []Quote            `json:"quotes,omitempty"`
	Events       []ProcurementEvent `json:"events,omitempty"`
}

// SpendingEvent is a leaf record on a spending item, copied as-is apart
// from the parent reference.
type SpendingEvent struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"`
	OccurredOn  time.Time `json:"occurred_on"`
}

// SpendingItem records actual spending. CategoryID is mandatory.
// ProcurementItemID optionally links the spend to the purchase it
// settles; the link always stays within the item's fiscal year.
type SpendingItem struct {
	ID                string            `json:"id"`
	FiscalYearID      string            `json:"fiscal_year_id"`
	CategoryID        string            `json:"category_id"`
	ProcurementItemID string            `json:"procurement_item_id,omitempty"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	Allocations       []MoneyAllocation `json:"allocations"`
	Events            []SpendingEvent   `json:"events,omitempty"`
}

// OMAllocation assigns an O&M-only amount to a fund code. Training and
// travel items carry no capital portion.
type OMAllocation struct {
	ID       string `json:"id"`
	MoneyID  string `json:"money_id"`
	OMAmount int64  `json:"om_amount"`
}

// TrainingItem is a planned training expense.
type TrainingItem struct {
	ID           string         `json:"id"`
	FiscalYearID string         `json:"fiscal_year_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	Allocations  []OMAllocation `json:"allocations"`
}

// TravelItem is a planned travel expense.
type TravelItem struct {
	ID           string         `json:"id"`
	FiscalYearID string         `json:"fiscal_year_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	Allocations  []OMAllocation `json:"allocations"`
}
