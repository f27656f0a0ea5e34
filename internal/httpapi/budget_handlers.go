package httpapi

import (
	"net/http"
	"strings"
	"time"

	"rcbudget.org/internal/access"
	"rcbudget.org/internal/audit"
	"rcbudget.org/internal/budget"
	"rcbudget.org/internal/ids"
)

type createFiscalYearRequest struct {
	Name     string    `json:"name"`
	StartsOn time.Time `json:"starts_on"`
	EndsOn   time.Time `json:"ends_on"`
	Notes    string    `json:"notes"`
}

type cloneFiscalYearRequest struct {
	TargetName     string `json:"target_name"`
	TargetCentreID string `json:"target_centre_id"`
}

type cloneCentreRequest struct {
	TargetCentreID string `json:"target_centre_id"`
}

func (a *API) handleCentreFiscalYears(w http.ResponseWriter, r *http.Request, centreID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.requireLevel(w, r, centreID, func(l access.Level) bool { return true }) {
			return
		}
		years, err := a.budget.FiscalYearsByCentre(r.Context(), centreID)
		if err != nil {
			handleBudgetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": years})
	case http.MethodPost:
		a.createFiscalYear(w, r, centreID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createFiscalYear(w http.ResponseWriter, r *http.Request, centreID string) {
	if !a.requireLevel(w, r, centreID, access.Level.CanEdit) {
		return
	}
	var req createFiscalYearRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	fy := budget.FiscalYear{
		ID:       ids.New(),
		CentreID: centreID,
		Name:     strings.TrimSpace(req.Name),
		StartsOn: req.StartsOn,
		EndsOn:   req.EndsOn,
		Notes:    strings.TrimSpace(req.Notes),
	}
	if err := a.budget.CreateFiscalYear(r.Context(), &fy); err != nil {
		handleBudgetError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "fiscal_year.create", map[string]any{
		"centre_id":      centreID,
		"fiscal_year_id": fy.ID,
		"name":           fy.Name,
	})
	w.Header().Set("Location", "/v1/fiscal-years/"+fy.ID)
	writeJSON(w, http.StatusCreated, fy)
}

func (a *API) handleFiscalYearScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/fiscal-years/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	fyID := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getFiscalYear(w, r, fyID)
		return
	}
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch parts[1] {
	case "clone":
		a.cloneFiscalYear(w, r, fyID)
	case "audit":
		a.listFiscalYearAudit(w, r, fyID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getFiscalYear(w http.ResponseWriter, r *http.Request, fyID string) {
	fy, err := a.budget.FiscalYear(r.Context(), fyID)
	if err != nil {
		handleBudgetError(w, r, err)
		return
	}
	if !a.requireLevel(w, r, fy.CentreID, func(l access.Level) bool { return true }) {
		return
	}
	writeJSON(w, http.StatusOK, fy)
}

// cloneFiscalYear deep-copies one fiscal year. The target centre
// defaults to the source's own centre; cloning into another centre
// needs write access there too.
func (a *API) cloneFiscalYear(w http.ResponseWriter, r *http.Request, fyID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := a.session(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req cloneFiscalYearRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	source, err := a.budget.FiscalYear(r.Context(), fyID)
	if err != nil {
		handleBudgetError(w, r, err)
		return
	}
	targetCentreID := strings.TrimSpace(req.TargetCentreID)
	if targetCentreID == "" {
		targetCentreID = source.CentreID
	}
	if !a.requireLevel(w, r, source.CentreID, func(l access.Level) bool { return true }) {
		return
	}
	if !a.requireLevel(w, r, targetCentreID, access.Level.CanEdit) {
		return
	}
	targetCentre, err := a.accessStore.Centre(r.Context(), targetCentreID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	created, err := a.cloner.CloneFiscalYear(r.Context(), budget.CloneRequest{
		SourceFiscalYearID: source.ID,
		TargetName:         req.TargetName,
		TargetCentreID:     targetCentre.ID,
		TargetCentreName:   targetCentre.Name,
		Actor:              sess.Username,
	})
	if err != nil {
		handleBudgetError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/fiscal-years/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

// cloneCentre copies every fiscal year of the source centre into the
// target centre, year by year.
func (a *API) cloneCentre(w http.ResponseWriter, r *http.Request, centreID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := a.session(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req cloneCentreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	targetCentreID := strings.TrimSpace(req.TargetCentreID)
	if targetCentreID == "" {
		writeError(w, r, http.StatusBadRequest, "target_centre_id is required")
		return
	}
	if !a.requireLevel(w, r, centreID, func(l access.Level) bool { return true }) {
		return
	}
	if !a.requireLevel(w, r, targetCentreID, access.Level.CanEdit) {
		return
	}
	targetCentre, err := a.accessStore.Centre(r.Context(), targetCentreID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	cloned, err := a.cloner.CloneResponsibilityCentre(r.Context(), centreID, targetCentre.ID, targetCentre.Name, sess.Username)
	if err != nil {
		handleBudgetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": cloned})
}

func (a *API) listFiscalYearAudit(w http.ResponseWriter, r *http.Request, fyID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	fy, err := a.budget.FiscalYear(r.Context(), fyID)
	if err != nil {
		handleBudgetError(w, r, err)
		return
	}
	if !a.requireLevel(w, r, fy.CentreID, func(l access.Level) bool { return true }) {
		return
	}
	events, err := a.trail.ListByFiscalYear(r.Context(), fyID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}
