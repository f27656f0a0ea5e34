package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"rcbudget.org/internal/access"
	"rcbudget.org/internal/audit"
	"rcbudget.org/internal/ids"
)

type createCentreRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createGrantRequest struct {
	Identifier    string `json:"identifier"`
	Level         string `json:"level"`
	PrincipalType string `json:"principal_type"`
	DisplayName   string `json:"display_name"`
}

type updateGrantRequest struct {
	Level string `json:"level"`
}

type effectiveLevelResponse struct {
	Level     string `json:"level,omitempty"`
	HasAccess bool   `json:"has_access"`
}

func (a *API) handleCentresCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listCentres(w, r)
	case http.MethodPost:
		a.createCentre(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCentreScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/centres/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	centreID := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getCentre(w, r, centreID)
		return
	}
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch parts[1] {
	case "grants":
		a.handleCentreGrants(w, r, centreID)
	case "access":
		a.getEffectiveLevel(w, r, centreID)
	case "relinquish":
		a.relinquishOwnership(w, r, centreID)
	case "fiscal-years":
		a.handleCentreFiscalYears(w, r, centreID)
	case "clone":
		a.cloneCentre(w, r, centreID)
	case "audit":
		a.listCentreAudit(w, r, centreID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listCentres(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.session(r); !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	centres, err := a.accessStore.ListCentres(r.Context())
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": centres})
}

// createCentre registers a new responsibility centre with the caller as
// owner of record, materializing a local account if none exists yet.
func (a *API) createCentre(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req createCentreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	var centre access.ResponsibilityCentre
	err := a.accessStore.WithinTx(r.Context(), func(tx access.Store) error {
		owner, err := tx.UserByUsername(r.Context(), sess.Username)
		if err != nil {
			if !isNotFound(err) {
				return err
			}
			owner = access.User{
				ID:          ids.New(),
				Username:    sess.Username,
				DisplayName: sess.Username,
			}
			if err := tx.CreateUser(r.Context(), &owner); err != nil {
				return err
			}
		}
		centre = access.ResponsibilityCentre{
			ID:          ids.New(),
			Name:        strings.TrimSpace(req.Name),
			Description: strings.TrimSpace(req.Description),
			OwnerID:     owner.ID,
		}
		return tx.CreateCentre(r.Context(), &centre)
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "centre.create", map[string]any{
		"centre_id": centre.ID,
		"name":      centre.Name,
	})
	w.Header().Set("Location", "/v1/centres/"+centre.ID)
	writeJSON(w, http.StatusCreated, centre)
}

func (a *API) getCentre(w http.ResponseWriter, r *http.Request, centreID string) {
	sess, ok := a.session(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	centre, err := a.accessStore.Centre(r.Context(), centreID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	level, has, err := a.access.EffectiveLevel(r.Context(), centreID, sess)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	if !has {
		writeError(w, r, http.StatusForbidden, "no access to this centre")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"centre": centre,
		"level":  level,
	})
}

func (a *API) handleCentreGrants(w http.ResponseWriter, r *http.Request, centreID string) {
	switch r.Method {
	case http.MethodGet:
		a.listGrants(w, r, centreID)
	case http.MethodPost:
		a.createGrant(w, r, centreID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listGrants(w http.ResponseWriter, r *http.Request, centreID string) {
	if !a.requireLevel(w, r, centreID, func(l access.Level) bool { return l.IsOwner() }) {
		return
	}
	grants, err := a.accessStore.Grants(r.Context(), centreID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": grants})
}

func (a *API) createGrant(w http.ResponseWriter, r *http.Request, centreID string) {
	sess, ok := a.session(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req createGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	level := access.Level(strings.TrimSpace(req.Level))
	ptype := access.PrincipalType(strings.TrimSpace(req.PrincipalType))

	var grant access.Grant
	err := a.recordAudit(r, audit.Event{
		Username:   sess.Username,
		Action:     "access.grant.create",
		EntityType: "grant",
		EntityName: strings.TrimSpace(req.Identifier),
		CentreID:   centreID,
	}, func() error {
		var gerr error
		if ptype == "" || ptype == access.PrincipalUser {
			grant, gerr = a.access.GrantUserAccess(r.Context(), centreID, sess, req.Identifier, level)
		} else {
			grant, gerr = a.access.GrantGroupAccess(r.Context(), centreID, sess, req.Identifier, req.DisplayName, ptype, level)
		}
		return gerr
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/grants/"+grant.ID)
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) handleGrantResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/grants/")
	path = strings.Trim(path, "/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	grantID := path
	sess, ok := a.session(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	// Resolve the grant first so audit events carry the centre.
	grant, err := a.accessStore.Grant(r.Context(), grantID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req updateGrantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		err := a.recordAudit(r, audit.Event{
			Username:   sess.Username,
			Action:     "access.grant.update",
			EntityType: "grant",
			EntityID:   grant.ID,
			CentreID:   grant.CentreID,
		}, func() error {
			return a.access.UpdatePermission(r.Context(), grantID, sess, access.Level(strings.TrimSpace(req.Level)))
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		err := a.recordAudit(r, audit.Event{
			Username:   sess.Username,
			Action:     "access.grant.revoke",
			EntityType: "grant",
			EntityID:   grant.ID,
			CentreID:   grant.CentreID,
		}, func() error {
			return a.access.RevokeAccess(r.Context(), grantID, sess)
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) getEffectiveLevel(w http.ResponseWriter, r *http.Request, centreID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sess, ok := a.session(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	level, has, err := a.access.EffectiveLevel(r.Context(), centreID, sess)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	resp := effectiveLevelResponse{HasAccess: has}
	if has {
		resp.Level = string(level)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) relinquishOwnership(w http.ResponseWriter, r *http.Request, centreID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := a.session(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	err := a.recordAudit(r, audit.Event{
		Username:   sess.Username,
		Action:     "access.ownership.relinquish",
		EntityType: "centre",
		EntityID:   centreID,
		CentreID:   centreID,
	}, func() error {
		return a.access.RelinquishOwnership(r.Context(), centreID, sess)
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listCentreAudit(w http.ResponseWriter, r *http.Request, centreID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requireLevel(w, r, centreID, func(l access.Level) bool { return true }) {
		return
	}
	events, err := a.trail.ListByCentre(r.Context(), centreID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

// requireLevel resolves the caller's effective level on the centre and
// rejects the request unless ok(level) holds.
func (a *API) requireLevel(w http.ResponseWriter, r *http.Request, centreID string, okLevel func(access.Level) bool) bool {
	sess, ok := a.session(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	level, has, err := a.access.EffectiveLevel(r.Context(), centreID, sess)
	if err != nil {
		handleAccessError(w, r, err)
		return false
	}
	if !has || !okLevel(level) {
		writeError(w, r, http.StatusForbidden, fmt.Sprintf("insufficient access to centre %s", centreID))
		return false
	}
	return true
}

func isNotFound(err error) bool {
	return errors.Is(err, access.ErrNotFound)
}
