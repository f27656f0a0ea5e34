package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"rcbudget.org/internal/access"
	"rcbudget.org/internal/audit"
	"rcbudget.org/internal/budget"
	"rcbudget.org/internal/obs"
)

// ReadyProbe checks backing-store readiness (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps wires the HTTP layer to the domain services.
type Deps struct {
	Ready   ReadyProbe
	Version string

	Access      *access.Service
	AccessStore access.Store
	Budget      budget.Store
	Cloner      *budget.Cloner
	Trail       *audit.Service
}

// API is the HTTP layer. It stays thin: decode, authorize through the
// access service, delegate, map errors.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	access      *access.Service
	accessStore access.Store
	budget      budget.Store
	cloner      *budget.Cloner
	trail       *audit.Service
}

func New(deps Deps) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  deps.Ready,
		version:     deps.Version,
		access:      deps.Access,
		accessStore: deps.AccessStore,
		budget:      deps.Budget,
		cloner:      deps.Cloner,
		trail:       deps.Trail,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/centres", a.handleCentresCollection)
	a.mux.HandleFunc("/v1/centres/", a.handleCentreScoped)
	a.mux.HandleFunc("/v1/grants/", a.handleGrantResource)
	a.mux.HandleFunc("/v1/fiscal-years/", a.handleFiscalYearScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the instrumented root handler.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "rcbudget-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "rcbudget-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// recordAudit brackets a mutation with a pending audit event resolved
// to the action's outcome. The action error is returned unchanged; a
// failed finalize is logged, never escalated.
func (a *API) recordAudit(r *http.Request, e audit.Event, fn func() error) error {
	ctx := r.Context()
	auditID, err := a.trail.Begin(ctx, e)
	if err != nil {
		return err
	}
	actionErr := fn()
	if ferr := a.trail.Finish(ctx, auditID, actionErr); ferr != nil {
		obs.Warn("finalize audit event", map[string]any{"error": ferr.Error()})
	}
	return actionErr
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrSharedCentre):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, access.ErrAlreadyGranted),
		errors.Is(err, access.ErrLevelDiffers),
		errors.Is(err, access.ErrOwnerGrant),
		errors.Is(err, access.ErrLastOwner),
		errors.Is(err, access.ErrNoReplacementOwner),
		errors.Is(err, access.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleBudgetError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, budget.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, budget.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, budget.ErrConflict), errors.Is(err, budget.ErrCrossFiscalYear):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
