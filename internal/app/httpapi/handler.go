// Package httpapi exposes the form service over REST plus a WebSocket
// event stream per session.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	app "github.com/paydeck/formflow/internal/app"
	"github.com/paydeck/formflow/internal/app/services/session"
	pipeerrors "github.com/paydeck/formflow/internal/errors"
	"github.com/paydeck/formflow/internal/form/feequote"
	"github.com/paydeck/formflow/internal/middleware"
	"github.com/paydeck/formflow/pkg/logger"
)

// handler bundles the HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// Options configures the router.
type Options struct {
	RateLimitRPS   int
	RateLimitBurst int
}

// NewHandler returns a router exposing the form service REST API.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	r.HandleFunc("/catalog/categories", h.listCategories).Methods(http.MethodGet)
	r.HandleFunc("/catalog/categories/{code}/providers", h.listProviders).Methods(http.MethodGet)
	r.HandleFunc("/catalog/providers/{code}/packages", h.listPackages).Methods(http.MethodGet)

	r.HandleFunc("/sessions", h.createSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", h.getSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", h.closeSession).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/events", h.sessionEvents).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/stream", h.streamSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/category", h.selectCategory).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/provider", h.selectProvider).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/package", h.selectPackage).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/reset", h.resetSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/submit", h.submit).Methods(http.MethodPost)

	r.HandleFunc("/audit/permissive", h.permissiveSubmissions).Methods(http.MethodGet)

	// The free-text field endpoints carry per-session rate limiting: they
	// are the ones a fast typist hammers.
	limiter := middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, log)
	fields := r.PathPrefix("/sessions/{id}").Subrouter()
	fields.Use(limiter.Handler)
	fields.HandleFunc("/identifier", h.setIdentifier).Methods(http.MethodPut)
	fields.HandleFunc("/amount", h.setAmount).Methods(http.MethodPut)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.app.Catalog.ListCategories(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *handler) listProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.app.Catalog.ListProviders(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (h *handler) listPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.app.Catalog.ListPackages(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, packages)
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Direction string `json:"direction"`
		Source    string `json:"source"`
		Balance   string `json:"balance"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	params := session.CreateParams{
		Direction: feequote.ParseDirection(payload.Direction),
		Source:    payload.Source,
	}
	if payload.Balance != "" {
		balance, err := decimal.NewFromString(payload.Balance)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("balance %q: %w", payload.Balance, err))
			return
		}
		params.Balance = &balance
	}

	s := h.app.Sessions.Create(params)
	writeJSON(w, http.StatusCreated, s.View())
}

func (h *handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := mux.Vars(r)["id"]
	s, ok := h.app.Sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("session %s not found", id))
		return nil, false
	}
	return s, true
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		writeJSON(w, http.StatusOK, s.View())
	}
}

func (h *handler) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Sessions.Close(mux.Vars(r)["id"]); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) sessionEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, h.app.Events.RecentBySession(s.ID(), limit))
}

type codePayload struct {
	Code string `json:"code"`
}

type valuePayload struct {
	Value string `json:"value"`
}

func (h *handler) selectCategory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload codePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.SelectCategory(r.Context(), payload.Code); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *handler) selectProvider(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload codePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.SelectProvider(r.Context(), payload.Code); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *handler) selectPackage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload codePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.SelectPackage(payload.Code); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *handler) setIdentifier(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload valuePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.SetIdentifier(payload.Value)
	writeJSON(w, http.StatusOK, s.View())
}

func (h *handler) setAmount(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload valuePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.SetAmount(payload.Value)
	writeJSON(w, http.StatusOK, s.View())
}

func (h *handler) resetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Reset()
	writeJSON(w, http.StatusOK, s.View())
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	receipt, err := s.Submit(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *handler) permissiveSubmissions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := h.app.Audit.ListPermissiveSubmissions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// statusFor maps typed pipeline errors onto HTTP statuses.
func statusFor(err error) int {
	switch pipeerrors.KindOf(err) {
	case pipeerrors.KindTransport, pipeerrors.KindCatalog, pipeerrors.KindSubmission:
		return http.StatusBadGateway
	case pipeerrors.KindValidationRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(io.LimitReader(body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
