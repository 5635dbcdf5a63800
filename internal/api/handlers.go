// Package api exposes the ledger over HTTP and pushes holding changes to
// WebSocket clients.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/valyalkin/piggy-backend/internal/instrument"
	"github.com/valyalkin/piggy-backend/internal/ledger"
	"github.com/valyalkin/piggy-backend/internal/model"
)

// Handler serves the /v1/stocks endpoints.
type Handler struct {
	svc    *ledger.Service
	logger *slog.Logger
}

// RealizedResponse is the body of GET /v1/stocks/pl.
type RealizedResponse struct {
	model.Key
	Total  decimal.Decimal       `json:"total"`
	Events []model.RealizedEvent `json:"events"`
}

func (r RealizedResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		model.Key
		Total  string                `json:"total"`
		Events []model.RealizedEvent `json:"events"`
	}{r.Key, model.FormatDecimal(r.Total), r.Events})
}

// NewHandler creates HTTP handlers for svc.
func NewHandler(svc *ledger.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// RecordTransaction handles POST /v1/stocks/transaction.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req ledger.Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	t, err := h.svc.RecordTransaction(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ListTransactions handles GET /v1/stocks/transactions?userId=&currency=&page=&pageSize=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ccy, ok := userAndCurrency(w, r)
	if !ok {
		return
	}
	page, err := intParam(r, "page", 0)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	size, err := intParam(r, "pageSize", 0)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.svc.Transactions(r.Context(), userID, ccy, page, size)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListHoldings handles GET /v1/stocks/holdings?userId=&currency=
func (h *Handler) ListHoldings(w http.ResponseWriter, r *http.Request) {
	userID, ccy, ok := userAndCurrency(w, r)
	if !ok {
		return
	}

	holdings, err := h.svc.Holdings(r.Context(), userID, ccy)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}
	writeJSON(w, http.StatusOK, holdings)
}

// GetHolding handles GET /v1/stocks/holding?userId=&ticker=&currency=
func (h *Handler) GetHolding(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParams(w, r)
	if !ok {
		return
	}

	holding, err := h.svc.Holding(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}

// RealizedPL handles GET /v1/stocks/pl?userId=&ticker=&currency=
// Returns the realized events and their total.
func (h *Handler) RealizedPL(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParams(w, r)
	if !ok {
		return
	}

	events, err := h.svc.RealizedEvents(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if events == nil {
		events = []model.RealizedEvent{}
	}

	total := decimal.New(0, -model.PriceScale)
	for _, e := range events {
		total = total.Add(e.Amount)
	}
	writeJSON(w, http.StatusOK, RealizedResponse{Key: key, Total: total, Events: events})
}

// fail maps a service error onto a status code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

// StatusFor maps ledger error kinds onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrDomainRule):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// --- Parameter helpers ---

func userAndCurrency(w http.ResponseWriter, r *http.Request) (string, model.Currency, bool) {
	q := r.URL.Query()
	userID := q.Get("userId")
	if userID == "" {
		writeError(w, "userId is required", http.StatusBadRequest)
		return "", "", false
	}
	ccy, err := instrument.ParseCurrency(q.Get("currency"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", "", false
	}
	return userID, ccy, true
}

func keyParams(w http.ResponseWriter, r *http.Request) (model.Key, bool) {
	q := r.URL.Query()
	key, err := instrument.ParseKey(q.Get("userId"), q.Get("ticker"), q.Get("currency"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return model.Key{}, false
	}
	return key, true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
