package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/valyalkin/piggy-backend/internal/api"
	"github.com/valyalkin/piggy-backend/internal/ledger"
	"github.com/valyalkin/piggy-backend/internal/model"
	"github.com/valyalkin/piggy-backend/internal/store"
)

// newTestRouter creates a router over an in-memory store.
func newTestRouter(t *testing.T) (chi.Router, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := ledger.NewService(ms)
	return api.NewRouter(api.NewHandler(svc, nil), nil, ms), ms
}

func post(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/v1/stocks/transaction", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func txBody(kind, date string, qty int64, price string) string {
	return fmt.Sprintf(`{"user_id":"test","ticker":"AAPL","currency":"USD","date":%q,"transaction_type":%q,"quantity":%d,"price":%s}`,
		date, kind, qty, price)
}

// --- POST /v1/stocks/transaction ---

func TestRecordTransaction_Created(t *testing.T) {
	router, _ := newTestRouter(t)

	w := post(t, router, txBody("BUY", "2023-10-10T10:10:10Z", 10, "100.5"))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp model.Transaction
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == "" {
		t.Error("expected id in response")
	}
	if resp.Kind != model.Buy || resp.Quantity != 10 || model.FormatDecimal(resp.Price) != "100.50" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestRecordTransaction_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"user_id":`, http.StatusBadRequest},
		{"unknown field", `{"user_id":"test","side":"YES"}`, http.StatusBadRequest},
		{"fractional quantity", `{"user_id":"test","ticker":"AAPL","currency":"USD","date":"2023-10-10T10:10:10Z","transaction_type":"BUY","quantity":1.5,"price":1}`, http.StatusBadRequest},
		{"zero quantity", txBody("BUY", "2023-10-10T10:10:10Z", 0, "1"), http.StatusBadRequest},
		{"zero price", txBody("BUY", "2023-10-10T10:10:10Z", 1, "0"), http.StatusBadRequest},
		{"first sell", txBody("SELL", "2023-10-10T10:10:10Z", 1, "1"), http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router, _ := newTestRouter(t)
			w := post(t, router, tc.body)
			if w.Code != tc.status {
				t.Errorf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			var body map[string]string
			json.NewDecoder(w.Body).Decode(&body)
			if body["error"] == "" {
				t.Error("expected error message in body")
			}
		})
	}
}

func TestRecordTransaction_SellTooMuch(t *testing.T) {
	router, ms := newTestRouter(t)
	post(t, router, txBody("BUY", "2023-10-10T10:10:10Z", 10, "75"))

	w := post(t, router, txBody("SELL", "2023-10-11T10:10:10Z", 30, "100"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	key := model.Key{UserID: "test", Ticker: "AAPL", Currency: model.USD}
	h, _ := ms.GetHolding(context.Background(), key)
	if h == nil || h.Quantity != 10 {
		t.Errorf("holding must be unchanged, got %+v", h)
	}
}

// --- Queries ---

func TestGetHolding(t *testing.T) {
	router, _ := newTestRouter(t)

	w := get(t, router, "/v1/stocks/holding?userId=test&ticker=AAPL&currency=USD")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any transaction, got %d", w.Code)
	}

	post(t, router, txBody("BUY", "2023-10-10T10:10:10Z", 10, "100"))
	post(t, router, txBody("BUY", "2023-10-11T10:10:10Z", 5, "90"))

	w = get(t, router, "/v1/stocks/holding?userId=test&ticker=aapl&currency=usd")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var h model.Holding
	json.NewDecoder(w.Body).Decode(&h)
	if h.Quantity != 15 || model.FormatDecimal(h.AverageCost) != "96.66" {
		t.Errorf("expected 15 @ 96.66, got %d @ %s", h.Quantity, h.AverageCost)
	}
}

func TestGetHolding_BadParams(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, path := range []string{
		"/v1/stocks/holding?ticker=AAPL&currency=USD",
		"/v1/stocks/holding?userId=test&ticker=AA%20PL&currency=USD",
		"/v1/stocks/holding?userId=test&ticker=AAPL&currency=EUR",
	} {
		if w := get(t, router, path); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestListHoldings(t *testing.T) {
	router, _ := newTestRouter(t)

	w := get(t, router, "/v1/stocks/holdings?userId=test&currency=USD")
	if w.Code != http.StatusOK || bytes.TrimSpace(w.Body.Bytes())[0] != '[' {
		t.Fatalf("expected empty JSON array, got %d %s", w.Code, w.Body.String())
	}

	post(t, router, txBody("BUY", "2023-10-10T10:10:10Z", 10, "100"))
	w = get(t, router, "/v1/stocks/holdings?userId=test&currency=USD")
	var holdings []model.Holding
	json.NewDecoder(w.Body).Decode(&holdings)
	if len(holdings) != 1 || holdings[0].Ticker != "AAPL" {
		t.Errorf("unexpected holdings %+v", holdings)
	}
}

func TestRealizedPL(t *testing.T) {
	router, _ := newTestRouter(t)
	post(t, router, txBody("BUY", "2023-10-10T10:10:10Z", 10, "80"))
	post(t, router, txBody("SELL", "2023-10-11T10:10:10Z", 4, "100.5"))
	post(t, router, txBody("SELL", "2023-10-12T10:10:10Z", 6, "70"))

	w := get(t, router, "/v1/stocks/pl?userId=test&ticker=AAPL&currency=USD")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.RealizedResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 4 * 20.50 - 6 * 10.00
	if len(resp.Events) != 2 || model.FormatDecimal(resp.Total) != "22.00" {
		t.Errorf("expected 2 events totalling 22.00, got %d events, total %s", len(resp.Events), resp.Total)
	}
}

func TestListTransactions(t *testing.T) {
	router, _ := newTestRouter(t)
	post(t, router, txBody("BUY", "2023-10-10T10:10:10Z", 1, "10"))
	post(t, router, txBody("BUY", "2023-10-11T10:10:10Z", 2, "10"))
	post(t, router, txBody("BUY", "2023-10-12T10:10:10Z", 3, "10"))

	w := get(t, router, "/v1/stocks/transactions?userId=test&currency=USD&page=0&pageSize=2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var page model.Page[model.Transaction]
	json.NewDecoder(w.Body).Decode(&page)
	if page.Total != 3 || len(page.Items) != 2 || page.Items[0].Quantity != 3 {
		t.Errorf("unexpected page %+v", page)
	}

	if w := get(t, router, "/v1/stocks/transactions?userId=test&currency=USD&page=-1"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative page, got %d", w.Code)
	}
}

// --- Health and status mapping ---

type downStore struct{ *store.MemoryStore }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	if w := get(t, router, "/health"); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	ds := downStore{store.NewMemoryStore()}
	down := api.NewRouter(api.NewHandler(ledger.NewService(ds), nil), nil, ds)
	if w := get(t, down, "/health"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: bad", model.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: bad", model.ErrDomainRule), http.StatusBadRequest},
		{fmt.Errorf("%w: none", model.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: two rows", model.ErrInvariant), http.StatusInternalServerError},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := api.StatusFor(tc.err); got != tc.status {
			t.Errorf("StatusFor(%v) = %d, want %d", tc.err, got, tc.status)
		}
	}
}
