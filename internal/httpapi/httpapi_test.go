package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/predictionmkt/engine/internal/balance"
	"github.com/predictionmkt/engine/internal/dispatcher"
	"github.com/predictionmkt/engine/internal/executor"
	"github.com/predictionmkt/engine/internal/marketstore"
	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/money"
	"github.com/predictionmkt/engine/internal/positionstore"
	"github.com/predictionmkt/engine/internal/ratelimit"
	"github.com/predictionmkt/engine/internal/store"

	"github.com/shopspring/decimal"
)

func newTestService(t *testing.T, limiter *ratelimit.Limiter) (*Service, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()

	if err := s.SaveMarketState(context.Background(), &model.MarketState{
		MarketID:     "m1",
		YesShares:    decimal.NewFromInt(0),
		NoShares:     decimal.NewFromInt(0),
		LiquidityB:   decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromFloat(0.5),
		Status:       model.MarketOpen,
	}); err != nil {
		t.Fatalf("seed market: %v", err)
	}

	ledg := s
	bal := balance.NewService(ledg)
	bal.Observe("u1", money.MustOf("1000"))

	markets := marketstore.New(s)
	positions := positionstore.New(s)
	disp := dispatcher.New(context.Background())

	exec := executor.NewService(s, markets, positions, ledg, bal, disp, nil)

	svc := NewService(exec, markets, limiter, []string{"/health", "/metrics"}, nil)
	return svc, s
}

func TestExecuteOrder_Success(t *testing.T) {
	svc, _ := newTestService(t, nil)
	body, _ := json.Marshal(OrderRequest{UserID: "u1", MarketID: "m1", Outcome: "YES", Quantity: 10})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var order model.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &order); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if order.Status != model.OrderFilled {
		t.Fatalf("expected FILLED, got %s", order.Status)
	}
}

func TestExecuteOrder_InvalidBody(t *testing.T) {
	svc, _ := newTestService(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestExecuteOrder_MarketNotFound(t *testing.T) {
	svc, _ := newTestService(t, nil)
	body, _ := json.Marshal(OrderRequest{UserID: "u1", MarketID: "missing", Outcome: "YES", Quantity: 10})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetPrice(t *testing.T) {
	svc, _ := newTestService(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/markets/m1/price", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimitMiddleware_RejectsOverCapacity(t *testing.T) {
	limiter := ratelimit.New(1, 0.001)
	svc, _ := newTestService(t, limiter)

	body, _ := json.Marshal(OrderRequest{UserID: "u1", MarketID: "m1", Outcome: "YES", Quantity: 1})

	first := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	first.Header.Set("X-User-Id", "u1")
	rec1 := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec1, first)
	if rec1.Code == http.StatusTooManyRequests {
		t.Fatalf("first request should not be rate limited")
	}

	second := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	second.Header.Set("X-User-Id", "u1")
	rec2 := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec2, second)

	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec2.Code)
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if rec2.Header().Get("X-RateLimit-Identifier") != "user:u1" {
		t.Fatalf("expected identifier header, got %q", rec2.Header().Get("X-RateLimit-Identifier"))
	}

	var payload map[string]any
	if err := json.Unmarshal(rec2.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode 429 body: %v", err)
	}
	if payload["error"] != "Rate limit exceeded" {
		t.Fatalf("unexpected error body: %v", payload)
	}
}

func TestRateLimitMiddleware_ExemptsHealthEndpoint(t *testing.T) {
	limiter := ratelimit.New(1, 0.001)
	svc, _ := newTestService(t, limiter)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		svc.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected /health to stay exempt, got %d on iteration %d", rec.Code, i)
		}
	}
}

func TestPrincipalIdentifier_PrefersXForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	got := principalIdentifier(req)
	if got != "ip:203.0.113.5" {
		t.Fatalf("expected ip:203.0.113.5, got %s", got)
	}
}
