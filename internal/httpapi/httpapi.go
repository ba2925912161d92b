// Package httpapi is the HTTP boundary layer: chi router, request
// decoding/validation-error surfacing, the rate-limit middleware
// described in spec.md §6, and handlers that translate HTTP requests
// into internal/executor.Service calls. Generalized from the teacher's
// internal/trade.Service handler set (chi.URLParam, writeError,
// Content-Type/status conventions) off the weather-contract domain and
// onto model.Order.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/predictionmkt/engine/internal/apperr"
	"github.com/predictionmkt/engine/internal/executor"
	"github.com/predictionmkt/engine/internal/marketstore"
	"github.com/predictionmkt/engine/internal/metrics"
	"github.com/predictionmkt/engine/internal/ratelimit"
)

// wsHandler is the subset of internal/wsfeed.Hub the router needs. Kept
// as an interface so httpapi doesn't force every caller to construct a
// Hub just to build a router in tests.
type wsHandler interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
}

// Service wires the HTTP boundary to the trade-execution core.
type Service struct {
	executor *executor.Service
	markets  *marketstore.Store
	limiter  *ratelimit.Limiter
	exempt   []string
	ws       wsHandler
}

// NewService constructs the HTTP boundary, in the teacher's
// constructor-injection style (trade.NewService). exemptPrefixes are
// path prefixes that skip rate limiting entirely (e.g. "/health",
// "/metrics"), matching spec.md §6's "exempt configured prefixes". ws
// may be nil, in which case GET /api/v1/ws is not registered.
func NewService(exec *executor.Service, markets *marketstore.Store, limiter *ratelimit.Limiter, exemptPrefixes []string, ws wsHandler) *Service {
	return &Service{executor: exec, markets: markets, limiter: limiter, exempt: exemptPrefixes, ws: ws}
}

// Router builds the chi router. Mirrors the teacher's cmd/server/main.go
// route table shape (versioned prefix, chi/middleware stack).
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(s.rateLimitMiddleware)

	r.Get("/health", s.Health)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", s.ExecuteOrder)
		r.Post("/orders/{orderID}/cancel", s.CancelOrder)
		r.Get("/markets/{marketID}/price", s.GetPrice)
		if s.ws != nil {
			r.Get("/ws", s.ws.HandleWS)
		}
	})

	return r
}

// --- Rate-limit middleware (spec.md §6) ---

func (s *Service) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || s.exemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identifier := principalIdentifier(r)
		kind := "user"
		if strings.HasPrefix(identifier, "ip:") {
			kind = "ip"
		}

		if !s.limiter.TryAcquire(identifier) {
			metrics.RateLimitRejections.WithLabelValues(kind).Inc()
			retryAfter := s.limiter.RetryAfterSeconds(identifier)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Identifier", identifier)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error":      "Rate limit exceeded",
				"identifier": identifier,
				"retryAfter": retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Service) exemptPath(path string) bool {
	for _, prefix := range s.exempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// principalIdentifier keys the rate limiter on "user:<id>" if
// authenticated, else "ip:<addr>", taking the first element of
// X-Forwarded-For when present, per spec.md §6.
func principalIdentifier(r *http.Request) string {
	if userID := r.Header.Get("X-User-Id"); userID != "" {
		return "user:" + userID
	}

	addr := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		addr = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return "ip:" + addr
}

// --- Handlers ---

// Health handles GET /health.
func (s *Service) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// OrderRequest is the JSON body for POST /api/v1/orders.
type OrderRequest struct {
	UserID      string `json:"user_id"`
	MarketID    string `json:"market_id"`
	Outcome     string `json:"outcome"`
	Quantity    int64  `json:"quantity"`
	ClientNonce string `json:"client_nonce,omitempty"`
}

// ExecuteOrder handles POST /api/v1/orders.
func (s *Service) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.executor.ExecuteMarketOrder(r.Context(), executor.Request{
		UserID:      req.UserID,
		MarketID:    req.MarketID,
		Outcome:     req.Outcome,
		Quantity:    req.Quantity,
		ClientNonce: req.ClientNonce,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// CancelOrder handles POST /api/v1/orders/{orderID}/cancel.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get("X-User-Id")
	}

	order, err := s.executor.Cancel(r.Context(), orderID, userID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.markets.GetMarketOrLoad(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to load market", http.StatusInternalServerError)
		return
	}
	if market == nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	noPrice := decimal.NewFromInt(1).Sub(market.CurrentPrice)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"yes": market.CurrentPrice.String(),
		"no":  noPrice.String(),
	})
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeAppError maps an apperr.Kind onto the status code spec.md §7
// prescribes: 4xx with a machine-readable reason for validation/market/
// balance rejections, 5xx only for unexpected execution failure.
func writeAppError(w http.ResponseWriter, err error) {
	kind, ok := apperr.KindOf(err)
	if !ok {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindValidationFailed, apperr.KindInvalidAmount, apperr.KindArithmeticError:
		status = http.StatusBadRequest
	case apperr.KindMarketNotFound, apperr.KindOrderNotFound:
		status = http.StatusNotFound
	case apperr.KindMarketClosed, apperr.KindInsufficientFunds, apperr.KindIllegalTransition,
		apperr.KindNotActive, apperr.KindRaceLost, apperr.KindDuplicateNonce:
		status = http.StatusConflict
	case apperr.KindNotAuthorized:
		status = http.StatusForbidden
	case apperr.KindRateLimited:
		status = http.StatusTooManyRequests
	case apperr.KindExecutionFailed, apperr.KindPersistenceError:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"kind":  string(kind),
	})
}
