package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"escrowledger/internal/observability"
	"escrowledger/internal/query"
)

// HTTPServer serves the read-side JSON API, health probes and metrics.
type HTTPServer struct {
	httpServer *http.Server
	qs         *query.QueryService
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewHTTPServer(
	httpAddr string,
	qs *query.QueryService,
	checker *observability.HealthChecker,
	metrics *observability.Metrics,
) *HTTPServer {
	s := &HTTPServer{
		qs:      qs,
		metrics: metrics,
		logger:  observability.NewLogger("http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.LivenessHandler)
	mux.HandleFunc("/readyz", checker.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/v1/balance", s.instrument("balance", s.handleBalance))
	mux.HandleFunc("/v1/allowance", s.instrument("allowance", s.handleAllowance))
	mux.HandleFunc("/v1/orders", s.instrument("orders", s.handleOrders))
	mux.HandleFunc("/v1/orders/", s.instrument("order", s.handleOrder))
	mux.HandleFunc("/v1/supply", s.instrument("supply", s.handleSupply))
	mux.HandleFunc("/v1/history", s.instrument("history", s.handleHistory))
	mux.HandleFunc("/v1/integrity", s.instrument("integrity", s.handleIntegrity))

	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Serve blocks until Shutdown is called.
func (s *HTTPServer) Serve() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// instrument wraps a handler with request count / duration / error metrics.
func (s *HTTPServer) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
		h(w, r)
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("encode response")
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *HTTPServer) writeError(w http.ResponseWriter, endpoint string, status int, msg string) {
	s.metrics.QueryErrors.WithLabelValues(endpoint).Inc()
	s.writeJSON(w, status, errorBody{Error: msg})
}

// GET /v1/balance?account=<uuid>&asset=<symbol>
func (s *HTTPServer) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "balance", http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account, err := uuid.Parse(r.URL.Query().Get("account"))
	if err != nil {
		s.writeError(w, "balance", http.StatusBadRequest, "invalid account")
		return
	}
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		s.writeError(w, "balance", http.StatusBadRequest, "asset is required")
		return
	}

	resp, err := s.qs.GetBalance(r.Context(), account, asset)
	if err != nil {
		s.logger.Error().Err(err).Msg("get balance")
		s.writeError(w, "balance", http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// GET /v1/allowance?owner=<uuid>&spender=<uuid>&asset=<symbol>
func (s *HTTPServer) handleAllowance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "allowance", http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	owner, err := uuid.Parse(r.URL.Query().Get("owner"))
	if err != nil {
		s.writeError(w, "allowance", http.StatusBadRequest, "invalid owner")
		return
	}
	spender, err := uuid.Parse(r.URL.Query().Get("spender"))
	if err != nil {
		s.writeError(w, "allowance", http.StatusBadRequest, "invalid spender")
		return
	}
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		s.writeError(w, "allowance", http.StatusBadRequest, "asset is required")
		return
	}

	resp, err := s.qs.GetAllowance(r.Context(), owner, spender, asset)
	if err != nil {
		s.logger.Error().Err(err).Msg("get allowance")
		s.writeError(w, "allowance", http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// GET /v1/orders?owner=<uuid>&limit=<n>&after=<id> — open orders, id-cursor paging.
func (s *HTTPServer) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "orders", http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var owner *uuid.UUID
	if raw := r.URL.Query().Get("owner"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			s.writeError(w, "orders", http.StatusBadRequest, "invalid owner")
			return
		}
		owner = &parsed
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			s.writeError(w, "orders", http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		limit = parsed
	}

	var afterID *uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, "orders", http.StatusBadRequest, "invalid after cursor")
			return
		}
		afterID = &parsed
	}

	orders, err := s.qs.ListOpenOrders(r.Context(), owner, limit, afterID)
	if err != nil {
		s.logger.Error().Err(err).Msg("list orders")
		s.writeError(w, "orders", http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// GET /v1/orders/{id}
func (s *HTTPServer) handleOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "order", http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.writeError(w, "order", http.StatusBadRequest, "invalid order id")
		return
	}

	resp, err := s.qs.GetOrder(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Msg("get order")
		s.writeError(w, "order", http.StatusInternalServerError, "query failed")
		return
	}
	if resp == nil {
		s.writeError(w, "order", http.StatusNotFound, "order not found")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// GET /v1/supply?asset=<symbol>
func (s *HTTPServer) handleSupply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "supply", http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		s.writeError(w, "supply", http.StatusBadRequest, "asset is required")
		return
	}

	resp, err := s.qs.GetTotalSupply(r.Context(), asset)
	if err != nil {
		s.logger.Error().Err(err).Msg("get supply")
		s.writeError(w, "supply", http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// GET /v1/history?limit=<n>&after=<sequence> — newest first, sequence cursor.
func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "history", http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			s.writeError(w, "history", http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		limit = parsed
	}

	var afterSeq *int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, "history", http.StatusBadRequest, "invalid after cursor")
			return
		}
		afterSeq = &parsed
	}

	entries, err := s.qs.GetCommandHistory(r.Context(), limit, afterSeq)
	if err != nil {
		s.logger.Error().Err(err).Msg("get history")
		s.writeError(w, "history", http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"commands": entries})
}

// GET /v1/integrity — walks the persisted hash chain looking for breaks.
func (s *HTTPServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "integrity", http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	report, err := s.qs.VerifyIntegrity(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("verify integrity")
		s.writeError(w, "integrity", http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}
