package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"cafepass/core/state"
	"cafepass/native/codes"
	"cafepass/native/directory"
	"cafepass/native/loyalty"
	"cafepass/observability/metrics"
	"cafepass/services/cafepassd/audit"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	ShutdownGrace time.Duration
	RateLimit     RateLimit
}

// Server hosts the registry, ledger and directory endpoints for cafepassd.
type Server struct {
	cfg       Config
	codes     *codes.Registry
	ledger    *loyalty.Ledger
	directory *directory.Registry
	history   *audit.Store
	logger    *slog.Logger
	limiter   *RateLimiter
	metrics   *metrics.CafepassMetrics

	router http.Handler
}

// New constructs a configured HTTP server. The audit store may be nil when
// event history is disabled.
func New(cfg Config, codeRegistry *codes.Registry, ledger *loyalty.Ledger, cafes *directory.Registry, history *audit.Store, logger *slog.Logger) (*Server, error) {
	if codeRegistry == nil {
		return nil, fmt.Errorf("code registry required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("loyalty ledger required")
	}
	if cafes == nil {
		return nil, fmt.Errorf("directory registry required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	srv := &Server{
		cfg:       cfg,
		codes:     codeRegistry,
		ledger:    ledger,
		directory: cafes,
		history:   history,
		logger:    logger,
		limiter:   NewRateLimiter(cfg.RateLimit, logger),
		metrics:   metrics.Cafepass(),
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Method(http.MethodGet, "/healthz", otelhttp.NewHandler(http.HandlerFunc(s.handleHealth), "cafepassd.health"))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(writes chi.Router) {
			writes.Use(s.limiter.Middleware())
			writes.Method(http.MethodPost, "/codes/issue", otelhttp.NewHandler(http.HandlerFunc(s.handleIssueCode), "cafepassd.codes.issue"))
			writes.Method(http.MethodPost, "/codes/retire", otelhttp.NewHandler(http.HandlerFunc(s.handleRetireCode), "cafepassd.codes.retire"))
			writes.Method(http.MethodPost, "/loyalty/enroll", otelhttp.NewHandler(http.HandlerFunc(s.handleEnroll), "cafepassd.loyalty.enroll"))
			writes.Method(http.MethodPost, "/loyalty/adjust", otelhttp.NewHandler(http.HandlerFunc(s.handleAdjust), "cafepassd.loyalty.adjust"))
			writes.Method(http.MethodPut, "/directory/{slug}", otelhttp.NewHandler(http.HandlerFunc(s.handleUpsertCafe), "cafepassd.directory.upsert"))
		})
		api.Method(http.MethodGet, "/codes/{code}", otelhttp.NewHandler(http.HandlerFunc(s.handleResolveCode), "cafepassd.codes.resolve"))
		api.Method(http.MethodGet, "/loyalty/balance", otelhttp.NewHandler(http.HandlerFunc(s.handleBalance), "cafepassd.loyalty.balance"))
		api.Method(http.MethodGet, "/directory", otelhttp.NewHandler(http.HandlerFunc(s.handleListCafes), "cafepassd.directory.list"))
		api.Method(http.MethodGet, "/directory/{slug}", otelhttp.NewHandler(http.HandlerFunc(s.handleGetCafe), "cafepassd.directory.get"))
		api.Method(http.MethodGet, "/audit/recent", otelhttp.NewHandler(http.HandlerFunc(s.handleAuditRecent), "cafepassd.audit.recent"))
	})

	return r
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{Addr: s.cfg.ListenAddress, Handler: s.router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	code, err := s.codes.IssueCode(r.Context(), req.Identity)
	if err != nil {
		s.writeCodeError(w, r, err)
		return
	}
	s.refreshActiveGauge()
	writeJSON(w, http.StatusOK, map[string]string{"identity": strings.TrimSpace(req.Identity), "code": code})
}

func (s *Server) handleRetireCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := s.codes.RetireCode(r.Context(), req.Identity); err != nil {
		s.writeCodeError(w, r, err)
		return
	}
	s.refreshActiveGauge()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolveCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	identity, err := s.codes.ResolveIdentity(r.Context(), code)
	if err != nil {
		s.metrics.ObserveCodeResolved("miss")
		s.writeCodeError(w, r, err)
		return
	}
	s.metrics.ObserveCodeResolved("hit")
	writeJSON(w, http.StatusOK, map[string]string{"identity": identity, "code": strings.TrimSpace(code)})
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Merchant string `json:"merchant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := s.ledger.Enroll(r.Context(), req.Identity, req.Merchant); err != nil {
		s.writeLoyaltyError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Merchant string `json:"merchant"`
		Delta    int64  `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	balance, err := s.ledger.ApplyDelta(r.Context(), req.Identity, req.Merchant, req.Delta)
	if err != nil {
		s.metrics.ObserveAdjustment("error")
		s.writeLoyaltyError(w, r, err)
		return
	}
	s.metrics.ObserveAdjustment("applied")
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	merchant := r.URL.Query().Get("merchant")
	balance, err := s.ledger.GetBalance(r.Context(), identity, merchant)
	if err != nil {
		s.writeLoyaltyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (s *Server) handleUpsertCafe(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var req struct {
		Name    string   `json:"name"`
		Address string   `json:"address"`
		Tags    []string `json:"tags"`
		Closed  bool     `json:"closed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	record, err := s.directory.Upsert(r.Context(), directory.Cafe{
		Slug:    slug,
		Name:    req.Name,
		Address: req.Address,
		Tags:    req.Tags,
		Closed:  req.Closed,
	})
	if err != nil {
		s.writeDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetCafe(w http.ResponseWriter, r *http.Request) {
	record, err := s.directory.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.writeDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListCafes(w http.ResponseWriter, r *http.Request) {
	records, err := s.directory.List(r.Context())
	if err != nil {
		s.writeDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cafes": records})
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "audit history disabled")
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	entries, err := s.history.Recent(r.Context(), r.URL.Query().Get("identity"), limit)
	if err != nil {
		s.logger.Error("audit query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) writeCodeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, codes.ErrInvalidIdentity), errors.Is(err, codes.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, codes.ErrCodeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, codes.ErrRegistryExhausted):
		writeError(w, http.StatusInsufficientStorage, err.Error())
	case errors.Is(err, codes.ErrConflict):
		s.metrics.ObserveCASConflict("codes")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("code registry error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeLoyaltyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, loyalty.ErrInvalidIdentity), errors.Is(err, loyalty.ErrInvalidMerchant):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, loyalty.ErrAccountNotFound):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, loyalty.ErrConflict):
		s.metrics.ObserveCASConflict("loyalty")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("loyalty ledger error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeDirectoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, directory.ErrInvalidSlug), errors.Is(err, directory.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, directory.ErrCafeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, state.ErrConflict):
		writeError(w, http.StatusServiceUnavailable, "temporary write contention, retry")
	default:
		s.logger.Error("directory error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) refreshActiveGauge() {
	count, err := s.codes.ActiveCount()
	if err != nil {
		return
	}
	s.metrics.SetActiveCodes(float64(count))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
