// Package api serves the read-only report and lookup endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/report"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/storage"
)

// Store is the part of the persistence gateway the server reads from.
type Store interface {
	storage.Reader
	Ping(ctx context.Context) error
}

// Runner executes a named report.
type Runner interface {
	Run(ctx context.Context, name string) (report.Result, error)
}

// Config holds configuration for the report API server.
type Config struct {
	Address     string
	AuthEnabled bool
	APIKeys     []string // List of valid API keys.
}

// Server provides REST access to reports and stored entities.
type Server struct {
	store       Store
	reports     Runner
	metrics     http.Handler
	log         *zap.Logger
	addr        string
	authEnabled bool
	apiKeys     map[string]bool // Simple API key auth (when enabled).
}

// NewServer creates a report API server. metrics may be nil.
func NewServer(store Store, reports Runner, metrics http.Handler, log *zap.Logger, cfg Config) *Server {
	keys := make(map[string]bool)
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys[k] = true
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Address == "" {
		cfg.Address = ":8081"
	}

	return &Server{
		store:       store,
		reports:     reports,
		metrics:     metrics,
		log:         log,
		addr:        cfg.Address,
		authEnabled: cfg.AuthEnabled,
		apiKeys:     keys,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("report API listening",
			zap.String("addr", s.addr),
			zap.Bool("auth", s.authEnabled),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Router returns the configured chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required).
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.authEnabled {
				r.Use(s.authMiddleware)
			}

			r.Get("/reports", s.handleListReports)
			r.Get("/reports/{name}", s.handleReport)

			r.Get("/counts", s.handleCounts)
			r.Get("/airports/{iata}", s.handleAirport)
			r.Get("/aircraft/{registration}", s.handleAircraft)
			r.Get("/flights/{id}", s.handleFlight)
			r.Get("/delays/{airport}/{date}", s.handleDelay)
		})
	})

	return r
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates API key authentication.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check X-API-Key header first.
		apiKey := r.Header.Get("X-API-Key")

		// Fall back to Authorization: Bearer <key>.
		if apiKey == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		// Fall back to query parameter (for simple testing).
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}

		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "API key required")
			return
		}

		if !s.apiKeys[apiKey] {
			writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			resp["status"] = "unavailable"
			resp["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, report.Definitions())
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	res, err := s.reports.Run(r.Context(), name)
	if errors.Is(err, report.ErrUnknownReport) {
		writeError(w, http.StatusNotFound, "Unknown report: "+name)
		return
	}
	if err != nil {
		s.log.Error("report failed", zap.String("report", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Report failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleAirport(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "iata"))
	a, err := s.store.GetAirport(r.Context(), code)
	writeLookup(w, a, err, "No airport found")
}

func (s *Server) handleAircraft(w http.ResponseWriter, r *http.Request) {
	reg := strings.ToUpper(chi.URLParam(r, "registration"))
	a, err := s.store.GetAircraft(r.Context(), reg)
	writeLookup(w, a, err, "No aircraft found")
}

func (s *Server) handleFlight(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFlight(r.Context(), chi.URLParam(r, "id"))
	writeLookup(w, f, err, "No flight found")
}

func (s *Server) handleDelay(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "airport"))
	date, err := time.Parse("2006-01-02", chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)")
		return
	}
	d, err := s.store.GetDelayStat(r.Context(), code, date)
	writeLookup(w, d, err, "No delay statistics found")
}

// writeLookup writes a point lookup result. Getters return a nil pointer
// when nothing matches.
func writeLookup[T any](w http.ResponseWriter, v *T, err error, missing string) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, missing)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Helper functions.

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
