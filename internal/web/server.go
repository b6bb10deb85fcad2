// Package web serves the CSV import API.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/shopcsv/internal/config"
	"github.com/JonMunkholm/shopcsv/internal/ingest"
	"github.com/JonMunkholm/shopcsv/internal/metrics"
	"github.com/JonMunkholm/shopcsv/internal/shop"
	mw "github.com/JonMunkholm/shopcsv/internal/web/middleware"
)

// Server is the HTTP front of the import engine.
type Server struct {
	cfg      *config.Config
	store    shop.Store
	importer *ingest.Importer
	limiter  *ingest.Limiter
	metrics  *metrics.Imports
	registry *prometheus.Registry
	router   *chi.Mux
	server   *http.Server
}

// NewServer wires the import API around store.
func NewServer(store shop.Store, cfg *config.Config) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		cfg:      cfg,
		store:    store,
		importer: ingest.NewImporter(store, ingest.WithMaxFileSize(cfg.Upload.MaxFileSize)),
		limiter:  ingest.NewLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		metrics:  metrics.NewImports(reg),
		registry: reg,
		router:   chi.NewRouter(),
	}
	metrics.RegisterLimiter(reg, s.limiter)

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		s.router.Use(newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	uploads := []func(http.Handler) http.Handler{
		mw.APIKeyAuth(s.cfg.Security.RequireAPIKey, s.cfg.Security.APIKeys),
	}
	if s.cfg.Rate.Enabled {
		uploads = append(uploads, newRateLimiter(s.cfg.Rate.UploadLimit, time.Minute).middleware)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", s.handleListProducts)
			r.Get("/download_csv", s.handleDownloadProductsCSV)
			r.With(uploads...).Post("/upload_csv", s.handleUploadProducts)
		})
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.handleListOrders)
			r.Get("/export", s.handleExportOrders)
			r.With(uploads...).Post("/upload_csv", s.handleUploadOrders)
		})
		r.Get("/users/{userID}/orders/export", s.handleExportUserOrders)
	})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown waits for running imports to finish, then stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if st := s.limiter.Status(); st.Active > 0 {
		slog.Info("waiting for imports to complete", "active", st.Active)
		if err := s.limiter.WaitForDrain(ctx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		}
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uploads": s.limiter.Status(),
	})
}

// securityHeaders sets hardening headers on every response.
func securityHeaders(csp bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			if csp {
				h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter allows rate requests per window for each client address,
// refilling the whole allowance when the window elapses.
type rateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*window
	rate     int
	interval time.Duration
	now      func() time.Time
}

type window struct {
	remaining int
	start     time.Time
}

func newRateLimiter(rate int, interval time.Duration) *rateLimiter {
	return &rateLimiter{
		clients:  make(map[string]*window),
		rate:     rate,
		interval: interval,
		now:      time.Now,
	}
}

// allow consumes one request for client. Stale entries are pruned lazily.
func (rl *rateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if len(rl.clients) > 1024 {
		for k, w := range rl.clients {
			if now.Sub(w.start) > 2*rl.interval {
				delete(rl.clients, k)
			}
		}
	}

	w, ok := rl.clients[client]
	if !ok || now.Sub(w.start) > rl.interval {
		rl.clients[client] = &window{remaining: rl.rate - 1, start: now}
		return true
	}
	if w.remaining <= 0 {
		return false
	}
	w.remaining--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.interval.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate limit exceeded",
				Message: "Too many requests",
				Action:  "Wait a minute before trying again",
				Code:    "RATE001",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v with status. Encoding errors are logged only, since
// the header is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
