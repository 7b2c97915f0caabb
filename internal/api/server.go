package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jdholdren/apod/internal/apod"
	"github.com/jdholdren/apod/internal/serverutil"
	"github.com/jdholdren/apod/internal/worker"
)

type (
	// Records is the part of the store the api reads from.
	Records interface {
		Ping(ctx context.Context) error
		Record(ctx context.Context, date apod.Date) (apod.StoredRow, error)
		Records(ctx context.Context, offset, limit int) ([]apod.StoredRow, error)
		CountRecords(ctx context.Context) (int, error)
	}

	// Trigger runs the pipeline for a day and waits for the outcome.
	Trigger interface {
		TriggerRun(ctx context.Context, date apod.Date) (worker.RunResult, error)
	}

	// Server serves stored records and accepts manual runs.
	Server struct {
		*http.Server

		repo    Records
		trigger Trigger
		zone    *time.Location
		now     func() time.Time

		recordCache *expirable.LRU[string, apod.StoredRow]
	}

	Config struct {
		Port       int           `env:"PORT, default=4444"`
		CORSOrigin string        `env:"CORS_ORIGIN, default=*"`
		CacheSize  int           `env:"CACHE_SIZE, default=256"`
		CacheTTL   time.Duration `env:"CACHE_TTL, default=10m"`
		// Runs wait on the workflow, so writes get a lot longer than reads
		RunTimeout time.Duration `env:"RUN_TIMEOUT, default=5m"`
	}
)

// NewServer wires the routes. Logical dates defaulted by the server are
// resolved in zone.
func NewServer(cfg Config, repo Records, t Trigger, zone *time.Location) *Server {
	if zone == nil {
		zone = time.UTC
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}

	r := serverutil.ErrRouter{Router: mux.NewRouter()}
	srvr := &Server{
		repo:        repo,
		trigger:     t,
		zone:        zone,
		now:         time.Now,
		recordCache: expirable.NewLRU[string, apod.StoredRow](cfg.CacheSize, nil, cfg.CacheTTL),
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: cfg.RunTimeout + 5*time.Second,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{cfg.CORSOrigin}),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type"}),
			)(r),
		},
	}

	r.Use(serverutil.RequestIDMiddleware)
	r.Use(serverutil.AccessLogMiddleware) // Log everything
	r.HandleFuncE("/healthz", srvr.getHealth).Methods(http.MethodGet)

	// Stored records
	r.HandleFuncE("/v1/records", srvr.getRecords).Methods(http.MethodGet)
	r.HandleFuncE("/v1/records/{date}", srvr.getRecord).Methods(http.MethodGet)

	// Manual runs
	runs := serverutil.ErrRouter{Router: r.NewRoute().Subrouter()}
	runs.Use(timeoutMiddleware(cfg.RunTimeout))
	runs.HandleFuncE("/v1/runs", srvr.postRun).Methods(http.MethodPost)

	slog.Debug("configured api server", "port", cfg.Port)

	return srvr
}

// Bounds how long a request's context lives.
func timeoutMiddleware(d time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type healthResp struct {
	Status string `json:"status"`
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) error {
	if err := s.repo.Ping(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "database unreachable", "error", err)
		return serverutil.WriteJSON(w, http.StatusServiceUnavailable, healthResp{Status: "unavailable"})
	}

	return serverutil.WriteJSON(w, http.StatusOK, healthResp{Status: "ok"})
}
