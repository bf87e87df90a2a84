// Package producer implements the tenant-facing and internal HTTP APIs: it
// accepts execution requests, serves execution history and artifacts, and
// exposes the loopback-only endpoints the Worker uses to report status and
// log updates (spec §4.1, §6).
package producer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/volaticloud/runbox/internal/auth"
	"github.com/volaticloud/runbox/internal/execution"
	"github.com/volaticloud/runbox/internal/pubsub"
)

// Config controls the tenant-facing router's behavior.
type Config struct {
	AllowedOrigins         []string
	ExecutionRequestRate   int           // requests allowed per organization...
	ExecutionRequestWindow time.Duration // ...within this window
}

// DefaultConfig mirrors the rate the teacher's own dashboards are built
// against: generous enough for CI burst traffic, tight enough to bound a
// single misbehaving tenant's load on the Job Queue.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:         []string{"http://localhost:5173", "http://localhost:3000"},
		ExecutionRequestRate:   60,
		ExecutionRequestWindow: time.Minute,
	}
}

// Store is the subset of internal/store.Store the Producer depends on.
type Store interface {
	Upsert(ctx context.Context, e *execution.Execution) error
	Get(ctx context.Context, organizationID, taskID string) (*execution.Execution, error)
	ListRecent(ctx context.Context, organizationID string, limit int) ([]*execution.Execution, error)
	Delete(ctx context.Context, organizationID, taskID string) error
}

// Publisher is the subset of internal/queue.Queue the Producer depends on.
type Publisher interface {
	Publish(ctx context.Context, job execution.JobMessage) error
}

// ArtifactLocator resolves where an execution's artifact files live on
// disk, matching internal/artifacts.Store.
type ArtifactLocator interface {
	JobDir(organizationID, taskID string) string
}

// Broadcaster is the subset of internal/realtime.Hub the Producer depends
// on: fanning out status/log events and serving the websocket upgrade.
type Broadcaster interface {
	BroadcastUpdate(ctx context.Context, organizationID string, event pubsub.ExecutionUpdatedEvent) error
	BroadcastLog(ctx context.Context, organizationID string, event pubsub.ExecutionLogEvent) error
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Server wires the durable store, job queue, realtime hub and artifact
// store into the tenant-facing and internal HTTP surfaces.
type Server struct {
	store     Store
	queue     Publisher
	hub       Broadcaster
	artifacts ArtifactLocator
	verifier  *auth.Verifier
	logger    *zap.Logger
	cfg       Config
}

// New builds a Server. hub and artifactStore may be nil if this process
// doesn't serve websocket connections or artifact downloads.
func New(s Store, q Publisher, hub Broadcaster, artifactStore ArtifactLocator, verifier *auth.Verifier, logger *zap.Logger, cfg Config) *Server {
	return &Server{store: s, queue: q, hub: hub, artifacts: artifactStore, verifier: verifier, logger: logger, cfg: cfg}
}

// Router builds the tenant-facing router: everything a dashboard or CI
// pipeline talks to directly.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(s.requestLogger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(s.verifier, s.logger))

		r.With(s.rateLimitByOrg()).Post("/api/execution-request", s.handleCreateExecution)
		r.Get("/api/executions", s.handleListExecutions)
		r.Delete("/api/executions/{taskId}", s.handleDeleteExecution)
		r.Get("/api/auth/me", s.handleMe)
		r.Get("/reports/{organizationId}/{taskId}/*", s.handleReportAsset)
	})

	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}

	return r
}

// rateLimitByOrg applies httprate keyed on the authenticated tenant's
// organizationId, so one noisy organization cannot starve another's
// execution-request throughput (spec §5).
func (s *Server) rateLimitByOrg() func(http.Handler) http.Handler {
	return httprate.Limit(
		s.cfg.ExecutionRequestRate,
		s.cfg.ExecutionRequestWindow,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			tenant, err := auth.GetTenantContext(r.Context())
			if err != nil {
				return "", err
			}
			return tenant.OrganizationID, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "execution request rate limit exceeded for this organization")
		}),
	)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.logger != nil {
			s.logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// InternalRouter builds the loopback-only router the Worker uses to report
// job status and stream log chunks. It trusts its caller implicitly: the
// trust boundary is the bind address (127.0.0.1 by default), not a token
// (spec §4.1 note on the internal endpoint trust boundary).
func (s *Server) InternalRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Post("/executions/update", s.handleInternalUpdate)
	r.Post("/executions/log", s.handleInternalLog)
	return r
}

// Serve runs the tenant-facing server on addr and the internal server on
// internalAddr until ctx is canceled, then shuts both down gracefully.
func (s *Server) Serve(ctx context.Context, addr, internalAddr string) error {
	public := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	internal := &http.Server{
		Addr:         internalAddr,
		Handler:      s.InternalRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := public.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("public server error: %w", err)
		}
	}()
	go func() {
		if err := internal.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("internal server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if s.logger != nil {
			s.logger.Error("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = public.Shutdown(shutdownCtx)
	_ = internal.Shutdown(shutdownCtx)
	return nil
}
