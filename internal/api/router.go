// Package api wires the HTTP routes of the resolution service.
package api

import (
	"net/http"
	"time"

	"github.com/mediafetch/backend/internal/auth"
	apperrors "github.com/mediafetch/backend/internal/errors"
	"github.com/mediafetch/backend/internal/health"
	"github.com/mediafetch/backend/internal/logger"
	"github.com/mediafetch/backend/internal/methodhealth"
	"github.com/mediafetch/backend/internal/metrics"
	"github.com/mediafetch/backend/internal/middleware"
	"github.com/mediafetch/backend/internal/provider"
	"github.com/mediafetch/backend/internal/websocket"
)

const (
	maxBodyBytes   = 64 << 10
	maxCookieBytes = 1 << 20

	slowRequest = 30 * time.Second
)

// Config lists the router's collaborators. Jobs, WebSocket, Cookies,
// Snapshots, Health and Metrics are optional.
type Config struct {
	Resolver     Resolver
	Detector     *provider.Detector
	MethodHealth *methodhealth.Checker
	Auth         *auth.Service

	Jobs      JobService
	WebSocket *websocket.Handler
	Cookies   CookieStore
	Snapshots SnapshotReader
	Health    *health.Handler
	Metrics   *metrics.Metrics

	AllowedOrigins []string
}

type Router struct {
	mux     *http.ServeMux
	handler http.Handler
}

func NewRouter(cfg *Config) *Router {
	r := &Router{mux: http.NewServeMux()}
	r.setupRoutes(cfg)

	mws := []func(http.Handler) http.Handler{
		apperrors.RequestIDMiddleware,
		logger.RecoveryMiddleware,
		logger.LoggingMiddleware,
	}
	if cfg.Metrics != nil {
		mws = append(mws, metrics.MetricsMiddleware(cfg.Metrics))
	}
	mws = append(mws,
		middleware.CORS(cfg.AllowedOrigins),
		middleware.Timing(slowRequest),
		middleware.Gzip,
	)
	r.handler = middleware.Chain(r.mux, mws...)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes(cfg *Config) {
	withKey := auth.APIKeyMiddleware(cfg.Auth)
	withAdmin := auth.AdminMiddleware(cfg.Auth)
	key := func(h http.HandlerFunc) http.Handler { return withKey(h) }
	admin := func(h http.HandlerFunc) http.Handler { return withAdmin(h) }
	handle := apperrors.HandleFunc

	// Health and metrics
	if cfg.Health != nil {
		r.mux.HandleFunc("GET /health", cfg.Health.HealthHandler)
		r.mux.HandleFunc("GET /health/live", cfg.Health.LivenessHandler)
		r.mux.HandleFunc("GET /health/ready", cfg.Health.ReadinessHandler)
	}
	if cfg.Metrics != nil {
		r.mux.HandleFunc("GET /metrics", cfg.Metrics.Handler())
	}

	// Resolution (API key required)
	resolve := NewResolveHandlers(cfg.Resolver)
	r.mux.Handle("POST /api/v1/resolve", key(handle(resolve.Resolve)))
	r.mux.Handle("GET /api/v1/resolve", key(handle(resolve.ResolveQuery)))
	r.mux.Handle("GET /api/v1/providers", key(middleware.ETag(http.HandlerFunc(resolve.Providers)).ServeHTTP))

	detect := provider.NewHandlers(cfg.Detector)
	r.mux.Handle("POST /api/v1/detect", key(detect.Detect))
	r.mux.Handle("GET /api/v1/detect", key(detect.DetectQuery))

	// Async jobs
	if cfg.Jobs != nil {
		jobs := NewJobHandlers(cfg.Jobs)
		r.mux.Handle("POST /api/v1/jobs", key(handle(jobs.CreateJob)))
		r.mux.Handle("GET /api/v1/jobs", key(handle(jobs.ListJobs)))
		r.mux.Handle("GET /api/v1/jobs/{job_id}", key(handle(jobs.GetJob)))
	} else {
		r.mux.Handle("/api/v1/jobs", key(jobsDisabled))
		r.mux.Handle("/api/v1/jobs/", key(jobsDisabled))
	}

	if cfg.WebSocket != nil {
		r.mux.Handle("GET /api/v1/ws", key(cfg.WebSocket.ServeWS))
	}

	// Admin (admin JWT required)
	adm := NewAdminHandlers(cfg.Resolver, cfg.MethodHealth, cfg.Cookies, cfg.Snapshots)
	r.mux.Handle("GET /api/v1/admin/methods", admin(adm.ListMethods))
	r.mux.Handle("POST /api/v1/admin/methods/{name}/reset", admin(handle(adm.ResetMethod)))
	r.mux.Handle("GET /api/v1/admin/cookies", admin(handle(adm.ListCookies)))
	r.mux.Handle("PUT /api/v1/admin/cookies/{provider}", admin(handle(adm.SetCookies)))
	r.mux.Handle("GET /api/v1/admin/snapshots", admin(handle(adm.ListSnapshots)))
	r.mux.Handle("GET /api/v1/admin/snapshots/{key...}", admin(handle(adm.GetSnapshot)))

	keys := auth.NewHandlers(cfg.Auth)
	r.mux.Handle("POST /api/v1/admin/keys", admin(keys.CreateKey))
	r.mux.Handle("GET /api/v1/admin/keys", admin(keys.ListKeys))
	r.mux.Handle("DELETE /api/v1/admin/keys/{id}", admin(keys.RevokeKey))
}

func jobsDisabled(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.ServiceUnavailable("async jobs are disabled"))
}
