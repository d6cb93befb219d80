package main

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// maxBodyBytes bounds inbound sensor payloads
const maxBodyBytes = 1 << 20

// RouteManager handles all API routes
type RouteManager struct {
	gw     *Gateway
	keys   *apiKeyGuard
	Router *mux.Router
}

// NewRouteManager creates a new RouteManager instance
func NewRouteManager(gw *Gateway) (*RouteManager, error) {
	keys, err := newAPIKeyGuard(gw.cfg.Server.APIKeys, gw.cfg.Server.APIKeyHashes)
	if err != nil {
		return nil, err
	}
	return &RouteManager{
		gw:     gw,
		keys:   keys,
		Router: mux.NewRouter(),
	}, nil
}

// Setup configures all routes
func (rm *RouteManager) Setup() {
	r := rm.Router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/health", rm.gw.metrics.WrapHandler("health", http.HandlerFunc(rm.healthHandler))).Methods(http.MethodGet)
	r.Handle("/metrics", rm.gw.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", rm.gw.hub.ServeWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Compress(5, "application/json"))
	rm.setupAPIRoutes(api)
}

// setupAPIRoutes configures all API v1 routes
func (rm *RouteManager) setupAPIRoutes(api *mux.Router) {
	m := rm.gw.metrics

	guard := rm.keys.Middleware

	// ingest and admin endpoints require a key when keys are configured
	api.Handle("/sensor/data", guard(m.WrapHandler("sensor_data", http.HandlerFunc(rm.ingestReadingHandler)))).Methods(http.MethodPost)
	api.Handle("/sensor/batch", guard(m.WrapHandler("sensor_batch", http.HandlerFunc(rm.ingestBatchHandler)))).Methods(http.MethodPost)
	api.Handle("/sync", guard(m.WrapHandler("sync", http.HandlerFunc(rm.syncHandler)))).Methods(http.MethodPost)

	api.Handle("/data/recent", m.WrapHandler("data_recent", http.HandlerFunc(rm.recentHandler))).Methods(http.MethodGet)
	api.Handle("/data/stats", m.WrapHandler("data_stats", http.HandlerFunc(rm.statsHandler))).Methods(http.MethodGet)
	api.Handle("/records/{id}", m.WrapHandler("record", http.HandlerFunc(rm.recordHandler))).Methods(http.MethodGet)
}

// Handler wraps the router with CORS and access logging
func (rm *RouteManager) Handler() http.Handler {
	origins := rm.gw.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", apiKeyHeader}),
		handlers.MaxAge(3600),
	)

	return handlers.CustomLoggingHandler(io.Discard, cors(rm.Router), accessLogger(rm.gw.logger))
}

func accessLogger(logger *slog.Logger) handlers.LogFormatter {
	return func(_ io.Writer, p handlers.LogFormatterParams) {
		level := slog.LevelDebug
		if p.StatusCode >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(p.Request.Context(), level, "http request",
			"method", p.Request.Method,
			"path", p.URL.Path,
			"status", p.StatusCode,
			"size", p.Size,
			"remote", p.Request.RemoteAddr,
			"duration", time.Since(p.TimeStamp),
		)
	}
}
