package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sguter90/edgegateway/pkg/api"
	"github.com/sguter90/edgegateway/pkg/cloudsync"
)

// healthHandler reports component status. Only an unreachable database
// makes the gateway unhealthy; sync and broker problems degrade it.
func (rm *RouteManager) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	report := api.HealthReport{
		Status:    "ok",
		GatewayID: rm.gw.cfg.GatewayID,
		Version:   version,
		Timestamp: time.Now().UTC(),
		Components: map[string]string{
			"database":       api.ComponentHealthy,
			"edge_processor": api.ComponentHealthy,
			"cloud_sync":     rm.cloudSyncStatus(),
			"broker":         rm.brokerStatus(),
		},
	}

	status := http.StatusOK
	pending, err := rm.gw.dbManager.CountPending(ctx)
	if err != nil {
		rm.gw.logger.Warn("health check: database unavailable", "error", err)
		report.Status = "unhealthy"
		report.Components["database"] = api.ComponentUnhealthy
		status = http.StatusServiceUnavailable
	} else {
		report.Metrics.PendingSync = pending
		if report.Components["cloud_sync"] == api.ComponentDegraded || report.Components["broker"] == api.ComponentUnhealthy {
			report.Status = "degraded"
		}
	}

	writeJSON(w, status, report)
}

func (rm *RouteManager) cloudSyncStatus() string {
	last, ok := rm.gw.synchronizer.LastResult()
	if !ok || last.OK() || last.Error == cloudsync.ErrClosed.Error() {
		return api.ComponentHealthy
	}
	return api.ComponentDegraded
}

func (rm *RouteManager) brokerStatus() string {
	if rm.gw.subscriber == nil {
		return api.ComponentDisabled
	}
	if rm.gw.subscriber.IsConnected() {
		return api.ComponentHealthy
	}
	return api.ComponentUnhealthy
}

// syncHandler runs one cycle immediately and reports its outcome
func (rm *RouteManager) syncHandler(w http.ResponseWriter, r *http.Request) {
	res, err := rm.gw.synchronizer.SyncOnce(r.Context(), cloudsync.TriggerManual)
	if errors.Is(err, cloudsync.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, "gateway is shutting down")
		return
	}

	message := "Sync completed"
	if err != nil {
		message = "Sync completed with failures"
	}
	writeJSON(w, http.StatusOK, api.SyncResponse{Status: api.StatusSuccess, Message: message, Data: res})
}
