package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sguter90/edgegateway/pkg/api"
	"github.com/sguter90/edgegateway/pkg/models"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 1000
)

// recentHandler returns the newest records
// Query params:
//   - device_id (or sensor_id): only records from this device
//   - limit: max number of results (default: 20, max: 1000)
func (rm *RouteManager) recentHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	deviceID := q.Get("device_id")
	if deviceID == "" {
		deviceID = q.Get("sensor_id")
	}

	limit := defaultRecentLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", s))
			return
		}
		limit = min(n, maxRecentLimit)
	}

	records, err := rm.gw.dbManager.GetRecentRecords(r.Context(), deviceID, limit)
	if err != nil {
		writeFailure(w, r, rm.gw.logger, err)
		return
	}
	if records == nil {
		records = []models.EnrichedRecord{}
	}

	writeJSON(w, http.StatusOK, api.RecentResponse{
		Status: api.StatusSuccess,
		Count:  len(records),
		Data:   records,
	})
}

// statsHandler summarizes the queue and the sync settings
func (rm *RouteManager) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := rm.gw.dbManager.Stats(r.Context())
	if err != nil {
		writeFailure(w, r, rm.gw.logger, err)
		return
	}

	cfg := rm.gw.cfg
	out := api.Statistics{
		GatewayID:        cfg.GatewayID,
		PendingSync:      stats.Pending,
		Synced:           stats.Synced,
		Total:            stats.Total,
		OldestPending:    stats.OldestPending,
		SyncBatchSize:    rm.gw.synchronizer.BatchSize(),
		SyncIntervalSecs: int64(cfg.Cloud.SyncInterval.Seconds()),
		Transport:        rm.gw.synchronizer.TransportName(),
	}
	if last, ok := rm.gw.synchronizer.LastResult(); ok {
		out.LastSync = &last
	}

	writeJSON(w, http.StatusOK, api.StatsResponse{Status: api.StatusSuccess, Statistics: out})
}

// recordHandler returns one record by id
func (rm *RouteManager) recordHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return
	}

	rec, err := rm.gw.dbManager.GetRecord(r.Context(), id)
	if err != nil {
		writeFailure(w, r, rm.gw.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, api.Response[*models.EnrichedRecord]{Status: api.StatusSuccess, Data: rec})
}
