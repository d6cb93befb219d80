package main

import (
	"io"
	"net/http"

	"github.com/sguter90/edgegateway/pkg/api"
	"github.com/sguter90/edgegateway/pkg/ingest"
)

// ingestReadingHandler accepts one reading in any registered format
func (rm *RouteManager) ingestReadingHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeFailure(w, r, rm.gw.logger, err)
		return
	}

	raw, err := rm.gw.parsers.ParseReading(body)
	if err != nil {
		rm.gw.ingest.Reject(ingest.SourceHTTP, err)
		writeFailure(w, r, rm.gw.logger, err)
		return
	}

	rec, err := rm.gw.ingest.IngestOne(r.Context(), ingest.SourceHTTP, raw)
	if err != nil {
		writeFailure(w, r, rm.gw.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, api.ReadingResponse{
		Status:  api.StatusSuccess,
		Message: "Reading received and processed",
		Data:    ingest.NewReadingAck(rec),
	})
}

// ingestBatchHandler accepts {"readings":[...]} or a bare array
func (rm *RouteManager) ingestBatchHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeFailure(w, r, rm.gw.logger, err)
		return
	}

	raws, err := rm.gw.parsers.ParseBatch(body)
	if err != nil {
		rm.gw.ingest.Reject(ingest.SourceHTTP, err)
		writeFailure(w, r, rm.gw.logger, err)
		return
	}

	summary, err := rm.gw.ingest.IngestBatch(r.Context(), ingest.SourceHTTP, raws)
	if err != nil {
		writeFailure(w, r, rm.gw.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, api.BatchResponse{
		Status:  api.StatusSuccess,
		Message: "Batch processed",
		Data:    summary,
	})
}
