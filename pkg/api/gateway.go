package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/sguter90/edgegateway/pkg/cloudsync"
	"github.com/sguter90/edgegateway/pkg/models"
)

// Health fetches component statuses
func (c *Client) Health(ctx context.Context) (*HealthReport, error) {
	var report HealthReport
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Stats fetches queue statistics
func (c *Client) Stats(ctx context.Context) (*Statistics, error) {
	var resp StatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/data/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Statistics, nil
}

// Recent lists the latest records, optionally for one device
func (c *Client) Recent(ctx context.Context, deviceID string, limit int) ([]models.EnrichedRecord, error) {
	q := url.Values{}
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/api/v1/data/recent"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp RecentResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Record fetches one record by id
func (c *Client) Record(ctx context.Context, id uuid.UUID) (*models.EnrichedRecord, error) {
	var resp Response[models.EnrichedRecord]
	if err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/v1/records/%s", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// TriggerSync runs one sync cycle on the gateway and returns its result.
// A failed cycle is reported in the result, not as an error.
func (c *Client) TriggerSync(ctx context.Context) (*cloudsync.Result, error) {
	var resp SyncResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/sync", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}
