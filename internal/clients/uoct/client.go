package uoct

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the UOCT public API
const DefaultBaseURL = "https://api.uoct.cl/api/v1"

// HTTPDoer is the subset of *http.Client used by the client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client reads Waze-sourced congestion routes published by UOCT
type Client struct {
	httpClient HTTPDoer
	baseURL    string
}

// WazeRoute is a monitored corridor with its current jam level. Times are in
// seconds and length in meters.
type WazeRoute struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	JamLevel     int    `json:"jam_level"`
	Time         int    `json:"time"`
	HistoricTime int    `json:"historic_time"`
	Length       int    `json:"length"`
	FromName     string `json:"from_name"`
	ToName       string `json:"to_name"`
	CustomLabel  string `json:"custom_label"`
	UpdatedAt    string `json:"updated_at"`
}

// Properties returns the route's attributes as GeoJSON feature properties
func (r WazeRoute) Properties() map[string]interface{} {
	return map[string]interface{}{
		"id":            r.ID,
		"name":          r.Name,
		"jam_level":     r.JamLevel,
		"time":          r.Time,
		"historic_time": r.HistoricTime,
		"length":        r.Length,
		"from_name":     r.FromName,
		"to_name":       r.ToName,
		"custom_label":  r.CustomLabel,
		"updated_at":    r.UpdatedAt,
	}
}

// NewClient creates a new UOCT client
func NewClient(baseURL string) *Client {
	return NewClientWithHTTPDoer(baseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client with a custom transport, for tests
func NewClientWithHTTPDoer(baseURL string, doer HTTPDoer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: doer,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// ListRoutes returns every monitored route across all zones
func (c *Client) ListRoutes(ctx context.Context) ([]WazeRoute, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/waze/routes/zone/all", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var envelope struct {
		Data []WazeRoute `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("response is missing the data envelope")
	}

	return envelope.Data, nil
}
