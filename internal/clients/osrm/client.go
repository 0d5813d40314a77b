package osrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dpup/movilidad/server/internal/lib/geo"
)

// DefaultBaseURL is the public OSRM demo server
const DefaultBaseURL = "https://router.project-osrm.org"

// ErrNoRoute is returned when OSRM can't route between the two positions
var ErrNoRoute = errors.New("no route found")

// HTTPDoer is the subset of *http.Client used by the client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches driving geometry from an OSRM server
type Client struct {
	httpClient HTTPDoer
	baseURL    string
	profile    string
}

// NewClient creates a new OSRM client for the driving profile
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
		profile:    "driving",
	}
}

type routeResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Geometry string  `json:"geometry"`
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

// Route returns the full-resolution road geometry between two positions
func (c *Client) Route(ctx context.Context, from, to geo.Position) (geo.PathPolyline, error) {
	params := url.Values{}
	params.Set("overview", "full")
	params.Set("geometries", "polyline")

	requestURL := fmt.Sprintf("%s/route/v1/%s/%s;%s?%s",
		c.baseURL, c.profile, lonLat(from), lonLat(to), params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	// OSRM reports routing failures (NoRoute, InvalidQuery) as 400 with a JSON body
	var response routeResponse
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, &response); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if response.Code == "NoRoute" || (response.Code == "Ok" && len(response.Routes) == 0) {
		return nil, ErrNoRoute
	}
	if response.Code != "Ok" {
		return nil, fmt.Errorf("OSRM error %s: %s", response.Code, response.Message)
	}

	path, err := geo.DecodePolyline(response.Routes[0].Geometry)
	if err != nil {
		return nil, fmt.Errorf("failed to decode route geometry: %w", err)
	}
	return path, nil
}

// lonLat formats a position the way OSRM expects it in the URL path
func lonLat(p geo.Position) string {
	return strconv.FormatFloat(p.Longitude, 'f', -1, 64) + "," + strconv.FormatFloat(p.Latitude, 'f', -1, 64)
}
