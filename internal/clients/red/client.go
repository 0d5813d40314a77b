package red

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dpup/movilidad/server/internal/lib/geo"
)

// DefaultBaseURL is the public Red Movilidad REST service
const DefaultBaseURL = "https://www.red.cl/restservice_v2/rest"

// Direction names accepted by Trip
const (
	Ida     = "ida"
	Regreso = "regreso"
)

// ErrMalformedRoute is returned when a route description lacks the structure
// needed for segmentation (no path, no stops, bad coordinate pairs)
var ErrMalformedRoute = errors.New("route description does not have the expected structure")

// HTTPDoer is the subset of *http.Client used by the client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to the Red bus network route service
type Client struct {
	httpClient HTTPDoer
	baseURL    string
}

// RouteDescription is the conocerecorrido payload for one service
type RouteDescription struct {
	Ida     *Direction `json:"ida"`
	Regreso *Direction `json:"regreso"`
}

// Direction holds the stops and the dense path for one travel direction.
// Coordinates are [lat, lon] pairs.
type Direction struct {
	Path      [][]float64 `json:"path"`
	Paraderos []Paradero  `json:"paraderos"`
}

// Paradero is a bus stop on a route
type Paradero struct {
	Cod  string    `json:"cod"`
	Name string    `json:"name"`
	Pos  []float64 `json:"pos"`
}

// NewClient creates a new Red API client
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return NewClientWithHTTPDoer(baseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client with a custom transport, for tests
func NewClientWithHTTPDoer(baseURL string, doer HTTPDoer) *Client {
	return &Client{
		httpClient: doer,
		baseURL:    baseURL,
	}
}

// ListServices returns every service code known to the network
func (c *Client) ListServices(ctx context.Context) ([]string, error) {
	var codes []string
	if err := c.getJSON(ctx, c.baseURL+"/getservicios/all", &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// GetRoute retrieves the route description for a service code
func (c *Client) GetRoute(ctx context.Context, code string) (*RouteDescription, error) {
	if code == "" {
		return nil, fmt.Errorf("service code is required")
	}

	params := url.Values{}
	params.Set("codsint", code)

	var route RouteDescription
	if err := c.getJSON(ctx, c.baseURL+"/conocerecorrido?"+params.Encode(), &route); err != nil {
		return nil, err
	}
	return &route, nil
}

func (c *Client) getJSON(ctx context.Context, requestURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w: %w", ErrMalformedRoute, err)
	}
	return nil
}

// Trip converts one direction of the description into segmentation inputs.
// Missing directions, empty paths, missing stops and coordinate entries that are
// not [lat, lon] pairs all yield ErrMalformedRoute.
func (r *RouteDescription) Trip(direction string) ([]geo.Waypoint, geo.PathPolyline, error) {
	var d *Direction
	switch direction {
	case Ida, "":
		d = r.Ida
	case Regreso:
		d = r.Regreso
	default:
		return nil, nil, fmt.Errorf("unknown direction %q", direction)
	}

	if d == nil || len(d.Path) == 0 || d.Paraderos == nil {
		return nil, nil, fmt.Errorf("%s: %w", direction, ErrMalformedRoute)
	}

	path := make(geo.PathPolyline, len(d.Path))
	for i, pair := range d.Path {
		p, err := toPosition(pair)
		if err != nil {
			return nil, nil, fmt.Errorf("path vertex %d: %w", i, err)
		}
		path[i] = p
	}

	waypoints := make([]geo.Waypoint, len(d.Paraderos))
	for i, stop := range d.Paraderos {
		p, err := toPosition(stop.Pos)
		if err != nil {
			return nil, nil, fmt.Errorf("stop %s: %w", stop.Cod, err)
		}
		waypoints[i] = geo.Waypoint{Code: stop.Cod, Position: p}
	}

	return waypoints, path, nil
}

func toPosition(pair []float64) (geo.Position, error) {
	if len(pair) != 2 {
		return geo.Position{}, fmt.Errorf("expected [lat, lon], got %d values: %w", len(pair), ErrMalformedRoute)
	}
	p := geo.Position{Latitude: pair[0], Longitude: pair[1]}
	if !geo.IsValid(p) {
		return geo.Position{}, fmt.Errorf("coordinates out of range: %w", ErrMalformedRoute)
	}
	return p, nil
}
