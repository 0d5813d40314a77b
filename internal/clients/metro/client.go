package metro

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dpup/movilidad/server/internal/lib/geo"
)

// DefaultBaseURL is the Metro de Santiago public API
const DefaultBaseURL = "https://www.metro.cl/api"

// HTTPDoer is the subset of *http.Client used by the client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client reads subway station status and locations
type Client struct {
	httpClient HTTPDoer
	baseURL    string
}

// Line is the status of one subway line, keyed by line id ("l1", "l4a", ...)
type Line struct {
	Estado     string          `json:"estado"`
	Mensaje    string          `json:"mensaje"`
	Estaciones []StationStatus `json:"estaciones"`
}

// StationStatus is the operational state of a station on a line
type StationStatus struct {
	Nombre      string `json:"nombre"`
	Codigo      string `json:"codigo"`
	Estado      string `json:"estado"`
	Combinacion string `json:"combinacion"`
}

// Station is a station location. Coordenadas is "lat,lon".
type Station struct {
	Codigo      string `json:"codigo"`
	Nombre      string `json:"nombre"`
	Coordenadas string `json:"coordenadas"`
}

// Position parses the station's coordinate string
func (s Station) Position() (geo.Position, error) {
	parts := strings.Split(s.Coordenadas, ",")
	if len(parts) != 2 {
		return geo.Position{}, fmt.Errorf("station %s: malformed coordinates %q", s.Codigo, s.Coordenadas)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Position{}, fmt.Errorf("station %s: invalid latitude: %w", s.Codigo, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Position{}, fmt.Errorf("station %s: invalid longitude: %w", s.Codigo, err)
	}
	return geo.NewPosition(lat, lon)
}

// NewClient creates a new Metro client
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

// NetworkStatus returns the status of every line, keyed by line id
func (c *Client) NetworkStatus(ctx context.Context) (map[string]Line, error) {
	var lines map[string]Line
	if err := c.getJSON(ctx, "/estadoRedDetalle.php", &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// Stations returns the location of every station
func (c *Client) Stations(ctx context.Context) ([]Station, error) {
	var response struct {
		Estaciones []Station `json:"estaciones"`
	}
	if err := c.getJSON(ctx, "/estaciones.php", &response); err != nil {
		return nil, err
	}
	return response.Estaciones, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

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
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
