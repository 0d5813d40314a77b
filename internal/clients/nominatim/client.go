package nominatim

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

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/time/rate"

	"github.com/dpup/movilidad/server/internal/lib/geo"
)

const (
	DefaultBaseURL     = "https://nominatim.openstreetmap.org"
	DefaultCityContext = "Santiago, Chile"
	defaultUserAgent   = "movilidad-server/1.0"

	// DefaultRequestsPerSecond is the ceiling of the public instance's usage policy
	DefaultRequestsPerSecond = 1.0
)

// ErrNotFound is returned by Search when the query matches nothing
var ErrNotFound = errors.New("no results found")

// HTTPDoer is the subset of *http.Client used by the client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client geocodes place names and fetches street geometry from Nominatim
type Client struct {
	httpClient  HTTPDoer
	baseURL     string
	cityContext string
	userAgent   string
	limiter     *rate.Limiter
}

// Option customizes a Client
type Option func(*Client)

// WithCityContext sets the suffix appended to every query
func WithCityContext(city string) Option {
	return func(c *Client) { c.cityContext = city }
}

// WithUserAgent sets the User-Agent header. Nominatim's usage policy requires
// an identifying agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRateLimit spaces requests to at most perSecond. Zero or less removes the
// limit.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewClient creates a new Nominatim client limited to
// DefaultRequestsPerSecond unless WithRateLimit says otherwise
func NewClient(baseURL string, opts ...Option) *Client {
	opts = append([]Option{WithRateLimit(DefaultRequestsPerSecond)}, opts...)
	return NewClientWithHTTPDoer(baseURL, &http.Client{
		Timeout: 30 * time.Second,
	}, opts...)
}

// NewClientWithHTTPDoer creates a client with a custom transport, for tests
func NewClientWithHTTPDoer(baseURL string, doer HTTPDoer, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient:  doer,
		baseURL:     strings.TrimRight(baseURL, "/"),
		cityContext: DefaultCityContext,
		userAgent:   defaultUserAgent,
		limiter:     rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// searchResult is one entry of the /search response. Nominatim encodes
// coordinates as strings.
type searchResult struct {
	Lat         string          `json:"lat"`
	Lon         string          `json:"lon"`
	DisplayName string          `json:"display_name"`
	GeoJSON     json.RawMessage `json:"geojson,omitempty"`
}

// Search geocodes a place name within the configured city and returns the
// first match
func (c *Client) Search(ctx context.Context, query string) (geo.Position, error) {
	results, err := c.search(ctx, query, 1, false)
	if err != nil {
		return geo.Position{}, err
	}
	if len(results) == 0 {
		return geo.Position{}, fmt.Errorf("%q: %w", query, ErrNotFound)
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return geo.Position{}, fmt.Errorf("invalid latitude %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return geo.Position{}, fmt.Errorf("invalid longitude %q: %w", results[0].Lon, err)
	}

	return geo.NewPosition(lat, lon)
}

// StreetGeometry returns every vertex of the geometries matching a street name.
// A street that can't be found gives an empty PointSet, not an error.
func (c *Client) StreetGeometry(ctx context.Context, street string) (geo.PointSet, error) {
	results, err := c.search(ctx, street, 5, true)
	if err != nil {
		return nil, err
	}

	points := geo.PointSet{}
	for _, r := range results {
		if len(r.GeoJSON) == 0 {
			continue
		}
		g, err := geojson.UnmarshalGeometry(r.GeoJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to parse geometry for %q: %w", street, err)
		}
		points = appendVertices(points, g.Geometry())
	}

	return points, nil
}

func (c *Client) search(ctx context.Context, query string, limit int, withGeometry bool) ([]searchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	q := query
	if c.cityContext != "" {
		q = query + ", " + c.cityContext
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(limit))
	if withGeometry {
		params.Set("polygon_geojson", "1")
	}

	// Shared by every goroutine using this client
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 429 {
		return nil, fmt.Errorf("rate limit exceeded (1 request/second)")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return results, nil
}

// appendVertices flattens any geometry into its vertices, converting from
// (lon, lat) back to Position
func appendVertices(points geo.PointSet, g orb.Geometry) geo.PointSet {
	switch g := g.(type) {
	case orb.Point:
		points = append(points, geo.Position{Latitude: g.Lat(), Longitude: g.Lon()})
	case orb.MultiPoint:
		for _, p := range g {
			points = appendVertices(points, p)
		}
	case orb.LineString:
		for _, p := range g {
			points = appendVertices(points, p)
		}
	case orb.MultiLineString:
		for _, ls := range g {
			points = appendVertices(points, ls)
		}
	case orb.Ring:
		for _, p := range g {
			points = appendVertices(points, p)
		}
	case orb.Polygon:
		for _, r := range g {
			points = appendVertices(points, r)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			points = appendVertices(points, p)
		}
	case orb.Collection:
		for _, child := range g {
			points = appendVertices(points, child)
		}
	}
	return points
}
