package services

import (
	"context"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/dpup/movilidad/server/internal/config"
	"github.com/dpup/movilidad/server/internal/lib/geo"
	"github.com/dpup/movilidad/server/internal/lib/streets"
	"github.com/dpup/movilidad/server/internal/metrics"
	"github.com/dpup/movilidad/server/internal/store"
)

// StreetService joins pairs of streets with synthetic connector lines
type StreetService struct {
	geocoder    Geocoder
	connector   streets.StreetConnector
	store       Store
	metrics     *metrics.Collector
	concurrency int
}

// ConnectionResult is the outcome for one street pair. Outcome is one of
// connected, unmatched (a street had no geometry) or error.
type ConnectionResult struct {
	From      string                  `json:"from"`
	To        string                  `json:"to"`
	Outcome   string                  `json:"outcome"`
	Line      *streets.ConnectionLine `json:"line,omitempty"`
	Persisted bool                    `json:"persisted"`
	Error     string                  `json:"error,omitempty"`
}

type streetLookup struct {
	points geo.PointSet
	err    error
}

// NewStreetService creates a new StreetService. store may be nil.
func NewStreetService(geocoder Geocoder, store Store, m *metrics.Collector, concurrency int) *StreetService {
	return &StreetService{
		geocoder:    geocoder,
		connector:   streets.NewStreetConnector(),
		store:       store,
		metrics:     m,
		concurrency: max(1, concurrency),
	}
}

// ConnectPairs returns one result per pair, in input order. Each distinct
// street is fetched once. Unmatched pairs and lookup failures are recorded and
// the remaining pairs are still processed.
func (s *StreetService) ConnectPairs(ctx context.Context, pairs []config.StreetPair) []ConnectionResult {
	ctx = logging.EnsureLogger(ctx)
	geometries := s.fetchGeometries(ctx, pairs)

	results := make([]ConnectionResult, len(pairs))
	for i, pair := range pairs {
		results[i] = s.connectPair(ctx, pair, geometries)
		s.metrics.StreetPairs.WithLabelValues(results[i].Outcome).Inc()
	}

	return results
}

func (s *StreetService) connectPair(ctx context.Context, pair config.StreetPair, geometries map[string]streetLookup) ConnectionResult {
	result := ConnectionResult{From: pair.From, To: pair.To}

	from, to := geometries[pair.From], geometries[pair.To]
	for _, lookup := range []streetLookup{from, to} {
		if lookup.err != nil {
			logging.Warnw(ctx, "Street lookup failed", "from", pair.From, "to", pair.To, "error", lookup.err)
			result.Outcome = metrics.OutcomeError
			result.Error = lookup.err.Error()
			return result
		}
	}

	line, ok := s.connector.Connect(from.points, to.points)
	if !ok {
		logging.Warnw(ctx, "No connection between streets",
			"from", pair.From, "from_points", len(from.points),
			"to", pair.To, "to_points", len(to.points))
		result.Outcome = metrics.OutcomeUnmatched
		return result
	}

	result.Outcome = metrics.OutcomeConnected
	result.Line = line

	if s.store != nil {
		row := store.ConnectionRow{CalleA: pair.From, CalleB: pair.To, WKT: line.WKT()}
		if err := s.store.InsertConnection(ctx, row); err != nil {
			logging.Warnw(ctx, "Failed to persist connection", "from", pair.From, "to", pair.To, "error", err)
			result.Error = err.Error()
		} else {
			result.Persisted = true
			s.metrics.RowsWritten.WithLabelValues("conexiones").Inc()
		}
	}

	return result
}

func (s *StreetService) fetchGeometries(ctx context.Context, pairs []config.StreetPair) map[string]streetLookup {
	names := make(map[string]struct{})
	for _, p := range pairs {
		names[p.From] = struct{}{}
		names[p.To] = struct{}{}
	}

	var mu sync.Mutex
	geometries := make(map[string]streetLookup, len(names))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for name := range names {
		g.Go(func() error {
			start := time.Now()
			points, err := s.geocoder.StreetGeometry(ctx, name)
			s.metrics.ObserveUpstream(sourceNominatim, start, err)

			mu.Lock()
			geometries[name] = streetLookup{points: points, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return geometries
}

// ConnectionsGeoJSON renders connected results as LineString features with
// calle_a and calle_b properties
func ConnectionsGeoJSON(results []ConnectionResult) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range results {
		if r.Line == nil {
			continue
		}
		f := geojson.NewFeature(r.Line.LineString())
		f.Properties["calle_a"] = r.From
		f.Properties["calle_b"] = r.To
		fc.Append(f)
	}
	return fc
}
