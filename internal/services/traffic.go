package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/dpup/movilidad/server/internal/clients/uoct"
	"github.com/dpup/movilidad/server/internal/lib/geo"
	"github.com/dpup/movilidad/server/internal/metrics"
)

// TrafficService draws UOCT congestion corridors on the road network
type TrafficService struct {
	traffic     TrafficSource
	geocoder    Geocoder
	router      RoadRouter
	metrics     *metrics.Collector
	concurrency int
}

// NewTrafficService creates a new TrafficService
func NewTrafficService(traffic TrafficSource, geocoder Geocoder, router RoadRouter, m *metrics.Collector, concurrency int) *TrafficService {
	return &TrafficService{
		traffic:     traffic,
		geocoder:    geocoder,
		router:      router,
		metrics:     m,
		concurrency: max(1, concurrency),
	}
}

// Disponibilidad returns one LineString per corridor whose endpoints could be
// geocoded and routed. Corridors that fail are logged and left out.
func (s *TrafficService) Disponibilidad(ctx context.Context) (*geojson.FeatureCollection, error) {
	ctx = logging.EnsureLogger(ctx)
	start := time.Now()
	routes, err := s.traffic.ListRoutes(ctx)
	s.metrics.ObserveUpstream(sourceUOCT, start, err)
	if err != nil {
		return nil, fmt.Errorf("fetch UOCT routes: %w", err)
	}

	features := make([]*geojson.Feature, len(routes))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, route := range routes {
		g.Go(func() error {
			f, err := s.corridorFeature(ctx, route)
			if err != nil {
				logging.Warnw(ctx, "Skipping traffic route", "id", route.ID, "name", route.Name, "error", err)
				return nil
			}
			features[i] = f
			return nil
		})
	}
	_ = g.Wait()

	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		if f != nil {
			fc.Append(f)
		}
	}
	return fc, nil
}

func (s *TrafficService) corridorFeature(ctx context.Context, route uoct.WazeRoute) (*geojson.Feature, error) {
	from, err := s.geocode(ctx, route.FromName)
	if err != nil {
		return nil, fmt.Errorf("geocode from %q: %w", route.FromName, err)
	}
	to, err := s.geocode(ctx, route.ToName)
	if err != nil {
		return nil, fmt.Errorf("geocode to %q: %w", route.ToName, err)
	}

	start := time.Now()
	path, err := s.router.Route(ctx, from, to)
	s.metrics.ObserveUpstream(sourceOSRM, start, err)
	if err != nil {
		return nil, fmt.Errorf("route geometry: %w", err)
	}

	ls := make(orb.LineString, len(path))
	for i, p := range path {
		ls[i] = p.Point()
	}

	f := geojson.NewFeature(ls)
	f.Properties = route.Properties()
	return f, nil
}

func (s *TrafficService) geocode(ctx context.Context, name string) (geo.Position, error) {
	start := time.Now()
	pos, err := s.geocoder.Search(ctx, name)
	s.metrics.ObserveUpstream(sourceNominatim, start, err)
	return pos, err
}
