package services

import (
	"context"
	"time"

	"github.com/dpup/prefab/logging"
	"golang.org/x/sync/errgroup"

	"github.com/dpup/movilidad/server/internal/lib/geo"
	"github.com/dpup/movilidad/server/internal/metrics"
)

// StopService geocodes bus stop codes
type StopService struct {
	geocoder    Geocoder
	metrics     *metrics.Collector
	concurrency int
}

// StopLocation is the geocoding result for one stop code
type StopLocation struct {
	Code     string        `json:"codigoParadero"`
	Position *geo.Position `json:"position,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// NewStopService creates a new StopService
func NewStopService(geocoder Geocoder, m *metrics.Collector, concurrency int) *StopService {
	return &StopService{
		geocoder:    geocoder,
		metrics:     m,
		concurrency: max(1, concurrency),
	}
}

// Locate returns one result per code, in input order
func (s *StopService) Locate(ctx context.Context, codes []string) []StopLocation {
	ctx = logging.EnsureLogger(ctx)
	results := make([]StopLocation, len(codes))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, code := range codes {
		g.Go(func() error {
			results[i] = s.locate(ctx, code)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *StopService) locate(ctx context.Context, code string) StopLocation {
	start := time.Now()
	pos, err := s.geocoder.Search(ctx, code)
	s.metrics.ObserveUpstream(sourceNominatim, start, err)
	if err != nil {
		logging.Warnw(ctx, "Stop lookup failed", "paradero", code, "error", err)
		return StopLocation{Code: code, Error: err.Error()}
	}
	return StopLocation{Code: code, Position: &pos}
}
