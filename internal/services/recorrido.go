package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/dpup/movilidad/server/internal/cache"
	"github.com/dpup/movilidad/server/internal/clients/red"
	"github.com/dpup/movilidad/server/internal/config"
	"github.com/dpup/movilidad/server/internal/lib/routing"
	"github.com/dpup/movilidad/server/internal/metrics"
	"github.com/dpup/movilidad/server/internal/store"
)

// ErrInvalidDirection is returned for directions other than ida and regreso
var ErrInvalidDirection = errors.New("direction must be ida or regreso")

// Import failure stages
const (
	stageFetch    = "fetch"
	stageValidate = "validate"
	stagePersist  = "persist"
	stagePublish  = "publish"
)

// RecorridoService segments bus routes into stop-to-stop GeoJSON and imports
// them into PostGIS
type RecorridoService struct {
	routes    RouteSource
	segmenter routing.RouteSegmenter
	cache     *cache.Cache
	store     Store
	publisher RoutePublisher
	metrics   *metrics.Collector
	config    *config.RedConfig
}

// ImportReport summarizes a batch import
type ImportReport struct {
	Total       int             `json:"total"`
	Imported    int             `json:"imported"`
	Failed      int             `json:"failed"`
	Partial     int             `json:"partial"`
	Segments    int             `json:"segments"`
	RowsWritten int             `json:"rows_written"`
	Failures    []ImportFailure `json:"failures,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    string          `json:"duration"`
}

// ImportFailure records why one route, or one direction of it, could not be
// imported. Direction is empty when the whole route failed before segmenting.
type ImportFailure struct {
	Code      string `json:"code"`
	Direction string `json:"direction,omitempty"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

type routeImport struct {
	code     string
	segments int
	rows     int
	imported int // directions fully persisted and published
	failures []ImportFailure
}

// NewRecorridoService creates a new RecorridoService. store and publisher may be nil.
func NewRecorridoService(routes RouteSource, cache *cache.Cache, store Store, publisher RoutePublisher, m *metrics.Collector, config *config.RedConfig) *RecorridoService {
	return &RecorridoService{
		routes:    routes,
		segmenter: routing.NewRouteSegmenter(),
		cache:     cache,
		store:     store,
		publisher: publisher,
		metrics:   m,
		config:    config,
	}
}

// GetRoute returns the segmented route for one direction. Cached results are
// served while fresh; if upstream fails, a stale copy is served until it is
// very stale.
func (s *RecorridoService) GetRoute(ctx context.Context, code, direction string) (*geojson.FeatureCollection, error) {
	ctx = logging.EnsureLogger(ctx)
	direction, err := normalizeDirection(direction)
	if err != nil {
		return nil, err
	}

	cacheKey := cache.RouteKey(code, direction)
	fc := geojson.NewFeatureCollection()

	found, err := s.cache.Get(cacheKey, fc)
	if err != nil {
		logging.Warnw(ctx, "Route cache read failed", "route", code, "error", err)
	}
	if found {
		return fc, nil
	}

	desc, err := s.fetch(ctx, code)
	if err != nil {
		stale := geojson.NewFeatureCollection()
		if _, ok, _ := s.cache.GetWithMetadata(cacheKey, stale); ok && !s.cache.IsVeryStale(cacheKey) {
			logging.Warnw(ctx, "Refresh failed, returning stale route", "route", code, "error", err)
			return stale, nil
		}
		return nil, err
	}

	fc, err = s.segment(desc, direction)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", code, err)
	}

	if err := s.cache.Set(cacheKey, fc, s.config.RouteTTL, sourceRed); err != nil {
		logging.Warnw(ctx, "Failed to cache route", "route", code, "error", err)
	}

	return fc, nil
}

// ImportAll segments and persists every service in the network. Routes are
// processed on a bounded pool; a failing route is recorded in the report and
// never stops the others. Only failing to list services is an error.
func (s *RecorridoService) ImportAll(ctx context.Context) (ImportReport, error) {
	start := time.Now()

	codes, err := s.listServices(ctx)
	if err != nil {
		return ImportReport{}, err
	}

	return s.ImportRoutes(ctx, codes, start), nil
}

// ImportRoutes runs the given service codes through fetch, segment, persist and
// publish
func (s *RecorridoService) ImportRoutes(ctx context.Context, codes []string, start time.Time) ImportReport {
	ctx = logging.EnsureLogger(ctx)
	report := ImportReport{Total: len(codes), StartedAt: start}

	logging.Infow(ctx, "Starting route import", "routes", len(codes), "concurrency", s.config.ImportConcurrency)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(max(1, s.config.ImportConcurrency))

	for _, code := range codes {
		g.Go(func() error {
			result := s.importRoute(ctx, code)

			mu.Lock()
			defer mu.Unlock()
			report.Segments += result.segments
			report.RowsWritten += result.rows
			switch {
			case len(result.failures) == 0:
				report.Imported++
			case result.imported > 0:
				// The other direction is already written and published
				report.Partial++
				report.Failed++
			default:
				report.Failed++
			}
			report.Failures = append(report.Failures, result.failures...)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(report.Failures, func(i, j int) bool {
		return report.Failures[i].Code < report.Failures[j].Code
	})
	report.Duration = time.Since(start).Round(time.Millisecond).String()

	s.metrics.LastImportTimestamp.SetToCurrentTime()
	logging.Infow(ctx, "Route import finished",
		"imported", report.Imported, "failed", report.Failed, "partial", report.Partial,
		"segments", report.Segments, "rows", report.RowsWritten, "duration", report.Duration)

	return report
}

func (s *RecorridoService) importRoute(ctx context.Context, code string) routeImport {
	result := routeImport{code: code}
	fail := func(direction, stage string, err error) {
		s.metrics.ImportFailures.WithLabelValues(stage).Inc()
		logging.Warnw(ctx, "Route import failed", "route", code, "direction", direction, "stage", stage, "error", err)
		result.failures = append(result.failures, ImportFailure{Code: code, Direction: direction, Stage: stage, Error: err.Error()})
	}

	desc, err := s.fetch(ctx, code)
	if err != nil {
		fail("", stageFetch, err)
		return result
	}

	for _, direction := range []string{red.Ida, red.Regreso} {
		// Circular services have no return leg
		if direction == red.Regreso && desc.Regreso == nil {
			continue
		}
		if stage, err := s.importDirection(ctx, code, direction, desc, &result); err != nil {
			fail(direction, stage, err)
			continue
		}
		result.imported++
	}

	return result
}

// importDirection segments, caches, persists and publishes one direction. A
// failure leaves the other direction untouched.
func (s *RecorridoService) importDirection(ctx context.Context, code, direction string, desc *red.RouteDescription, result *routeImport) (string, error) {
	fc, err := s.segment(desc, direction)
	if err != nil {
		return stageValidate, err
	}
	result.segments += len(fc.Features)

	if err := s.cache.Set(cache.RouteKey(code, direction), fc, s.config.RouteTTL, sourceRed); err != nil {
		logging.Warnw(ctx, "Failed to cache route", "route", code, "error", err)
	}

	rows, err := s.persist(ctx, fc)
	result.rows += rows
	if err != nil {
		return stagePersist, err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishRoute(code, direction, fc); err != nil {
			return stagePublish, err
		}
	}
	return "", nil
}

// persist writes one calles row per stop-to-stop LineString. Rows that fail
// are logged and skipped; an error is returned only when nothing could be
// written.
func (s *RecorridoService) persist(ctx context.Context, fc *geojson.FeatureCollection) (int, error) {
	if s.store == nil {
		return 0, nil
	}

	var written, attempted int
	var lastErr error

	for _, f := range fc.Features {
		ls, ok := f.Geometry.(orb.LineString)
		if !ok {
			continue
		}

		origen, destino, ok := routing.ParseSegmentDescription(routing.Description(f))
		if !ok {
			logging.Warnw(ctx, "Skipping segment with malformed description", "description", routing.Description(f))
			continue
		}

		attempted++
		row := store.CalleRow{Origen: origen, Destino: destino, WKT: wkt.MarshalString(ls)}
		if err := s.store.InsertCalle(ctx, row); err != nil {
			logging.Warnw(ctx, "Failed to insert calle", "origen", origen, "destino", destino, "error", err)
			lastErr = err
			continue
		}
		written++
	}

	s.metrics.RowsWritten.WithLabelValues("calles").Add(float64(written))

	if attempted > 0 && written == 0 {
		return 0, fmt.Errorf("no segments written: %w", lastErr)
	}
	return written, nil
}

func (s *RecorridoService) segment(desc *red.RouteDescription, direction string) (*geojson.FeatureCollection, error) {
	waypoints, path, err := desc.Trip(direction)
	if err != nil {
		return nil, err
	}

	fc := s.segmenter.SegmentRoute(waypoints, path)
	s.metrics.RoutesSegmented.Inc()
	s.metrics.SegmentsEmitted.Add(float64(len(fc.Features)))
	return fc, nil
}

func (s *RecorridoService) fetch(ctx context.Context, code string) (*red.RouteDescription, error) {
	start := time.Now()
	desc, err := s.routes.GetRoute(ctx, code)
	s.metrics.ObserveUpstream(sourceRed, start, err)
	if err != nil {
		return nil, fmt.Errorf("fetch route %s: %w", code, err)
	}
	return desc, nil
}

func (s *RecorridoService) listServices(ctx context.Context) ([]string, error) {
	start := time.Now()
	codes, err := s.routes.ListServices(ctx)
	s.metrics.ObserveUpstream(sourceRed, start, err)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return codes, nil
}

func normalizeDirection(direction string) (string, error) {
	switch direction {
	case "", red.Ida:
		return red.Ida, nil
	case red.Regreso:
		return red.Regreso, nil
	default:
		return "", fmt.Errorf("%q: %w", direction, ErrInvalidDirection)
	}
}
