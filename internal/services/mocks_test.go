package services

import (
	"context"
	"sync"
	"testing"

	"github.com/dpup/prefab/logging"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/mock"

	"github.com/dpup/movilidad/server/internal/clients/metro"
	"github.com/dpup/movilidad/server/internal/clients/red"
	"github.com/dpup/movilidad/server/internal/clients/uoct"
	"github.com/dpup/movilidad/server/internal/lib/geo"
	"github.com/dpup/movilidad/server/internal/store"
)

// testContext carries a logger, as requests served by prefab do
func testContext(t *testing.T) context.Context {
	return logging.EnsureLogger(t.Context())
}

type MockRouteSource struct {
	mock.Mock
}

func (m *MockRouteSource) ListServices(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	codes, _ := args.Get(0).([]string)
	return codes, args.Error(1)
}

func (m *MockRouteSource) GetRoute(ctx context.Context, code string) (*red.RouteDescription, error) {
	args := m.Called(ctx, code)
	desc, _ := args.Get(0).(*red.RouteDescription)
	return desc, args.Error(1)
}

type MockGeocoder struct {
	mock.Mock
}

func (m *MockGeocoder) Search(ctx context.Context, query string) (geo.Position, error) {
	args := m.Called(ctx, query)
	return args.Get(0).(geo.Position), args.Error(1)
}

func (m *MockGeocoder) StreetGeometry(ctx context.Context, street string) (geo.PointSet, error) {
	args := m.Called(ctx, street)
	points, _ := args.Get(0).(geo.PointSet)
	return points, args.Error(1)
}

type MockRoadRouter struct {
	mock.Mock
}

func (m *MockRoadRouter) Route(ctx context.Context, from, to geo.Position) (geo.PathPolyline, error) {
	args := m.Called(ctx, from, to)
	path, _ := args.Get(0).(geo.PathPolyline)
	return path, args.Error(1)
}

type MockTrafficSource struct {
	mock.Mock
}

func (m *MockTrafficSource) ListRoutes(ctx context.Context) ([]uoct.WazeRoute, error) {
	args := m.Called(ctx)
	routes, _ := args.Get(0).([]uoct.WazeRoute)
	return routes, args.Error(1)
}

type MockMetroSource struct {
	mock.Mock
}

func (m *MockMetroSource) NetworkStatus(ctx context.Context) (map[string]metro.Line, error) {
	args := m.Called(ctx)
	lines, _ := args.Get(0).(map[string]metro.Line)
	return lines, args.Error(1)
}

func (m *MockMetroSource) Stations(ctx context.Context) ([]metro.Station, error) {
	args := m.Called(ctx)
	stations, _ := args.Get(0).([]metro.Station)
	return stations, args.Error(1)
}

// fakeStore records every row it is given. err, when set, fails every write.
type fakeStore struct {
	mu          sync.Mutex
	calles      []store.CalleRow
	metro       []store.MetroRow
	connections []store.ConnectionRow
	err         error
}

func (s *fakeStore) InsertCalle(_ context.Context, row store.CalleRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calles = append(s.calles, row)
	return nil
}

func (s *fakeStore) UpsertMetroStation(_ context.Context, row store.MetroRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.metro = append(s.metro, row)
	return nil
}

func (s *fakeStore) InsertConnection(_ context.Context, row store.ConnectionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.connections = append(s.connections, row)
	return nil
}

type published struct {
	code      string
	direction string
	features  int
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (p *fakePublisher) PublishRoute(code, direction string, fc *geojson.FeatureCollection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{code: code, direction: direction, features: len(fc.Features)})
	return nil
}

// straightRoute runs north along the meridian with stops at both ends
func straightRoute() *red.RouteDescription {
	return &red.RouteDescription{
		Ida: &red.Direction{
			Path: [][]float64{{0, 0}, {1, 0}, {2, 0}},
			Paraderos: []red.Paradero{
				{Cod: "PA1", Name: "Origen", Pos: []float64{0, 0}},
				{Cod: "PA2", Name: "Destino", Pos: []float64{2, 0}},
			},
		},
	}
}

// roundTrip adds a return leg that retraces the outbound path
func roundTrip() *red.RouteDescription {
	desc := straightRoute()
	desc.Regreso = &red.Direction{
		Path: [][]float64{{2, 0}, {1, 0}, {0, 0}},
		Paraderos: []red.Paradero{
			{Cod: "PA2", Name: "Destino", Pos: []float64{2, 0}},
			{Cod: "PA3", Name: "Medio", Pos: []float64{1, 0}},
			{Cod: "PA1", Name: "Origen", Pos: []float64{0, 0}},
		},
	}
	return desc
}
