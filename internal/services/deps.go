package services

import (
	"context"

	"github.com/paulmach/orb/geojson"

	"github.com/dpup/movilidad/server/internal/clients/metro"
	"github.com/dpup/movilidad/server/internal/clients/red"
	"github.com/dpup/movilidad/server/internal/clients/uoct"
	"github.com/dpup/movilidad/server/internal/lib/geo"
	"github.com/dpup/movilidad/server/internal/store"
)

// Upstream metric sources
const (
	sourceRed       = "red"
	sourceNominatim = "nominatim"
	sourceOSRM      = "osrm"
	sourceUOCT      = "uoct"
	sourceMetro     = "metro"
)

// RouteSource is implemented by *red.Client
type RouteSource interface {
	ListServices(ctx context.Context) ([]string, error)
	GetRoute(ctx context.Context, code string) (*red.RouteDescription, error)
}

// Geocoder is implemented by *nominatim.Client and *cache.CachedGeocoder
type Geocoder interface {
	Search(ctx context.Context, query string) (geo.Position, error)
	StreetGeometry(ctx context.Context, street string) (geo.PointSet, error)
}

// RoadRouter is implemented by *osrm.Client
type RoadRouter interface {
	Route(ctx context.Context, from, to geo.Position) (geo.PathPolyline, error)
}

// TrafficSource is implemented by *uoct.Client
type TrafficSource interface {
	ListRoutes(ctx context.Context) ([]uoct.WazeRoute, error)
}

// MetroSource is implemented by *metro.Client
type MetroSource interface {
	NetworkStatus(ctx context.Context) (map[string]metro.Line, error)
	Stations(ctx context.Context) ([]metro.Station, error)
}

// Store is implemented by *store.Store. Services accept a nil Store and skip
// persistence.
type Store interface {
	InsertCalle(ctx context.Context, row store.CalleRow) error
	UpsertMetroStation(ctx context.Context, row store.MetroRow) error
	InsertConnection(ctx context.Context, row store.ConnectionRow) error
}

// RoutePublisher is implemented by *publisher.NATSPublisher. May be nil.
type RoutePublisher interface {
	PublishRoute(code, direction string, fc *geojson.FeatureCollection) error
}
