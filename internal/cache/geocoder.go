package cache

import (
	"context"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/movilidad/server/internal/lib/geo"
)

// Geocoder is the lookup surface of the Nominatim client
type Geocoder interface {
	Search(ctx context.Context, query string) (geo.Position, error)
	StreetGeometry(ctx context.Context, street string) (geo.PointSet, error)
}

// CachedGeocoder memoizes successful geocoder lookups. Nominatim allows one
// request per second, and stop codes and street names repeat across batches.
type CachedGeocoder struct {
	geocoder Geocoder
	cache    *Cache
	ttl      time.Duration
}

// NewCachedGeocoder wraps a geocoder with the given cache
func NewCachedGeocoder(geocoder Geocoder, cache *Cache, ttl time.Duration) *CachedGeocoder {
	return &CachedGeocoder{
		geocoder: geocoder,
		cache:    cache,
		ttl:      ttl,
	}
}

func (g *CachedGeocoder) Search(ctx context.Context, query string) (geo.Position, error) {
	ctx = logging.EnsureLogger(ctx)
	key := GeocodeKey("place", query)

	var pos geo.Position
	if found, err := g.cache.Get(key, &pos); err == nil && found {
		return pos, nil
	}

	pos, err := g.geocoder.Search(ctx, query)
	if err != nil {
		return geo.Position{}, err
	}

	if err := g.cache.Set(key, pos, g.ttl, "nominatim"); err != nil {
		logging.Warnw(ctx, "Failed to cache geocoding result", "query", query, "error", err)
	}
	return pos, nil
}

func (g *CachedGeocoder) StreetGeometry(ctx context.Context, street string) (geo.PointSet, error) {
	ctx = logging.EnsureLogger(ctx)
	key := GeocodeKey("street", street)

	var points geo.PointSet
	if found, err := g.cache.Get(key, &points); err == nil && found {
		if points == nil {
			points = geo.PointSet{}
		}
		return points, nil
	}

	points, err := g.geocoder.StreetGeometry(ctx, street)
	if err != nil {
		return nil, err
	}

	if err := g.cache.Set(key, points, g.ttl, "nominatim"); err != nil {
		logging.Warnw(ctx, "Failed to cache street geometry", "street", street, "error", err)
	}
	return points, nil
}
