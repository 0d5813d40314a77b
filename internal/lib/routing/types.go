package routing

import (
	"github.com/paulmach/orb/geojson"

	"github.com/dpup/movilidad/server/internal/lib/geo"
)

// DescriptionProperty is the feature property carrying stop codes. Points hold
// a single code, LineStrings hold "<codeA> <codeB>".
const DescriptionProperty = "description"

// RouteSegmenter splits a bus route into per-stop-pair segments
type RouteSegmenter interface {
	// SegmentRoute emits, for each consecutive waypoint pair, the start stop as a
	// Point, the sub-path between the snapped vertices as a LineString, and the end
	// stop as a Point. Fewer than two waypoints yields an empty collection.
	// The path must be non-empty when there are two or more waypoints.
	SegmentRoute(waypoints []geo.Waypoint, path geo.PathPolyline) *geojson.FeatureCollection
}

// NewRouteSegmenter is implemented in segmenter.go
