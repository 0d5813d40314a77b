package routing

import (
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/dpup/movilidad/server/internal/lib/geo"
)

// routeSegmenter implements the RouteSegmenter interface
type routeSegmenter struct {
	finder geo.ClosestPointFinder
}

// NewRouteSegmenter creates a new RouteSegmenter implementation
func NewRouteSegmenter() RouteSegmenter {
	return &routeSegmenter{
		finder: geo.NewClosestPointFinder(),
	}
}

// SegmentRoute produces 3*(n-1) features for n waypoints. Shared stops between
// adjacent pairs are emitted twice.
func (r *routeSegmenter) SegmentRoute(waypoints []geo.Waypoint, path geo.PathPolyline) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if len(waypoints) < 2 {
		return fc
	}

	for i := 0; i < len(waypoints)-1; i++ {
		start := waypoints[i]
		end := waypoints[i+1]

		idxStart := r.finder.NearestIndexOnPath(start.Position, path)
		idxEnd := r.finder.NearestIndexOnPath(end.Position, path)

		fc.Append(stopFeature(start))
		fc.Append(segmentFeature(start.Code, end.Code, subPath(path, idxStart, idxEnd)))
		fc.Append(stopFeature(end))
	}

	return fc
}

// subPath copies path[from..to] inclusive. When the end stop snaps behind the
// start stop the result is empty but non-nil so it encodes as [].
func subPath(path geo.PathPolyline, from, to int) orb.LineString {
	if to < from {
		return make(orb.LineString, 0)
	}

	ls := make(orb.LineString, 0, to-from+1)
	for _, p := range path[from : to+1] {
		ls = append(ls, p.Point())
	}
	return ls
}

func stopFeature(w geo.Waypoint) *geojson.Feature {
	f := geojson.NewFeature(w.Position.Point())
	f.Properties[DescriptionProperty] = w.Code
	return f
}

func segmentFeature(fromCode, toCode string, ls orb.LineString) *geojson.Feature {
	f := geojson.NewFeature(ls)
	f.Properties[DescriptionProperty] = fromCode + " " + toCode
	return f
}

// ParseSegmentDescription splits a LineString description back into its two
// stop codes. Descriptions that don't have exactly two space-separated parts
// are rejected.
func ParseSegmentDescription(desc string) (from, to string, ok bool) {
	parts := strings.Split(desc, " ")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Description returns the feature's description property, or "" when absent
func Description(f *geojson.Feature) string {
	if f == nil {
		return ""
	}
	desc, _ := f.Properties[DescriptionProperty].(string)
	return desc
}
