package streets

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"github.com/dpup/movilidad/server/internal/lib/geo"
)

// ConnectionLine joins the closest points of two streets. From lies on the first
// street and To on the second.
type ConnectionLine struct {
	From geo.Position `json:"from"`
	To   geo.Position `json:"to"`
}

// LineString returns the two-point line in (lon, lat) order
func (c ConnectionLine) LineString() orb.LineString {
	return orb.LineString{c.From.Point(), c.To.Point()}
}

func (c ConnectionLine) Geometry() *geojson.Geometry {
	return geojson.NewGeometry(c.LineString())
}

// WKT renders the line for PostGIS, e.g. LINESTRING(-70.6 -33.4,-70.5 -33.4)
func (c ConnectionLine) WKT() string {
	return wkt.MarshalString(c.LineString())
}

// StreetConnector builds synthetic connector lines between streets
type StreetConnector interface {
	// Connect returns false when either street has no geometry
	Connect(from, to geo.PointSet) (*ConnectionLine, bool)
}

type streetConnector struct {
	finder geo.ClosestPointFinder
}

// NewStreetConnector creates a new StreetConnector implementation
func NewStreetConnector() StreetConnector {
	return &streetConnector{
		finder: geo.NewClosestPointFinder(),
	}
}

func (s *streetConnector) Connect(from, to geo.PointSet) (*ConnectionLine, bool) {
	a, b, ok := s.finder.ClosestCrossPair(from, to)
	if !ok {
		return nil, false
	}
	return &ConnectionLine{From: a, To: b}, true
}
