package geo

import "github.com/paulmach/orb"

// Position represents a geographic coordinate in decimal degrees, latitude first
type Position struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Point converts to an orb.Point, which is longitude first (GeoJSON axis order)
func (p Position) Point() orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

// Waypoint is a named stop on a route
type Waypoint struct {
	Code     string   `json:"code"`
	Position Position `json:"position"`
}

// PathPolyline is the ordered trajectory a vehicle travels
type PathPolyline []Position

// PointSet is an unordered sample of a street's geometry. May be empty.
type PointSet []Position

// ClosestPointFinder performs brute-force nearest neighbour searches using planar
// Euclidean distance on raw (lat, lon) pairs. Inputs span a single metropolitan
// area, so only the relative ordering of distances matters.
type ClosestPointFinder interface {
	// Index of the path vertex closest to point. The first minimum wins.
	// The path must be non-empty.
	NearestIndexOnPath(point Position, path PathPolyline) int

	// Closest (a, b) pair across both sets, enumerated a-major then b-minor.
	// Returns false when either set is empty.
	ClosestCrossPair(setA, setB PointSet) (Position, Position, bool)
}

// NewClosestPointFinder is implemented in geo.go
