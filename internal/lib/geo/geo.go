package geo

import (
	"errors"
	"math"

	"github.com/paulmach/orb/planar"
	"github.com/twpayne/go-polyline"
)

// closestPointFinder implements the ClosestPointFinder interface
type closestPointFinder struct{}

// NewClosestPointFinder creates a new ClosestPointFinder implementation
func NewClosestPointFinder() ClosestPointFinder {
	return &closestPointFinder{}
}

// Distance is the planar distance between two positions, in degrees
func Distance(p1, p2 Position) float64 {
	return planar.Distance(p1.Point(), p2.Point())
}

// NearestIndexOnPath scans every vertex of the path. Returns 0 for an empty path;
// callers are expected to guard against that case.
func (f *closestPointFinder) NearestIndexOnPath(point Position, path PathPolyline) int {
	nearest := 0
	minDistance := math.Inf(1)

	for i, vertex := range path {
		// Strict comparison keeps the earliest index on ties
		if d := Distance(point, vertex); d < minDistance {
			minDistance = d
			nearest = i
		}
	}

	return nearest
}

// ClosestCrossPair compares every pair across the two sets. O(|a|*|b|), which is
// fine for single-street vertex counts.
func (f *closestPointFinder) ClosestCrossPair(setA, setB PointSet) (Position, Position, bool) {
	if len(setA) == 0 || len(setB) == 0 {
		return Position{}, Position{}, false
	}

	var bestA, bestB Position
	minDistance := math.Inf(1)

	for _, a := range setA {
		for _, b := range setB {
			if d := Distance(a, b); d < minDistance {
				minDistance = d
				bestA, bestB = a, b
			}
		}
	}

	return bestA, bestB, true
}

// DecodePolyline decodes a Google/OSRM encoded polyline into an ordered path
func DecodePolyline(encoded string) (PathPolyline, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, errors.New("failed to decode polyline: " + err.Error())
	}

	path := make(PathPolyline, len(coords))
	for i, coord := range coords {
		path[i] = Position{
			Latitude:  coord[0],
			Longitude: coord[1],
		}

		if !IsValid(path[i]) {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return path, nil
}

// NewPosition creates a Position from latitude and longitude values with validation
func NewPosition(latitude, longitude float64) (Position, error) {
	p := Position{Latitude: latitude, Longitude: longitude}
	if !IsValid(p) {
		return Position{}, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}
	return p, nil
}

// IsValid validates latitude and longitude ranges
func IsValid(p Position) bool {
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}
