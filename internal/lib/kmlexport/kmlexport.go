// Package kmlexport renders segmented routes as KML documents for desktop GIS
// tools that don't read GeoJSON.
package kmlexport

import (
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/twpayne/go-kml/v2"

	"github.com/dpup/movilidad/server/internal/lib/routing"
)

// Write encodes the feature collection as an indented KML document. Points and
// LineStrings become Placemarks named after their description; degenerate
// LineStrings (fewer than two vertices) are left out since KML can't draw them.
func Write(w io.Writer, name string, fc *geojson.FeatureCollection) error {
	children := []kml.Element{kml.Name(name)}

	if fc != nil {
		for _, f := range fc.Features {
			placemark, ok := placemarkFor(f)
			if !ok {
				continue
			}
			children = append(children, placemark)
		}
	}

	doc := kml.KML(kml.Document(children...))
	if err := doc.WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML document: %w", err)
	}
	return nil
}

// Placemarks counts the features Write would emit
func Placemarks(fc *geojson.FeatureCollection) int {
	if fc == nil {
		return 0
	}
	n := 0
	for _, f := range fc.Features {
		if _, ok := placemarkFor(f); ok {
			n++
		}
	}
	return n
}

func placemarkFor(f *geojson.Feature) (kml.Element, bool) {
	if f == nil {
		return nil, false
	}
	desc := routing.Description(f)

	switch g := f.Geometry.(type) {
	case orb.Point:
		return kml.Placemark(
			kml.Name(desc),
			kml.Point(kml.Coordinates(coordinate(g))),
		), true
	case orb.LineString:
		if len(g) < 2 {
			return nil, false
		}
		coords := make([]kml.Coordinate, len(g))
		for i, p := range g {
			coords[i] = coordinate(p)
		}
		return kml.Placemark(
			kml.Name(desc),
			kml.Description("Tramo "+desc),
			kml.LineString(kml.Coordinates(coords...)),
		), true
	default:
		return nil, false
	}
}

func coordinate(p orb.Point) kml.Coordinate {
	return kml.Coordinate{Lon: p.Lon(), Lat: p.Lat()}
}
