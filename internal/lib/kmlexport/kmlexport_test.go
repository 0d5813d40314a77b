package kmlexport

import (
	"bytes"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/movilidad/server/internal/lib/geo"
	"github.com/dpup/movilidad/server/internal/lib/routing"
)

func testCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	start := geojson.NewFeature(orb.Point{-70.66, -33.45})
	start.Properties["description"] = "PA1"
	fc.Append(start)

	segment := geojson.NewFeature(orb.LineString{{-70.66, -33.45}, {-70.65, -33.44}})
	segment.Properties["description"] = "PA1 PA2"
	fc.Append(segment)

	end := geojson.NewFeature(orb.Point{-70.65, -33.44})
	end.Properties["description"] = "PA2"
	fc.Append(end)

	backward := geojson.NewFeature(make(orb.LineString, 0))
	backward.Properties["description"] = "PA2 PA1"
	fc.Append(backward)

	return fc
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, "506 ida", testCollection())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "<kml")
	assert.Contains(t, out, "<name>506 ida</name>")
	assert.Contains(t, out, "<name>PA1 PA2</name>")
	assert.Contains(t, out, "-70.66,-33.45")
	assert.NotContains(t, out, "PA2 PA1", "Empty LineStrings should be skipped")
	assert.Equal(t, 3, strings.Count(out, "<Placemark>"))
}

func TestWrite_NilCollection(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "empty", nil))
	assert.Contains(t, buf.String(), "<name>empty</name>")
	assert.NotContains(t, buf.String(), "<Placemark>")
}

func TestPlacemarks(t *testing.T) {
	assert.Equal(t, 3, Placemarks(testCollection()))
	assert.Equal(t, 0, Placemarks(nil))
	assert.Equal(t, 0, Placemarks(geojson.NewFeatureCollection()))
}

func TestWrite_SegmentedRoute(t *testing.T) {
	waypoints := []geo.Waypoint{
		{Code: "PA1", Position: geo.Position{Latitude: -33.45, Longitude: -70.66}},
		{Code: "PA2", Position: geo.Position{Latitude: -33.44, Longitude: -70.64}},
	}
	path := geo.PathPolyline{
		{Latitude: -33.45, Longitude: -70.66},
		{Latitude: -33.445, Longitude: -70.65},
		{Latitude: -33.44, Longitude: -70.64},
	}
	fc := routing.NewRouteSegmenter().SegmentRoute(waypoints, path)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "506 ida", fc))

	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, "<Placemark>"))
	assert.Contains(t, out, "<name>PA1</name>")
	assert.Contains(t, out, "<name>PA1 PA2</name>")
	assert.Contains(t, out, "<name>PA2</name>")
}
