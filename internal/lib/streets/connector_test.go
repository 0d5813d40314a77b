package streets

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/movilidad/server/internal/lib/geo"
)

func TestStreetConnector_Connect(t *testing.T) {
	connector := NewStreetConnector()

	from := geo.PointSet{{0, 0}, {1, 1}}
	to := geo.PointSet{{1, 0}, {5, 5}}

	line, ok := connector.Connect(from, to)
	require.True(t, ok)
	require.NotNil(t, line)

	assert.Equal(t, 1.0, geo.Distance(line.From, line.To))
	assert.Contains(t, from, line.From, "From should come from the first street")
	assert.Contains(t, to, line.To, "To should come from the second street")
}

func TestStreetConnector_Empty(t *testing.T) {
	connector := NewStreetConnector()

	line, ok := connector.Connect(geo.PointSet{}, geo.PointSet{{1, 0}})
	assert.False(t, ok)
	assert.Nil(t, line)

	line, ok = connector.Connect(geo.PointSet{{1, 0}}, nil)
	assert.False(t, ok)
	assert.Nil(t, line)
}

func TestConnectionLine_Geometry(t *testing.T) {
	line := ConnectionLine{
		From: geo.Position{Latitude: -33.45, Longitude: -70.66},
		To:   geo.Position{Latitude: -33.46, Longitude: -70.65},
	}

	assert.Equal(t, orb.LineString{{-70.66, -33.45}, {-70.65, -33.46}}, line.LineString())
	assert.Equal(t, "LINESTRING(-70.66 -33.45,-70.65 -33.46)", line.WKT())

	data, err := json.Marshal(line.Geometry())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"LineString","coordinates":[[-70.66,-33.45],[-70.65,-33.46]]}`, string(data))
}
