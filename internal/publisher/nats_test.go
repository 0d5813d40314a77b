package publisher

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	messages []published
	err      error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{subject: subject, data: data})
	return nil
}

type countingMetrics struct {
	published, errs, observed int
	connected               bool
}

func (m *countingMetrics) IncNATSPublished()                    { m.published++ }
func (m *countingMetrics) IncNATSPublishErr()                   { m.errs++ }
func (m *countingMetrics) ObservePublishDuration(time.Duration) { m.observed++ }
func (m *countingMetrics) SetNATSConnected(v bool)              { m.connected = v }

func TestPublishRoute(t *testing.T) {
	conn := &fakeConn{}
	m := &countingMetrics{}
	p := &NATSPublisher{conn: conn, prefix: "movilidad", metrics: m}

	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{-70.66, -33.45}))

	require.NoError(t, p.PublishRoute("506", "ida", fc))
	require.Len(t, conn.messages, 1)
	assert.Equal(t, "movilidad.routes.506.ida", conn.messages[0].subject)

	var msg RouteMessage
	require.NoError(t, json.Unmarshal(conn.messages[0].data, &msg))
	assert.Equal(t, "506", msg.Code)
	assert.Equal(t, 1, msg.Segments)
	require.NotNil(t, msg.Features)
	assert.Len(t, msg.Features.Features, 1)

	assert.Equal(t, 1, m.published)
	assert.Equal(t, 1, m.observed)
}

func TestPublishRoute_Error(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	m := &countingMetrics{}
	p := &NATSPublisher{conn: conn, prefix: "movilidad", metrics: m}

	err := p.PublishRoute("506", "ida", geojson.NewFeatureCollection())
	assert.Error(t, err)
	assert.Equal(t, 1, m.errs)
	assert.Equal(t, 0, m.published)
}

func TestPublishRoute_NilPublisher(t *testing.T) {
	var p *NATSPublisher
	assert.NoError(t, p.PublishRoute("506", "ida", geojson.NewFeatureCollection()))
}

func TestSubject_Sanitized(t *testing.T) {
	p := &NATSPublisher{prefix: "movilidad"}

	assert.Equal(t, "movilidad.routes.B02.regreso", p.Subject("B02", "regreso"))
	assert.Equal(t, "movilidad.routes.F_1_.ida", p.Subject("F.1*", "ida"))
	assert.Equal(t, "movilidad.routes._._", p.Subject(" ", ""))
}
