package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/nats-io/nats.go"
	"github.com/paulmach/orb/geojson"
)

// PublisherMetrics receives publish outcomes
type PublisherMetrics interface {
	IncNATSPublished()
	IncNATSPublishErr()
	ObservePublishDuration(d time.Duration)
	SetNATSConnected(connected bool)
}

type conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher announces freshly segmented routes on NATS subjects of the form
// <prefix>.routes.<code>.<direction>
type NATSPublisher struct {
	nc      *nats.Conn
	conn    conn
	prefix  string
	metrics PublisherMetrics
}

// RouteMessage is the payload published for a segmented route
type RouteMessage struct {
	Code        string                     `json:"code"`
	Direction   string                     `json:"direction"`
	Segments    int                        `json:"segments"`
	GeneratedAt time.Time                  `json:"generatedAt"`
	Features    *geojson.FeatureCollection `json:"features"`
}

func NewNATSPublisher(url, prefix string, m PublisherMetrics) (*NATSPublisher, error) {
	ctx := logging.EnsureLogger(context.Background())
	nc, err := nats.Connect(url,
		nats.Name("movilidad-server"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.SetNATSConnected(false)
			}
			logging.Warnw(ctx, "NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetNATSConnected(true)
			}
			logging.Infow(ctx, "NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetNATSConnected(false)
			}
			logging.Infow(ctx, "NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	if m != nil {
		m.SetNATSConnected(true)
	}
	return &NATSPublisher{nc: nc, conn: nc, prefix: prefix, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// Subject returns the subject a route direction is published on
func (p *NATSPublisher) Subject(code, direction string) string {
	return fmt.Sprintf("%s.routes.%s.%s", p.prefix, subjectToken(code), subjectToken(direction))
}

// PublishRoute publishes a segmented route. A nil publisher is a no-op so
// callers don't need to check whether publishing is configured.
func (p *NATSPublisher) PublishRoute(code, direction string, fc *geojson.FeatureCollection) error {
	if p == nil {
		return nil
	}

	msg := RouteMessage{
		Code:        code,
		Direction:   direction,
		GeneratedAt: time.Now().UTC(),
		Features:    fc,
	}
	if fc != nil {
		msg.Segments = len(fc.Features)
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal route %s: %w", code, err)
	}

	start := time.Now()
	err = p.conn.Publish(p.Subject(code, direction), b)
	if p.metrics != nil {
		p.metrics.ObservePublishDuration(time.Since(start))
		if err != nil {
			p.metrics.IncNATSPublishErr()
		} else {
			p.metrics.IncNATSPublished()
		}
	}
	if err != nil {
		return fmt.Errorf("publish route %s: %w", code, err)
	}
	return nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
