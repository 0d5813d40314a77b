package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/dpup/movilidad/server/internal/clients/metro"
	"github.com/dpup/movilidad/server/internal/lib/geo"
	"github.com/dpup/movilidad/server/internal/metrics"
	"github.com/dpup/movilidad/server/internal/store"
)

// MetroService joins subway station status with station locations
type MetroService struct {
	metro   MetroSource
	store   Store
	metrics *metrics.Collector
}

// StationState is a station's status on one line together with its location
type StationState struct {
	Nombre      string       `json:"nombre"`
	Codigo      string       `json:"codigo"`
	Estado      string       `json:"estado"`
	Combinacion string       `json:"combinacion"`
	Linea       string       `json:"linea"`
	Coordenadas string       `json:"coordenadas"`
	Position    geo.Position `json:"position"`
}

// NewMetroService creates a new MetroService. store may be nil.
func NewMetroService(source MetroSource, store Store, m *metrics.Collector) *MetroService {
	return &MetroService{
		metro:   source,
		store:   store,
		metrics: m,
	}
}

// Refresh fetches the network status, attaches coordinates by station code and
// upserts each station. Stations with no usable location are skipped.
func (s *MetroService) Refresh(ctx context.Context) ([]StationState, error) {
	ctx = logging.EnsureLogger(ctx)
	start := time.Now()
	lines, err := s.metro.NetworkStatus(ctx)
	s.metrics.ObserveUpstream(sourceMetro, start, err)
	if err != nil {
		return nil, fmt.Errorf("fetch network status: %w", err)
	}

	start = time.Now()
	stations, err := s.metro.Stations(ctx)
	s.metrics.ObserveUpstream(sourceMetro, start, err)
	if err != nil {
		return nil, fmt.Errorf("fetch stations: %w", err)
	}

	byCode := make(map[string]metro.Station, len(stations))
	for _, st := range stations {
		byCode[st.Codigo] = st
	}

	lineIDs := make([]string, 0, len(lines))
	for id := range lines {
		lineIDs = append(lineIDs, id)
	}
	sort.Strings(lineIDs)

	states := []StationState{}
	for _, lineID := range lineIDs {
		for _, status := range lines[lineID].Estaciones {
			location, ok := byCode[status.Codigo]
			if !ok {
				logging.Warnw(ctx, "Station has no location", "codigo", status.Codigo, "linea", lineID)
				continue
			}
			pos, err := location.Position()
			if err != nil {
				logging.Warnw(ctx, "Station has invalid coordinates", "codigo", status.Codigo, "error", err)
				continue
			}

			state := StationState{
				Nombre:      status.Nombre,
				Codigo:      status.Codigo,
				Estado:      status.Estado,
				Combinacion: status.Combinacion,
				Linea:       lineID,
				Coordenadas: location.Coordenadas,
				Position:    pos,
			}
			states = append(states, state)
			s.persist(ctx, state)
		}
	}

	return states, nil
}

func (s *MetroService) persist(ctx context.Context, state StationState) {
	if s.store == nil {
		return
	}

	row := store.MetroRow{
		Codigo:      state.Codigo,
		Nombre:      state.Nombre,
		Estado:      state.Estado,
		Combinacion: state.Combinacion,
		Linea:       state.Linea,
		WKT:         wkt.MarshalString(state.Position.Point()),
	}
	if err := s.store.UpsertMetroStation(ctx, row); err != nil {
		logging.Warnw(ctx, "Failed to upsert station", "codigo", state.Codigo, "error", err)
		return
	}
	s.metrics.RowsWritten.WithLabelValues("metro").Inc()
}
