package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/movilidad/server/internal/clients/metro"
	"github.com/dpup/movilidad/server/internal/lib/geo"
	"github.com/dpup/movilidad/server/internal/metrics"
	"github.com/dpup/movilidad/server/internal/store"
)

func metroSource() *MockMetroSource {
	source := new(MockMetroSource)
	source.On("NetworkStatus", mock.Anything).Return(map[string]metro.Line{
		"l2": {Estado: "1", Estaciones: []metro.StationStatus{
			{Nombre: "Los Heroes", Codigo: "LH", Estado: "1", Combinacion: "L1"},
			{Nombre: "Sin ubicacion", Codigo: "XX", Estado: "1"},
		}},
		"l1": {Estado: "1", Estaciones: []metro.StationStatus{
			{Nombre: "San Pablo", Codigo: "SP", Estado: "2", Combinacion: "L5"},
			{Nombre: "Coordenadas rotas", Codigo: "CR", Estado: "1"},
		}},
	}, nil)
	source.On("Stations", mock.Anything).Return([]metro.Station{
		{Codigo: "SP", Nombre: "San Pablo", Coordenadas: "-33.4445,-70.7233"},
		{Codigo: "LH", Nombre: "Los Heroes", Coordenadas: "-33.4462, -70.6606"},
		{Codigo: "CR", Nombre: "Coordenadas rotas", Coordenadas: "norte"},
	}, nil)
	return source
}

func TestMetroService_Refresh(t *testing.T) {
	st := &fakeStore{}
	svc := NewMetroService(metroSource(), st, metrics.NewCollector())

	states, err := svc.Refresh(testContext(t))
	require.NoError(t, err)
	require.Len(t, states, 2, "Stations without a usable location are skipped")

	// Lines are visited in sorted order
	assert.Equal(t, "SP", states[0].Codigo)
	assert.Equal(t, "l1", states[0].Linea)
	assert.Equal(t, "2", states[0].Estado)
	assert.Equal(t, geo.Position{Latitude: -33.4445, Longitude: -70.7233}, states[0].Position)

	assert.Equal(t, "LH", states[1].Codigo)
	assert.Equal(t, "l2", states[1].Linea)
	assert.Equal(t, "L1", states[1].Combinacion)

	assert.Equal(t, []store.MetroRow{
		{Codigo: "SP", Nombre: "San Pablo", Estado: "2", Combinacion: "L5", Linea: "l1", WKT: "POINT(-70.7233 -33.4445)"},
		{Codigo: "LH", Nombre: "Los Heroes", Estado: "1", Combinacion: "L1", Linea: "l2", WKT: "POINT(-70.6606 -33.4462)"},
	}, st.metro)
}

func TestMetroService_RefreshStoreFailureIsNotFatal(t *testing.T) {
	svc := NewMetroService(metroSource(), &fakeStore{err: errors.New("connection reset")}, metrics.NewCollector())

	states, err := svc.Refresh(testContext(t))
	require.NoError(t, err)
	assert.Len(t, states, 2)
}

func TestMetroService_RefreshUpstreamFailure(t *testing.T) {
	source := new(MockMetroSource)
	source.On("NetworkStatus", mock.Anything).Return(nil, errors.New("API error 500"))

	svc := NewMetroService(source, nil, metrics.NewCollector())

	_, err := svc.Refresh(testContext(t))
	assert.Error(t, err)
	source.AssertNotCalled(t, "Stations", mock.Anything)
}

func TestMetroService_RefreshEmptyNetwork(t *testing.T) {
	source := new(MockMetroSource)
	source.On("NetworkStatus", mock.Anything).Return(map[string]metro.Line{}, nil)
	source.On("Stations", mock.Anything).Return([]metro.Station{}, nil)

	svc := NewMetroService(source, nil, metrics.NewCollector())

	states, err := svc.Refresh(testContext(t))
	require.NoError(t, err)
	assert.NotNil(t, states)
	assert.Empty(t, states)
}
