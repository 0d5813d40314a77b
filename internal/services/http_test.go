package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/movilidad/server/internal/cache"
	"github.com/dpup/movilidad/server/internal/clients/metro"
	"github.com/dpup/movilidad/server/internal/clients/red"
	"github.com/dpup/movilidad/server/internal/clients/uoct"
	"github.com/dpup/movilidad/server/internal/config"
	"github.com/dpup/movilidad/server/internal/lib/geo"
	"github.com/dpup/movilidad/server/internal/metrics"
)

type testAPI struct {
	routes   *MockRouteSource
	geocoder *MockGeocoder
	traffic  *MockTrafficSource
	router   *MockRoadRouter
	metro    *MockMetroSource
	handler  http.Handler
}

func newTestAPI(pairs []config.StreetPair) *testAPI {
	api := &testAPI{
		routes:   new(MockRouteSource),
		geocoder: streetGeocoder(),
		traffic:  new(MockTrafficSource),
		router:   new(MockRoadRouter),
		metro:    new(MockMetroSource),
	}

	m := metrics.NewCollector()
	redConfig := &config.RedConfig{ImportConcurrency: 1, RouteTTL: time.Hour}

	h := NewHandlers(
		NewRecorridoService(api.routes, cache.NewCache(), nil, nil, m, redConfig),
		NewStreetService(api.geocoder, nil, m, 1),
		NewTrafficService(api.traffic, api.geocoder, api.router, m, 1),
		NewMetroService(api.metro, nil, m),
		NewStopService(api.geocoder, m, 1),
		pairs,
	)
	api.handler = h.Router()
	return api
}

func (a *testAPI) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req = req.WithContext(logging.EnsureLogger(req.Context()))
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_GetRecorrido(t *testing.T) {
	api := newTestAPI(nil)
	api.routes.On("GetRoute", mock.Anything, "506").Return(straightRoute(), nil)

	rec := api.do("GET", "/api/recorrido/506", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string          `json:"type"`
				Coordinates json.RawMessage `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]string `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "FeatureCollection", body.Type)
	require.Len(t, body.Features, 3)
	assert.Equal(t, "Point", body.Features[0].Geometry.Type)
	assert.Equal(t, "PA1", body.Features[0].Properties["description"])
	assert.Equal(t, "LineString", body.Features[1].Geometry.Type)
	assert.JSONEq(t, "[[0,0],[0,1],[0,2]]", string(body.Features[1].Geometry.Coordinates))
	assert.Equal(t, "PA1 PA2", body.Features[1].Properties["description"])
}

func TestHandlers_GetRecorridoErrors(t *testing.T) {
	api := newTestAPI(nil)
	api.routes.On("GetRoute", mock.Anything, "506").Return(straightRoute(), nil)
	api.routes.On("GetRoute", mock.Anything, "ZZZ").Return(nil, fmt.Errorf("failed to decode response: %w", red.ErrMalformedRoute))
	api.routes.On("GetRoute", mock.Anything, "B02").Return(nil, errors.New("API error 503"))

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"invalid direction", "/api/recorrido/506?direction=norte", http.StatusBadRequest},
		{"missing return leg", "/api/recorrido/506?direction=regreso", http.StatusNotFound},
		{"malformed payload", "/api/recorrido/ZZZ", http.StatusNotFound},
		{"upstream down", "/api/recorrido/B02", http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do("GET", tt.target, "")
			assert.Equal(t, tt.status, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Message)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHandlers_GetRecorridoKML(t *testing.T) {
	api := newTestAPI(nil)
	api.routes.On("GetRoute", mock.Anything, "506").Return(straightRoute(), nil)

	rec := api.do("GET", "/api/recorrido/506/kml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.google-earth.kml+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "506.kml")
	assert.Equal(t, 3, strings.Count(rec.Body.String(), "<Placemark>"))
}

func TestHandlers_ImportRecorridos(t *testing.T) {
	api := newTestAPI(nil)
	api.routes.On("ListServices", mock.Anything).Return([]string{"506", "B02"}, nil)
	api.routes.On("GetRoute", mock.Anything, "506").Return(straightRoute(), nil)
	api.routes.On("GetRoute", mock.Anything, "B02").Return(nil, errors.New("API error 503"))

	rec := api.do("POST", "/api/recorridos/import", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report ImportReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "B02", report.Failures[0].Code)
}

func TestHandlers_ImportRecorridosListFailure(t *testing.T) {
	api := newTestAPI(nil)
	api.routes.On("ListServices", mock.Anything).Return(nil, errors.New("timeout"))

	rec := api.do("POST", "/api/recorridos/import", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandlers_ConnectStreets(t *testing.T) {
	api := newTestAPI([]config.StreetPair{{From: "Alameda", To: "Inexistente"}})

	t.Run("pairs from body", func(t *testing.T) {
		rec := api.do("POST", "/api/calles/conexiones", `{"pairs":[{"from":"Alameda","to":"Matta"}]}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Results []ConnectionResult `json:"results"`
			GeoJSON struct {
				Features []json.RawMessage `json:"features"`
			} `json:"geojson"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Results, 1)
		assert.Equal(t, metrics.OutcomeConnected, resp.Results[0].Outcome)
		assert.Len(t, resp.GeoJSON.Features, 1)
	})

	t.Run("configured pairs when body is empty", func(t *testing.T) {
		rec := api.do("POST", "/api/calles/conexiones", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Results []ConnectionResult `json:"results"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "Inexistente", resp.Results[0].To)
		assert.Equal(t, metrics.OutcomeUnmatched, resp.Results[0].Outcome)
	})

	t.Run("invalid body", func(t *testing.T) {
		rec := api.do("POST", "/api/calles/conexiones", `{"pairs":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("pair missing a street", func(t *testing.T) {
		rec := api.do("POST", "/api/calles/conexiones", `{"pairs":[{"from":"Alameda"}]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandlers_GetDisponibilidad(t *testing.T) {
	api := newTestAPI(nil)
	from := geo.Position{Latitude: -33.418, Longitude: -70.601}
	to := geo.Position{Latitude: -33.396, Longitude: -70.575}
	api.traffic.On("ListRoutes", mock.Anything).Return([]uoct.WazeRoute{{ID: 7, Name: "Kennedy", FromName: "Tobalaba", ToName: "Manquehue"}}, nil)
	api.geocoder.On("Search", mock.Anything, "Tobalaba").Return(from, nil)
	api.geocoder.On("Search", mock.Anything, "Manquehue").Return(to, nil)
	api.router.On("Route", mock.Anything, from, to).Return(geo.PathPolyline{from, to}, nil)

	rec := api.do("GET", "/api/disponibilidad", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Kennedy"`)
	assert.Contains(t, rec.Body.String(), `"LineString"`)
}

func TestHandlers_GetMetro(t *testing.T) {
	t.Run("stations", func(t *testing.T) {
		api := newTestAPI(nil)
		api.metro = metroSource()
		api.handler = NewHandlers(nil, nil, nil, NewMetroService(api.metro, nil, metrics.NewCollector()), nil, nil).Router()

		rec := api.do("GET", "/api/metro", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var states []StationState
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
		assert.Len(t, states, 2)
	})

	t.Run("no data", func(t *testing.T) {
		api := newTestAPI(nil)
		api.metro.On("NetworkStatus", mock.Anything).Return(map[string]metro.Line{}, nil)
		api.metro.On("Stations", mock.Anything).Return([]metro.Station{}, nil)

		rec := api.do("GET", "/api/metro", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandlers_LocateStops(t *testing.T) {
	api := newTestAPI(nil)
	api.geocoder.On("Search", mock.Anything, "PA433").Return(geo.Position{Latitude: -33.4372, Longitude: -70.6506}, nil)

	rec := api.do("POST", "/api/paraderos/ubicaciones", `{"codigosParaderos":["PA433"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var results []StopLocation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "PA433", results[0].Code)
	require.NotNil(t, results[0].Position)
	assert.Equal(t, -33.4372, results[0].Position.Latitude)

	rec = api.do("POST", "/api/paraderos/ubicaciones", `{"codigosParaderos":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_AttachLoggerOutsidePrefab(t *testing.T) {
	api := newTestAPI([]config.StreetPair{{From: "Alameda", To: "Inexistente"}, {From: "Caida", To: "Matta"}})

	// Requests that bypass prefab's HTTP stack have no logger of their own
	req := httptest.NewRequest("POST", "/api/calles/conexiones", nil)
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() { api.handler.ServeHTTP(rec, req) })
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []ConnectionResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, metrics.OutcomeUnmatched, resp.Results[0].Outcome)
	assert.Equal(t, metrics.OutcomeError, resp.Results[1].Outcome)
}

func TestHandlers_MethodNotAllowed(t *testing.T) {
	api := newTestAPI(nil)

	rec := api.do("GET", "/api/recorridos/import", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
