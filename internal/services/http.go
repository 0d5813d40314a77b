package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/gorilla/mux"
	"github.com/paulmach/orb/geojson"

	"github.com/dpup/movilidad/server/internal/clients/red"
	"github.com/dpup/movilidad/server/internal/config"
	"github.com/dpup/movilidad/server/internal/lib/kmlexport"
)

// Handlers exposes the services over HTTP as GeoJSON
type Handlers struct {
	recorridos  *RecorridoService
	streets     *StreetService
	traffic     *TrafficService
	metro       *MetroService
	stops       *StopService
	streetPairs []config.StreetPair
}

// NewHandlers creates the HTTP handlers. streetPairs is the default batch used
// when a connection request has no body.
func NewHandlers(recorridos *RecorridoService, streets *StreetService, traffic *TrafficService, metro *MetroService, stops *StopService, streetPairs []config.StreetPair) *Handlers {
	return &Handlers{
		recorridos:  recorridos,
		streets:     streets,
		traffic:     traffic,
		metro:       metro,
		stops:       stops,
		streetPairs: streetPairs,
	}
}

// RegisterRoutes mounts every endpoint under /api
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.Use(ensureLogger)
	router.HandleFunc("/api/recorrido/{id}", h.GetRecorrido).Methods("GET")
	router.HandleFunc("/api/recorrido/{id}/kml", h.GetRecorridoKML).Methods("GET")
	router.HandleFunc("/api/recorridos/import", h.ImportRecorridos).Methods("POST")
	router.HandleFunc("/api/calles/conexiones", h.ConnectStreets).Methods("POST")
	router.HandleFunc("/api/disponibilidad", h.GetDisponibilidad).Methods("GET")
	router.HandleFunc("/api/metro", h.GetMetro).Methods("GET")
	router.HandleFunc("/api/paraderos/ubicaciones", h.LocateStops).Methods("POST")
}

// Router returns a new router with every endpoint registered
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func (h *Handlers) GetRecorrido(w http.ResponseWriter, r *http.Request) {
	fc, ok := h.recorrido(w, r)
	if !ok {
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, fc)
}

func (h *Handlers) GetRecorridoKML(w http.ResponseWriter, r *http.Request) {
	fc, ok := h.recorrido(w, r)
	if !ok {
		return
	}

	id := mux.Vars(r)["id"]
	var buf bytes.Buffer
	if err := kmlexport.Write(&buf, id+" "+directionParam(r), fc); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "Error al generar KML", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.kml"`)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logging.Warnw(r.Context(), "Failed to write KML response", "error", err)
	}
}

func (h *Handlers) recorrido(w http.ResponseWriter, r *http.Request) (*geojson.FeatureCollection, bool) {
	id := mux.Vars(r)["id"]

	fc, err := h.recorridos.GetRoute(r.Context(), id, directionParam(r))
	switch {
	case err == nil:
		return fc, true
	case errors.Is(err, ErrInvalidDirection):
		writeError(r.Context(), w, http.StatusBadRequest, "Dirección inválida", err)
	case errors.Is(err, red.ErrMalformedRoute):
		writeError(r.Context(), w, http.StatusNotFound, "Datos no encontrados", err)
	default:
		writeError(r.Context(), w, http.StatusBadGateway, "Error en la importación de datos.", err)
	}
	return nil, false
}

func (h *Handlers) ImportRecorridos(w http.ResponseWriter, r *http.Request) {
	report, err := h.recorridos.ImportAll(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "Error al obtener los servicios", err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, report)
}

type connectRequest struct {
	Pairs []config.StreetPair `json:"pairs"`
}

type connectResponse struct {
	Results  []ConnectionResult         `json:"results"`
	Features *geojson.FeatureCollection `json:"geojson"`
}

func (h *Handlers) ConnectStreets(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	pairs := h.streetPairs
	if len(bytes.TrimSpace(body)) > 0 {
		var req connectRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		if err := config.ValidateStreetPairs(req.Pairs); err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "Invalid street pairs", err)
			return
		}
		pairs = req.Pairs
	}

	results := h.streets.ConnectPairs(r.Context(), pairs)
	writeJSON(r.Context(), w, http.StatusOK, connectResponse{
		Results:  results,
		Features: ConnectionsGeoJSON(results),
	})
}

func (h *Handlers) GetDisponibilidad(w http.ResponseWriter, r *http.Request) {
	fc, err := h.traffic.Disponibilidad(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "Error fetching UOCT data.", err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, fc)
}

func (h *Handlers) GetMetro(w http.ResponseWriter, r *http.Request) {
	stations, err := h.metro.Refresh(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "Error en la importación de datos.", err)
		return
	}
	if len(stations) == 0 {
		writeError(r.Context(), w, http.StatusNotFound, "Datos no encontrados", nil)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, stations)
}

type locateRequest struct {
	Codes []string `json:"codigosParaderos"`
}

func (h *Handlers) LocateStops(w http.ResponseWriter, r *http.Request) {
	var req locateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Codes) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "codigosParaderos is required", nil)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, h.stops.Locate(r.Context(), req.Codes))
}

// ensureLogger gives requests that did not come through prefab a logger
func ensureLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logging.EnsureLogger(r.Context())))
	})
}

func directionParam(r *http.Request) string {
	if d := r.URL.Query().Get("direction"); d != "" {
		return d
	}
	return red.Ida
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, message string, err error) {
	resp := errorResponse{Message: message}
	if err != nil {
		resp.Error = err.Error()
		if status >= 500 {
			logging.Errorw(ctx, message, "error", err, "status", status)
		}
	}
	writeJSON(ctx, w, status, resp)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warnw(ctx, "Failed to encode response", "error", err)
	}
}
