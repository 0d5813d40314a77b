package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"
	"github.com/gorilla/mux"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dpup/movilidad/server/internal/cache"
	"github.com/dpup/movilidad/server/internal/clients/metro"
	"github.com/dpup/movilidad/server/internal/clients/nominatim"
	"github.com/dpup/movilidad/server/internal/clients/osrm"
	"github.com/dpup/movilidad/server/internal/clients/red"
	"github.com/dpup/movilidad/server/internal/clients/uoct"
	"github.com/dpup/movilidad/server/internal/config"
	"github.com/dpup/movilidad/server/internal/metrics"
	"github.com/dpup/movilidad/server/internal/publisher"
	"github.com/dpup/movilidad/server/internal/services"
	"github.com/dpup/movilidad/server/internal/store"
)

func main() {
	// Background work runs outside prefab's request scope and needs its own logger
	ctx := logging.EnsureLogger(context.Background())

	// Load configuration using Prefab's config system
	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	transit := appConfig.Transit

	collector := metrics.NewCollector()

	cacheInstance := cache.NewCache()
	cacheInstance.StartPeriodicCleanup(ctx, time.Hour)
	collector.TrackCache(cacheInstance.Stats)

	// Initialize external API clients
	redClient := red.NewClient(transit.Red.BaseURL)
	nominatimClient := nominatim.NewClient(transit.Nominatim.BaseURL,
		nominatim.WithCityContext(transit.Nominatim.CityContext),
		nominatim.WithUserAgent(transit.Nominatim.UserAgent),
		nominatim.WithRateLimit(transit.Nominatim.RequestsPerSecond))
	geocoder := cache.NewCachedGeocoder(nominatimClient, cacheInstance, transit.Nominatim.CacheTTL)
	osrmClient := osrm.NewClient(transit.OSRM.BaseURL)
	uoctClient := uoct.NewClient(transit.UOCT.BaseURL)
	metroClient := metro.NewClient(transit.Metro.BaseURL)

	// Persistence and publishing are optional. Leave the interfaces nil when
	// unconfigured so services skip them.
	var routeStore services.Store
	if transit.Database.DSN != "" {
		db := openStore(ctx, transit.Database.DSN)
		defer db.Close()
		routeStore = db
	} else {
		log.Printf("No database configured, persistence disabled")
	}

	var routePublisher services.RoutePublisher
	if transit.NATS.URL != "" {
		pub, err := publisher.NewNATSPublisher(transit.NATS.URL, transit.NATS.SubjectPrefix, collector)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer pub.Close()
		routePublisher = pub
		log.Printf("Publishing routes to NATS under %s.routes", transit.NATS.SubjectPrefix)
	}

	streetPairs, err := config.LoadStreetPairs(transit.StreetPairsFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("Street pair file %s not found, batch connections need a request body", transit.StreetPairsFile)
	case err != nil:
		log.Fatalf("Failed to load street pairs: %v", err)
	}

	recorridoService := services.NewRecorridoService(redClient, cacheInstance, routeStore, routePublisher, collector, &transit.Red)
	streetService := services.NewStreetService(geocoder, routeStore, collector, transit.Nominatim.Concurrency)
	trafficService := services.NewTrafficService(uoctClient, geocoder, osrmClient, collector, transit.Nominatim.Concurrency)
	metroService := services.NewMetroService(metroClient, routeStore, collector)
	stopService := services.NewStopService(geocoder, collector, transit.Nominatim.Concurrency)

	handlers := services.NewHandlers(recorridoService, streetService, trafficService, metroService, stopService, streetPairs)
	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	log.Printf("Movilidad server starting")
	log.Printf("Street pairs configured: %d", len(streetPairs))

	if transit.Refresh.Enabled {
		periodicRefresh := services.NewPeriodicRefreshService(recorridoService, metroService, transit.Refresh.Interval)
		if err := periodicRefresh.StartPeriodicRefresh(ctx); err != nil {
			log.Printf("Failed to start periodic refresh: %v", err)
		}
		defer periodicRefresh.Stop()
	}

	// Server configuration (port, etc.) will be loaded from prefab.yaml/env vars
	server := prefab.New(
		prefab.WithGRPCReflection(),
		prefab.WithHTTPHandlerFunc("/api/", router.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/metrics", collector.Handler().ServeHTTP),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("movilidad", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(server.ServiceRegistrar(), healthServer)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func openStore(ctx context.Context, dsn string) *store.Store {
	db, err := store.Open(dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Ping(ctx); err != nil {
		log.Fatalf("Failed to reach database: %v", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to create schema: %v", err)
	}
	log.Printf("Connected to PostGIS")
	return db
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>movilidad</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        a { color: #0ff; text-decoration: none; }
        a:hover { text-decoration: underline; }
        pre { margin: 0; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">movilidad</span>

Transit geometry for Santiago: bus routes cut into stop-to-stop segments,
street connectors, traffic corridors and metro station status.

<span class="header">API Endpoints:</span>

Recorridos:
  <a href="/api/recorrido/506">GET /api/recorrido/{id}</a>              - Route segments as GeoJSON (?direction=ida|regreso)
  <a href="/api/recorrido/506/kml">GET /api/recorrido/{id}/kml</a>          - Route segments as KML
  POST /api/recorridos/import          - Import every service into PostGIS

Calles:
  POST /api/calles/conexiones          - Connect street pairs

Tráfico y Metro:
  <a href="/api/disponibilidad">GET /api/disponibilidad</a>              - UOCT congestion corridors
  <a href="/api/metro">GET /api/metro</a>                      - Metro station status
  POST /api/paraderos/ubicaciones      - Geocode bus stop codes

<span class="header">Data Sources:</span>
  • Red Movilidad       - Bus routes and stops
  • Nominatim / OSRM    - Geocoding and road geometry
  • UOCT                - Traffic corridors
  • Metro de Santiago   - Network status

<span class="header">Operations:</span>
  <a href="/metrics">GET /metrics</a>                         - Prometheus metrics
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}
