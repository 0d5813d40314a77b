package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/dpup/movilidad/server/internal/clients/nominatim"
	"github.com/dpup/movilidad/server/internal/clients/red"
	"github.com/dpup/movilidad/server/internal/lib/geo"
	"github.com/dpup/movilidad/server/internal/lib/kmlexport"
	"github.com/dpup/movilidad/server/internal/lib/routing"
	"github.com/dpup/movilidad/server/internal/lib/streets"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "segment":
		handleSegment()
	case "nearest":
		handleNearest()
	case "connect":
		handleConnect()
	case "decode-polyline":
		handleDecodePolyline()
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handleSegment() {
	fs := flag.NewFlagSet("segment", flag.ExitOnError)
	code := fs.String("route", "", "Service code to fetch from Red (e.g. 506)")
	file := fs.String("route-json", "", "Path to a saved conocerecorrido JSON response")
	direction := fs.String("direction", red.Ida, "Direction: ida or regreso")
	format := fs.String("format", "geojson", "Output format: geojson, kml or summary")
	baseURL := fs.String("base-url", red.DefaultBaseURL, "Red REST base URL")

	fs.Parse(os.Args[2:])

	if *code == "" && *file == "" {
		fmt.Println("Example usage:")
		fmt.Println("  test-route-matcher segment --route 506")
		fmt.Println("  test-route-matcher segment --route 506 --direction regreso --format kml > 506.kml")
		fmt.Println("  test-route-matcher segment --route-json route_506.json --format summary")
		os.Exit(1)
	}

	var desc *red.RouteDescription
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			log.Fatalf("Error reading route file %s: %v", *file, err)
		}
		desc = &red.RouteDescription{}
		if err := json.Unmarshal(data, desc); err != nil {
			log.Fatalf("Error parsing route file: %v", err)
		}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var err error
		desc, err = red.NewClient(*baseURL).GetRoute(ctx, *code)
		if err != nil {
			log.Fatalf("Error fetching route %s: %v", *code, err)
		}
	}

	waypoints, path, err := desc.Trip(*direction)
	if err != nil {
		log.Fatalf("Error reading %s direction: %v", *direction, err)
	}

	fc := routing.NewRouteSegmenter().SegmentRoute(waypoints, path)

	switch *format {
	case "geojson":
		out, err := json.MarshalIndent(fc, "", "  ")
		if err != nil {
			log.Fatalf("Error encoding GeoJSON: %v", err)
		}
		fmt.Println(string(out))
	case "kml":
		if err := kmlexport.Write(os.Stdout, strings.TrimSpace(*code+" "+*direction), fc); err != nil {
			log.Fatalf("Error writing KML: %v", err)
		}
	case "summary":
		printSegmentSummary(waypoints, path, fc.Features)
	default:
		log.Fatalf("Unknown format: %s", *format)
	}
}

func printSegmentSummary(waypoints []geo.Waypoint, path geo.PathPolyline, features []*geojson.Feature) {
	finder := geo.NewClosestPointFinder()

	fmt.Printf("Route segmentation:\n")
	fmt.Printf("  Stops: %d\n", len(waypoints))
	fmt.Printf("  Path vertices: %d\n", len(path))
	fmt.Printf("  Features: %d\n", len(features))

	backwards := 0
	for i := 0; i+1 < len(waypoints); i++ {
		start := finder.NearestIndexOnPath(waypoints[i].Position, path)
		end := finder.NearestIndexOnPath(waypoints[i+1].Position, path)
		marker := ""
		if end < start {
			marker = "  (empty: next stop snaps behind this one)"
			backwards++
		}
		fmt.Printf("    %s -> %s: path[%d..%d]%s\n", waypoints[i].Code, waypoints[i+1].Code, start, end, marker)
	}

	if backwards > 0 {
		fmt.Printf("  Empty segments: %d\n", backwards)
	}
}

func handleNearest() {
	fs := flag.NewFlagSet("nearest", flag.ExitOnError)
	lat := fs.Float64("lat", 0, "Latitude of point")
	lon := fs.Float64("lon", 0, "Longitude of point")
	polylineStr := fs.String("polyline", "", "Encoded polyline string")

	fs.Parse(os.Args[2:])

	if *polylineStr == "" {
		fmt.Println("Example usage:")
		fmt.Println("  test-route-matcher nearest --lat 38.9 --lon -121.0 --polyline \"_p~iF~ps|U_ulLnnqC_mqNvxq`@\"")
		os.Exit(1)
	}

	path, err := geo.DecodePolyline(*polylineStr)
	if err != nil {
		log.Fatalf("Error decoding polyline: %v", err)
	}

	point := geo.Position{Latitude: *lat, Longitude: *lon}
	idx := geo.NewClosestPointFinder().NearestIndexOnPath(point, path)

	fmt.Printf("Nearest path vertex:\n")
	fmt.Printf("  Point: (%.6f, %.6f)\n", point.Latitude, point.Longitude)
	fmt.Printf("  Index: %d of %d\n", idx, len(path))
	fmt.Printf("  Vertex: (%.6f, %.6f)\n", path[idx].Latitude, path[idx].Longitude)
	fmt.Printf("  Planar distance: %.6f degrees\n", geo.Distance(point, path[idx]))
}

func handleConnect() {
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	from := fs.String("from", "", "First street name")
	to := fs.String("to", "", "Second street name")
	fromPoints := fs.String("from-points", "", "First street as \"lat,lon;lat,lon\" instead of geocoding")
	toPoints := fs.String("to-points", "", "Second street as \"lat,lon;lat,lon\" instead of geocoding")
	baseURL := fs.String("base-url", "https://nominatim.openstreetmap.org", "Nominatim base URL")

	fs.Parse(os.Args[2:])

	if (*from == "" && *fromPoints == "") || (*to == "" && *toPoints == "") {
		fmt.Println("Example usage:")
		fmt.Println("  test-route-matcher connect --from \"Avenida Matta\" --to \"Santa Rosa\"")
		fmt.Println("  test-route-matcher connect --from-points \"-33.45,-70.66;-33.44,-70.65\" --to-points \"-33.46,-70.65\"")
		os.Exit(1)
	}

	client := nominatim.NewClient(*baseURL, nominatim.WithCityContext("Santiago, Chile"))

	setA := streetPoints(client, *from, *fromPoints)
	setB := streetPoints(client, *to, *toPoints)

	fmt.Printf("Street connection:\n")
	fmt.Printf("  From: %d points\n", len(setA))
	fmt.Printf("  To: %d points\n", len(setB))

	line, ok := streets.NewStreetConnector().Connect(setA, setB)
	if !ok {
		fmt.Printf("  Result: no connection (a street has no geometry)\n")
		return
	}

	fmt.Printf("  Result: (%.6f, %.6f) -> (%.6f, %.6f)\n",
		line.From.Latitude, line.From.Longitude, line.To.Latitude, line.To.Longitude)
	fmt.Printf("  WKT: %s\n", line.WKT())
}

func streetPoints(client *nominatim.Client, name, literal string) geo.PointSet {
	if literal != "" {
		points, err := parsePoints(literal)
		if err != nil {
			log.Fatalf("Error parsing points: %v", err)
		}
		return points
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	points, err := client.StreetGeometry(ctx, name)
	if err != nil {
		log.Fatalf("Error fetching geometry for %s: %v", name, err)
	}
	return points
}

func parsePoints(s string) (geo.PointSet, error) {
	var points geo.PointSet
	for _, pair := range strings.Split(s, ";") {
		parts := strings.Split(strings.TrimSpace(pair), ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("expected lat,lon but got %q", pair)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude %q: %w", parts[0], err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude %q: %w", parts[1], err)
		}
		p, err := geo.NewPosition(lat, lon)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

func handleDecodePolyline() {
	fs := flag.NewFlagSet("decode-polyline", flag.ExitOnError)
	polylineStr := fs.String("polyline", "", "Encoded polyline string to decode")
	verbose := fs.Bool("verbose", false, "Show all decoded points")

	fs.Parse(os.Args[2:])

	if *polylineStr == "" {
		fmt.Println("Example usage:")
		fmt.Println("  test-route-matcher decode-polyline --polyline \"_p~iF~ps|U_ulLnnqC_mqNvxq`@\"")
		fmt.Println("  test-route-matcher decode-polyline --polyline \"encoded_string\" --verbose")
		os.Exit(1)
	}

	path, err := geo.DecodePolyline(*polylineStr)
	if err != nil {
		log.Fatalf("Error decoding polyline: %v", err)
	}

	fmt.Printf("Polyline decoded successfully:\n")
	fmt.Printf("  Points: %d\n", len(path))
	if len(path) > 0 {
		fmt.Printf("  Start: (%.6f, %.6f)\n", path[0].Latitude, path[0].Longitude)
		fmt.Printf("  End: (%.6f, %.6f)\n", path[len(path)-1].Latitude, path[len(path)-1].Longitude)
	}

	if *verbose {
		fmt.Printf("  All points:\n")
		for i, p := range path {
			fmt.Printf("    %d: (%.6f, %.6f)\n", i, p.Latitude, p.Longitude)
		}
	}
}

func printUsage() {
	fmt.Println("test-route-matcher - Inspect route segmentation and street connections")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  test-route-matcher <command> [flags]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  segment          Cut a bus route into stop-to-stop segments")
	fmt.Println("  nearest          Find the path vertex closest to a point")
	fmt.Println("  connect          Join two streets at their closest points")
	fmt.Println("  decode-polyline  Decode an encoded polyline")
	fmt.Println("  help             Show this help")
	fmt.Println("")
	fmt.Println("Run a command without flags to see example usage.")
}
