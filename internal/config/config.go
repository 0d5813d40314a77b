package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dpup/prefab"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration. Sections are loaded
// from prefab.yaml and PF__ environment variables.
type Config struct {
	Transit TransitConfig `koanf:"transit" yaml:"transit"`
}

// TransitConfig holds upstream endpoints and batch settings
type TransitConfig struct {
	Red       RedConfig       `koanf:"red" yaml:"red"`
	Nominatim NominatimConfig `koanf:"nominatim" yaml:"nominatim"`
	OSRM      EndpointConfig  `koanf:"osrm" yaml:"osrm"`
	UOCT      EndpointConfig  `koanf:"uoct" yaml:"uoct"`
	Metro     EndpointConfig  `koanf:"metro" yaml:"metro"`
	Database  DatabaseConfig  `koanf:"database" yaml:"database"`
	NATS      NATSConfig      `koanf:"nats" yaml:"nats"`
	Refresh   RefreshConfig   `koanf:"refresh" yaml:"refresh"`

	// StreetPairsFile lists the street pairs connected by the batch job
	StreetPairsFile string `koanf:"street_pairs_file" yaml:"street_pairs_file"`
}

// EndpointConfig is a bare upstream base URL
type EndpointConfig struct {
	BaseURL string `koanf:"base_url" yaml:"base_url" validate:"required,url"`
}

// RedConfig holds bus route service settings
type RedConfig struct {
	BaseURL           string        `koanf:"base_url" yaml:"base_url" validate:"required,url"`
	ImportConcurrency int           `koanf:"import_concurrency" yaml:"import_concurrency" validate:"min=1,max=64"`
	RouteTTL          time.Duration `koanf:"route_ttl" yaml:"route_ttl" validate:"min=0"`
}

// NominatimConfig holds geocoding settings
type NominatimConfig struct {
	BaseURL     string        `koanf:"base_url" yaml:"base_url" validate:"required,url"`
	CityContext string        `koanf:"city_context" yaml:"city_context"`
	UserAgent   string        `koanf:"user_agent" yaml:"user_agent" validate:"required"`
	Concurrency int           `koanf:"concurrency" yaml:"concurrency" validate:"min=1,max=16"`
	CacheTTL    time.Duration `koanf:"cache_ttl" yaml:"cache_ttl" validate:"min=0"`

	// RequestsPerSecond caps the client across all workers. Zero disables the
	// limit, for self-hosted instances.
	RequestsPerSecond float64 `koanf:"requests_per_second" yaml:"requests_per_second" validate:"min=0"`
}

// DatabaseConfig holds the PostGIS connection. An empty DSN disables persistence.
type DatabaseConfig struct {
	DSN string `koanf:"dsn" yaml:"dsn"`
}

// NATSConfig holds the route publisher settings. An empty URL disables publishing.
type NATSConfig struct {
	URL           string `koanf:"url" yaml:"url"`
	SubjectPrefix string `koanf:"subject_prefix" yaml:"subject_prefix" validate:"required_with=URL"`
}

// RefreshConfig controls the background import loop
type RefreshConfig struct {
	Enabled  bool          `koanf:"enabled" yaml:"enabled"`
	Interval time.Duration `koanf:"interval" yaml:"interval" validate:"min=1m"`
}

// StreetPair names two streets to be joined by a connector line
type StreetPair struct {
	From string `yaml:"from" json:"from" validate:"required"`
	To   string `yaml:"to" json:"to" validate:"required"`
}

type streetPairsFile struct {
	Pairs []StreetPair `yaml:"pairs"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Transit: TransitConfig{
			Red: RedConfig{
				BaseURL:           "https://www.red.cl/restservice_v2/rest",
				ImportConcurrency: 4,
				RouteTTL:          6 * time.Hour,
			},
			Nominatim: NominatimConfig{
				BaseURL:           "https://nominatim.openstreetmap.org",
				CityContext:       "Santiago, Chile",
				UserAgent:         "movilidad-server/1.0",
				Concurrency:       1,
				RequestsPerSecond: 1, // Public Nominatim usage policy
				CacheTTL:          24 * time.Hour,
			},
			OSRM:  EndpointConfig{BaseURL: "https://router.project-osrm.org"},
			UOCT:  EndpointConfig{BaseURL: "https://api.uoct.cl/api/v1"},
			Metro: EndpointConfig{BaseURL: "https://www.metro.cl/api"},
			NATS: NATSConfig{
				SubjectPrefix: "movilidad",
			},
			Refresh: RefreshConfig{
				Enabled:  false,
				Interval: 24 * time.Hour,
			},
			StreetPairsFile: "calles.yaml",
		},
	}
}

// Load reads .env, then layers prefab's "transit" section over the defaults.
// DATABASE_URL and NATS_URL override the file when set.
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if err := prefab.Config.Unmarshal("transit", &cfg.Transit); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transit section: %w", err)
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if dsn := firstNonEmpty(getenv("DATABASE_URL"), getenv("PG_DSN")); dsn != "" {
		c.Transit.Database.DSN = dsn
	}
	if url := getenv("NATS_URL"); url != "" {
		c.Transit.NATS.URL = url
	}
}

// Validate checks struct constraints on every section
func (c *Config) Validate() error {
	if err := validator.New().Struct(c.Transit); err != nil {
		return fmt.Errorf("invalid transit configuration: %w", err)
	}
	return nil
}

// LoadStreetPairs reads the batch street pair list from a YAML file of the form
//
//	pairs:
//	  - from: Alameda
//	    to: Santa Rosa
func LoadStreetPairs(path string) ([]StreetPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read street pairs: %w", err)
	}
	return ParseStreetPairs(data)
}

// ParseStreetPairs decodes and validates a street pair document
func ParseStreetPairs(data []byte) ([]StreetPair, error) {
	var file streetPairsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse street pairs: %w", err)
	}
	if err := ValidateStreetPairs(file.Pairs); err != nil {
		return nil, err
	}
	return file.Pairs, nil
}

// ValidateStreetPairs rejects pairs with a missing street name
func ValidateStreetPairs(pairs []StreetPair) error {
	v := validator.New()
	for i, p := range pairs {
		if err := v.Struct(p); err != nil {
			return fmt.Errorf("street pair %d: %w", i, err)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
