package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"fieldtrack/geo"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Firebase  FirebaseConfig
	Store     StoreConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Fence     FenceConfig
}

type ServerConfig struct {
	Port        string
	Host        string
	Environment string
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsPath string
	DatabaseURL     string
}

// StoreConfig selects the realtime store backend. "memory" runs entirely
// in-process, for local development and demos.
type StoreConfig struct {
	Backend string // "firebase" or "memory"
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// FenceConfig carries the geofence polygon and the alert escalation delay.
type FenceConfig struct {
	ConfirmDelay time.Duration
	Polygon      []geo.LatLng
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Host:        getEnv("HOST", "0.0.0.0"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
			CredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", "./serviceAccountKey.json"),
			DatabaseURL:     getEnv("FIREBASE_DATABASE_URL", ""),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "firebase"),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseStringSlice(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		},
		RateLimit: RateLimitConfig{
			Requests: parseInt(getEnv("RATE_LIMIT_REQUESTS", "100"), 100),
			Window:   parseDuration(getEnv("RATE_LIMIT_WINDOW", "60"), 60*time.Second),
		},
		Fence: FenceConfig{
			ConfirmDelay: parseDuration(getEnv("FENCE_CONFIRM_DELAY", "5m"), 5*time.Minute),
			Polygon:      parsePolygon(getEnv("FENCE_POLYGON", "")),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, defaultValue int) int {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return defaultValue
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	// If it's just a number, assume seconds
	if i, err := strconv.Atoi(s); err == nil {
		return time.Duration(i) * time.Second
	}
	return defaultValue
}

func parseStringSlice(s string) []string {
	if s == "" {
		return []string{}
	}
	result := []string{}
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

// parsePolygon reads "lat,lng;lat,lng;..." vertex pairs. Empty or
// unparsable values yield nil, which means the built-in default fence.
func parsePolygon(s string) []geo.LatLng {
	if s == "" {
		return nil
	}
	var polygon []geo.LatLng
	for _, pair := range strings.Split(s, ";") {
		parts := strings.Split(strings.TrimSpace(pair), ",")
		if len(parts) != 2 {
			return nil
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			return nil
		}
		polygon = append(polygon, geo.LatLng{Lat: lat, Lng: lng})
	}
	if len(polygon) < 3 {
		return nil
	}
	return polygon
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

func (c *Config) UseMemoryStore() bool {
	return c.Store.Backend == "memory"
}

func (c *Config) Validate() {
	if c.UseMemoryStore() {
		return
	}
	if c.Firebase.ProjectID == "" {
		log.Fatal("FIREBASE_PROJECT_ID must be set")
	}
	if c.Firebase.DatabaseURL == "" {
		log.Fatal("FIREBASE_DATABASE_URL must be set")
	}
	if _, err := os.Stat(c.Firebase.CredentialsPath); os.IsNotExist(err) {
		log.Fatalf("Firebase credentials file not found: %s", c.Firebase.CredentialsPath)
	}
}
