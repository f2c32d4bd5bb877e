// Package config reads pipeline settings from the environment
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fwextensions/sf-pools/internal/changelog"
	"github.com/fwextensions/sf-pools/internal/registry"
)

// DefaultListingURL is the city page that links every pool facility
const DefaultListingURL = "https://sfrecpark.org/482/Swimming-Pools"

// Config holds the pipeline configuration
type Config struct {
	DataDir           string
	LogLevel          string
	ListingURL        string
	AnthropicAPIKey   string
	AnthropicModel    string
	ForceExtract      bool
	FailOnLargeChange bool
	RequestDelay      time.Duration
	HTTPTimeout       time.Duration
	ExtractTimeout    time.Duration
	Similarity        float64
	Thresholds        changelog.Thresholds
	PushoverToken     string
	PushoverUser      string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3Prefix          string
	PublicURL         string
}

// Load reads configuration from environment variables
func Load() *Config {
	th := changelog.DefaultThresholds()
	th.MinorMaxChanges = getEnvAsInt("SEVERITY_MINOR_MAX", th.MinorMaxChanges)
	th.MajorChanges = getEnvAsInt("SEVERITY_MAJOR_CHANGES", th.MajorChanges)
	th.WholesaleChanges = getEnvAsInt("SEVERITY_WHOLESALE_CHANGES", th.WholesaleChanges)
	th.MajorPercent = getEnvAsFloat("SEVERITY_MAJOR_PERCENT", th.MajorPercent)
	th.WholesalePercent = getEnvAsFloat("SEVERITY_WHOLESALE_PERCENT", th.WholesalePercent)

	return &Config{
		DataDir:           getEnv("SFPOOLS_DATA_DIR", defaultDataDir()),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ListingURL:        getEnv("SFPOOLS_LISTING_URL", DefaultListingURL),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    getEnv("ANTHROPIC_MODEL", ""),
		ForceExtract:      getEnvAsBool("FORCE_EXTRACT", false),
		FailOnLargeChange: !getEnvAsBool("NO_FAIL_ON_LARGE_CHANGE", false),
		RequestDelay:      time.Duration(getEnvAsInt("REQUEST_DELAY_MS", 400)) * time.Millisecond,
		HTTPTimeout:       time.Duration(getEnvAsInt("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		ExtractTimeout:    time.Duration(getEnvAsInt("EXTRACT_TIMEOUT_SECONDS", 300)) * time.Second,
		Similarity:        getEnvAsFloat("SIMILARITY_THRESHOLD", registry.DefaultThreshold),
		Thresholds:        th,
		PushoverToken:     getEnv("PUSHOVER_TOKEN", ""),
		PushoverUser:      getEnv("PUSHOVER_USER", ""),
		S3Bucket:          getEnv("SFPOOLS_S3_BUCKET", ""),
		S3Region:          getEnv("SFPOOLS_S3_REGION", "us-west-2"),
		S3Endpoint:        getEnv("SFPOOLS_S3_ENDPOINT", ""),
		S3Prefix:          getEnv("SFPOOLS_S3_PREFIX", ""),
		PublicURL:         getEnv("SFPOOLS_PUBLIC_URL", ""),
	}
}

// DocumentsDir holds the downloaded schedule PDFs
func (c *Config) DocumentsDir() string {
	return filepath.Join(c.DataDir, "documents")
}

// ManifestPath is the download manifest
func (c *Config) ManifestPath() string {
	return filepath.Join(c.DataDir, "manifest.json")
}

// SourcesPath holds the last discovery result
func (c *Config) SourcesPath() string {
	return filepath.Join(c.DataDir, "discovered.json")
}

// DatabasePath is the sqlite file for the extraction cache and run ledger
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "sfpools.db")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".sfpools")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool treats 1, true, yes and on as set
func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "":
		return defaultValue
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
