// Package config defines the pipeline's single configuration surface. Every
// field has a typed default and may be overridden by environment variable
// (FOODATLAS_* prefix) through Load. Load parses no command-line flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the single configuration object described by the pipeline's
// external interface. Required fields have no usable zero value and Load
// returns an error if they are left unset.
type Config struct {
	BrokerURL        string // path to the bbolt broker file
	DBDriver         string // "sqlite" or "postgres"
	DBURL            string
	ContentStorePath string

	LLMProvider         string // "openai", "subprocess", "mock"
	LLMModel            string
	LLMTemperature      float64
	LLMMaxTokens        int
	LLMTimeoutS         int
	LLMAPIKey           string
	LLMSubprocessCmd    string
	LLMQuotaBaseDelayS  int
	LLMQuotaMaxDelayS   int
	LLMQuotaBackoff     float64

	// SecretPassphrase and SecretSalt derive the AES-256 key used to encrypt
	// rotatable secrets (e.g. LLMAPIKey overrides) stored via db.Setting. If
	// SecretPassphrase is unset, encrypted settings are unavailable and
	// components fall back to their directly configured values.
	SecretPassphrase string
	SecretSalt       string

	WorkerCountPerQueue int

	ValidatorScoreThreshold int

	GeocoderProviders     []string
	GeocoderCacheTTLS     int
	GeocoderRateLimitRPS  float64
	GeocoderTimeoutS      int
	GeocoderCircuitFailureThreshold int
	GeocoderCircuitCooldownS        int

	ReconcilerLocationEpsilonM float64
	ReconcilerNameSimilarity   float64
	SourcePriority             []string
	LegacyPermissiveStateCheck bool

	PublisherIntervalS      int
	PublisherRatchetFraction float64
	PublisherRepoPath        string
	PublisherRepoRemote      string

	LogLevel string
}

// Default returns a Config populated with every documented default. Load
// applies environment overrides on top of it.
func Default() *Config {
	return &Config{
		DBDriver:                "sqlite",
		LLMTemperature:          0.7,
		LLMMaxTokens:            65536,
		LLMTimeoutS:             30,
		LLMQuotaBaseDelayS:      3600,
		LLMQuotaMaxDelayS:       14400,
		LLMQuotaBackoff:         1.5,
		WorkerCountPerQueue:     1,
		ValidatorScoreThreshold: 10,
		GeocoderProviders:       []string{"arcgis", "nominatim", "census"},
		GeocoderCacheTTLS:       86400,
		GeocoderRateLimitRPS:    1.0,
		GeocoderTimeoutS:        10,
		GeocoderCircuitFailureThreshold: 5,
		GeocoderCircuitCooldownS:        60,
		ReconcilerLocationEpsilonM: 50,
		ReconcilerNameSimilarity:   0.85,
		PublisherIntervalS:         3600,
		PublisherRatchetFraction:   0.9,
		LogLevel:                   "info",
	}
}

// Load returns a Config seeded with defaults and overridden by environment
// variables, then validates that every required field was supplied.
func Load() (*Config, error) {
	c := Default()

	c.BrokerURL = envOrDefault("FOODATLAS_BROKER_URL", c.BrokerURL)
	c.DBDriver = envOrDefault("FOODATLAS_DB_DRIVER", c.DBDriver)
	c.DBURL = envOrDefault("FOODATLAS_DB_URL", c.DBURL)
	c.ContentStorePath = envOrDefault("FOODATLAS_CONTENT_STORE_PATH", c.ContentStorePath)

	c.LLMProvider = envOrDefault("FOODATLAS_LLM_PROVIDER", c.LLMProvider)
	c.LLMModel = envOrDefault("FOODATLAS_LLM_MODEL", c.LLMModel)
	c.LLMTemperature = envFloatOrDefault("FOODATLAS_LLM_TEMPERATURE", c.LLMTemperature)
	c.LLMMaxTokens = envIntOrDefault("FOODATLAS_LLM_MAX_TOKENS", c.LLMMaxTokens)
	c.LLMTimeoutS = envIntOrDefault("FOODATLAS_LLM_TIMEOUT_S", c.LLMTimeoutS)
	c.LLMAPIKey = envOrDefault("FOODATLAS_LLM_API_KEY", c.LLMAPIKey)
	c.LLMSubprocessCmd = envOrDefault("FOODATLAS_LLM_SUBPROCESS_CMD", c.LLMSubprocessCmd)
	c.LLMQuotaBaseDelayS = envIntOrDefault("FOODATLAS_LLM_QUOTA_BASE_DELAY_S", c.LLMQuotaBaseDelayS)
	c.LLMQuotaMaxDelayS = envIntOrDefault("FOODATLAS_LLM_QUOTA_MAX_DELAY_S", c.LLMQuotaMaxDelayS)
	c.LLMQuotaBackoff = envFloatOrDefault("FOODATLAS_LLM_QUOTA_BACKOFF", c.LLMQuotaBackoff)

	c.SecretPassphrase = envOrDefault("FOODATLAS_SECRET_KEY", c.SecretPassphrase)
	c.SecretSalt = envOrDefault("FOODATLAS_SECRET_KEY_SALT", c.SecretSalt)

	c.WorkerCountPerQueue = envIntOrDefault("FOODATLAS_WORKER_COUNT_PER_QUEUE", c.WorkerCountPerQueue)
	c.ValidatorScoreThreshold = envIntOrDefault("FOODATLAS_VALIDATOR_SCORE_THRESHOLD", c.ValidatorScoreThreshold)

	if v := os.Getenv("FOODATLAS_GEOCODER_PROVIDERS"); v != "" {
		c.GeocoderProviders = strings.Split(v, ",")
	}
	c.GeocoderCacheTTLS = envIntOrDefault("FOODATLAS_GEOCODER_CACHE_TTL_S", c.GeocoderCacheTTLS)
	c.GeocoderRateLimitRPS = envFloatOrDefault("FOODATLAS_GEOCODER_RATE_LIMIT_RPS", c.GeocoderRateLimitRPS)
	c.GeocoderTimeoutS = envIntOrDefault("FOODATLAS_GEOCODER_TIMEOUT_S", c.GeocoderTimeoutS)
	c.GeocoderCircuitFailureThreshold = envIntOrDefault("FOODATLAS_GEOCODER_CIRCUIT_FAILURE_THRESHOLD", c.GeocoderCircuitFailureThreshold)
	c.GeocoderCircuitCooldownS = envIntOrDefault("FOODATLAS_GEOCODER_CIRCUIT_COOLDOWN_S", c.GeocoderCircuitCooldownS)

	c.ReconcilerLocationEpsilonM = envFloatOrDefault("FOODATLAS_RECONCILER_LOCATION_EPSILON_M", c.ReconcilerLocationEpsilonM)
	c.ReconcilerNameSimilarity = envFloatOrDefault("FOODATLAS_RECONCILER_NAME_SIMILARITY", c.ReconcilerNameSimilarity)
	if v := os.Getenv("FOODATLAS_SOURCE_PRIORITY"); v != "" {
		c.SourcePriority = strings.Split(v, ",")
	}
	c.LegacyPermissiveStateCheck = envBoolOrDefault("FOODATLAS_LEGACY_PERMISSIVE_STATE_CHECK", c.LegacyPermissiveStateCheck)

	c.PublisherIntervalS = envIntOrDefault("FOODATLAS_PUBLISHER_INTERVAL_S", c.PublisherIntervalS)
	c.PublisherRatchetFraction = envFloatOrDefault("FOODATLAS_PUBLISHER_RATCHET_FRACTION", c.PublisherRatchetFraction)
	c.PublisherRepoPath = envOrDefault("FOODATLAS_PUBLISHER_REPO_PATH", c.PublisherRepoPath)
	c.PublisherRepoRemote = envOrDefault("FOODATLAS_PUBLISHER_REPO_REMOTE", c.PublisherRepoRemote)

	c.LogLevel = envOrDefault("FOODATLAS_LOG_LEVEL", c.LogLevel)

	return c, c.validate()
}

func (c *Config) validate() error {
	var missing []string
	if c.BrokerURL == "" {
		missing = append(missing, "broker_url")
	}
	if c.DBURL == "" {
		missing = append(missing, "db_url")
	}
	if c.LLMProvider == "" {
		missing = append(missing, "llm_provider")
	}
	if c.ContentStorePath == "" {
		missing = append(missing, "content_store_path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloatOrDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBoolOrDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
