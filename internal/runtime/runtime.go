// Package runtime builds the one Runtime value every entrypoint constructs
// at startup and threads into its components, replacing implicit global or
// package-level mutable state with an explicit, passed-around dependency
// set.
package runtime

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/foodatlas/pipeline/internal/broker"
	"github.com/foodatlas/pipeline/internal/config"
	"github.com/foodatlas/pipeline/internal/contentstore"
	"github.com/foodatlas/pipeline/internal/db"
	"github.com/foodatlas/pipeline/internal/geocoder"
	"github.com/foodatlas/pipeline/internal/llmadapter"
)

// Runtime bundles every shared dependency a pipeline component needs:
// the database handle, broker handle, logger, resolved configuration, the
// LLM provider, and the geocoder chain. Built once in Build and passed by
// reference into every worker/runner constructor.
type Runtime struct {
	Config     *config.Config
	Log        *zap.Logger
	DB         *gorm.DB
	Broker     *broker.Broker
	Store      *contentstore.Store
	Blobs      *contentstore.BlobStore
	LLM        *llmadapter.Adapter
	Quota      *llmadapter.QuotaGate
	Geocoder   *geocoder.Chain
}

// Build constructs a Runtime from cfg: opens the database (running
// migrations), opens the broker, builds the content store, the LLM adapter
// for the configured provider, and the geocoder chain for the configured
// provider list. Callers are responsible for calling Close when done.
func Build(cfg *config.Config, log *zap.Logger) (*Runtime, error) {
	gdb, err := db.New(db.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBURL,
		Logger:   log,
		LogLevel: gormlogger.Warn,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: failed to open database: %w", err)
	}

	b, err := broker.Open(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("runtime: failed to open broker: %w", err)
	}

	store := contentstore.New(gdb, cfg.ContentStorePath)

	if cfg.SecretPassphrase != "" {
		if err := db.InitEncryptionFromPassphrase(cfg.SecretPassphrase, cfg.SecretSalt); err != nil {
			return nil, fmt.Errorf("runtime: failed to initialize secret encryption: %w", err)
		}
		if rotated, err := db.GetSetting(context.Background(), gdb, "llm_api_key"); err != nil {
			return nil, fmt.Errorf("runtime: failed to load rotated llm_api_key setting: %w", err)
		} else if rotated != "" {
			log.Info("using rotated llm_api_key from settings store, overriding configured value")
			cfg.LLMAPIKey = rotated
		}
	}

	provider, err := buildLLMProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("runtime: failed to build llm provider: %w", err)
	}

	chain, err := buildGeocoderChain(cfg, b, log)
	if err != nil {
		return nil, fmt.Errorf("runtime: failed to build geocoder chain: %w", err)
	}

	return &Runtime{
		Config:   cfg,
		Log:      log,
		DB:       gdb,
		Broker:   b,
		Store:    store,
		Blobs:    contentstore.NewBlobStore(cfg.ContentStorePath),
		LLM:      llmadapter.New(provider),
		Quota: llmadapter.NewQuotaGate(b, cfg.LLMProvider,
			time.Duration(cfg.LLMQuotaBaseDelayS)*time.Second,
			time.Duration(cfg.LLMQuotaMaxDelayS)*time.Second,
			cfg.LLMQuotaBackoff),
		Geocoder: chain,
	}, nil
}

// Close releases the runtime's own held resources (broker file handle).
// The database's *sql.DB is left open for GORM's own connection pool
// lifecycle, matching db.New's contract.
func (r *Runtime) Close() error {
	return r.Broker.Close()
}

func buildLLMProvider(cfg *config.Config) (llmadapter.Provider, error) {
	switch cfg.LLMProvider {
	case "openai":
		return llmadapter.NewOpenAIProvider(llmadapter.OpenAIConfig{
			APIKey:      cfg.LLMAPIKey,
			Model:       cfg.LLMModel,
			Temperature: cfg.LLMTemperature,
			MaxTokens:   cfg.LLMMaxTokens,
			Timeout:     time.Duration(cfg.LLMTimeoutS) * time.Second,
		}), nil
	case "subprocess":
		return llmadapter.NewSubprocessProvider(llmadapter.SubprocessConfig{
			Command: cfg.LLMSubprocessCmd,
			Timeout: time.Duration(cfg.LLMTimeoutS) * time.Second,
		}), nil
	case "mock":
		return llmadapter.NewMockProvider(""), nil
	default:
		return nil, fmt.Errorf("unknown llm_provider %q", cfg.LLMProvider)
	}
}

func buildGeocoderChain(cfg *config.Config, b *broker.Broker, log *zap.Logger) (*geocoder.Chain, error) {
	cache := geocoder.NewCache(b, time.Duration(cfg.GeocoderCacheTTLS)*time.Second)
	chain := geocoder.NewChain(cache, log)

	cooldown := time.Duration(cfg.GeocoderCircuitCooldownS) * time.Second
	for _, name := range cfg.GeocoderProviders {
		breaker := geocoder.NewCircuitBreaker(b, name, cfg.GeocoderCircuitFailureThreshold, cooldown)
		timeout := time.Duration(cfg.GeocoderTimeoutS) * time.Second

		var p geocoder.Provider
		switch name {
		case "arcgis":
			p = geocoder.NewArcGISProvider(timeout)
		case "nominatim":
			p = geocoder.NewNominatimProvider(timeout, "foodatlas-pipeline/1.0")
		case "census":
			p = geocoder.NewCensusProvider(timeout)
		default:
			return nil, fmt.Errorf("unknown geocoder provider %q", name)
		}
		chain.Add(p, cfg.GeocoderRateLimitRPS, breaker)
	}
	return chain, nil
}
