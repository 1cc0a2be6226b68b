// Package config loads Watchtower worker configuration from the environment,
// optionally overlaid on a watchtower.yml file. Environment variables always
// win over file values.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/deptex/watchtower/pkg/constants"
	"github.com/deptex/watchtower/pkg/logger"
)

var log = logger.New("watchtower:config")

// Config holds the full worker configuration
type Config struct {
	// RedisURL is the queue endpoint. Empty disables the worker.
	RedisURL string `yaml:"redis_url"`
	// RedisToken authenticates against the queue endpoint
	RedisToken string `yaml:"redis_token"`

	// QueueName is the main (full package analysis) queue
	QueueName string `yaml:"queue_name"`
	// NewVersionQueueName is the highest-priority queue
	NewVersionQueueName string `yaml:"new_version_queue_name"`
	// BatchQueueName is the low-priority backfill queue
	BatchQueueName string `yaml:"batch_queue_name"`

	// Environment mirrors NODE_ENV; anything but "production" is a local tier
	Environment string `yaml:"environment"`

	// DatabaseURL is the Postgres connection string for the storage gateway
	DatabaseURL string `yaml:"database_url"`
	// PRServiceURL is the endpoint of the bump-PR sub-service
	PRServiceURL string `yaml:"pr_service_url"`
	// NPMRegistryURL overrides the public npm registry endpoint
	NPMRegistryURL string `yaml:"npm_registry_url"`
}

// Load reads configuration from the optional file at path (ignored when the
// file does not exist) and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			log.Printf("No config file at %s, using environment only", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			log.Printf("Loaded config file %s", path)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg
func applyEnv(cfg *Config) {
	setIfPresent(&cfg.RedisURL, constants.EnvRedisURL)
	setIfPresent(&cfg.RedisToken, constants.EnvRedisToken)
	setIfPresent(&cfg.QueueName, constants.EnvQueueName)
	setIfPresent(&cfg.NewVersionQueueName, constants.EnvNewVersionQueueName)
	setIfPresent(&cfg.BatchQueueName, constants.EnvBatchVersionQueue)
	setIfPresent(&cfg.Environment, constants.EnvNodeEnv)
	setIfPresent(&cfg.DatabaseURL, constants.EnvDatabaseURL)
	setIfPresent(&cfg.PRServiceURL, constants.EnvPRServiceURL)
	setIfPresent(&cfg.NPMRegistryURL, constants.EnvNPMRegistryURL)
}

func setIfPresent(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// applyDefaults fills queue names and registry URL. Default queue names get
// the local suffix off production so local runs never intercept production
// jobs; explicitly configured names are used verbatim.
func applyDefaults(cfg *Config) {
	suffix := ""
	if !cfg.IsProduction() {
		suffix = constants.LocalQueueSuffix
	}

	if cfg.QueueName == "" {
		cfg.QueueName = constants.DefaultQueueName + suffix
	}
	if cfg.NewVersionQueueName == "" {
		cfg.NewVersionQueueName = constants.DefaultNewVersionQueueName + suffix
	}
	if cfg.BatchQueueName == "" {
		cfg.BatchQueueName = constants.DefaultBatchVersionQueue + suffix
	}
	if cfg.NPMRegistryURL == "" {
		cfg.NPMRegistryURL = constants.DefaultNPMRegistryURL
	}
}

// IsProduction reports whether this process runs in the production tier
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsTest reports whether this process runs under the test tier, where the
// worker entrypoint is disabled
func (c *Config) IsTest() bool {
	return c.Environment == "test"
}

// WorkerEnabled reports whether the worker can run at all: queue credentials
// must be present and the tier must not be test
func (c *Config) WorkerEnabled() bool {
	return c.RedisURL != "" && !c.IsTest()
}

// Validate checks invariants needed before the worker loop starts
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("missing queue credentials: %s is not set", constants.EnvRedisURL)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("missing storage configuration: %s is not set", constants.EnvDatabaseURL)
	}
	return nil
}
