// Package constants holds cross-package constants for the Watchtower worker:
// queue names, environment variable names, and analysis thresholds.
package constants

import "time"

// CLIName is the name used in user-facing output to refer to the worker binary
const CLIName = "watchtower"

// Environment variable names recognized by the worker
const (
	EnvRedisURL            = "UPSTASH_REDIS_URL"
	EnvRedisToken          = "UPSTASH_REDIS_TOKEN"
	EnvQueueName           = "WATCHTOWER_QUEUE_NAME"
	EnvNewVersionQueueName = "WATCHTOWER_NEW_VERSION_QUEUE_NAME"
	EnvBatchVersionQueue   = "WATCHTOWER_BATCH_VERSION_QUEUE_NAME"
	EnvNodeEnv             = "NODE_ENV"
	EnvDatabaseURL         = "DATABASE_URL"
	EnvPRServiceURL        = "WATCHTOWER_PR_SERVICE_URL"
	EnvNPMRegistryURL      = "WATCHTOWER_NPM_REGISTRY_URL"
)

// Default queue names. Off production, config appends LocalQueueSuffix so that
// local runs never intercept production jobs.
const (
	DefaultQueueName           = "watchtower-jobs"
	DefaultNewVersionQueueName = "watchtower-new-version-jobs"
	DefaultBatchVersionQueue   = "watchtower-batch-version-jobs"
	LocalQueueSuffix           = "-local"
)

// Dispatcher loop timings
const (
	// IdlePollInterval is how long the dispatcher sleeps when all queues are empty
	IdlePollInterval = 5 * time.Second
	// TransportBackoff is the pause after a queue transport error before retrying
	TransportBackoff = 5 * time.Second
	// CandidateDispatchDelay is the courtesy pause between per-project PR dispatches
	CandidateDispatchDelay = 500 * time.Millisecond
)

// Analysis pipeline limits and thresholds
const (
	// MaxPreviousVersions is the number of earlier releases enqueued for batch backfill
	MaxPreviousVersions = 20
	// MaxCommitsExtracted caps how many commits the full-package analysis reads from history
	MaxCommitsExtracted = 200
	// EntropyWarningThreshold flags files with Shannon entropy strictly above this value
	EntropyWarningThreshold = 5.5
	// EntropyFailThreshold fails files outside expected build dirs strictly above this value
	EntropyFailThreshold = 6.0
	// MaxEntropyFileSize skips files larger than this during the entropy scan
	MaxEntropyFileSize = 5 * 1024 * 1024
	// QuarantineWindow is how long a quarantined release cools off before auto-bump resumes
	QuarantineWindow = 7 * 24 * time.Hour
)

// DefaultNPMRegistryURL is the public npm registry endpoint
const DefaultNPMRegistryURL = "https://registry.npmjs.org"
