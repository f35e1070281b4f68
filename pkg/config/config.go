// Package config loads configuration for the indexing and search
// coordination core from environment variables, with an optional YAML
// file overlay.
//
// Configuration is loaded with LoadFromEnv() and should be validated
// with Validate() before use.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the core, organized by subsystem.
type Config struct {
	Store         StoreConfig         `yaml:"store"`
	AppManager    AppManagerConfig    `yaml:"appManager"`
	IndexManager  IndexManagerConfig  `yaml:"indexManager"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	HybridSearch  HybridSearchConfig  `yaml:"hybridSearch"`
	Lock          LockConfig          `yaml:"lock"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// StoreConfig configures the Store Client (§4.1).
type StoreConfig struct {
	ConfigURL   string        `yaml:"configUrl"`
	DocumentURL string        `yaml:"documentUrl"`
	QueryURL    string        `yaml:"queryUrl"`

	FeedConcurrency           int           `yaml:"feedConcurrency"`
	GetConcurrency            int           `yaml:"getConcurrency"`
	DeleteConcurrency         int           `yaml:"deleteConcurrency"`
	PartialUpdateConcurrency  int           `yaml:"partialUpdateConcurrency"`

	FeedTimeout         time.Duration `yaml:"feedTimeout"`
	QueryTimeout        time.Duration `yaml:"queryTimeout"`
	ConvergencePollEvery time.Duration `yaml:"convergencePollEvery"`
	ConvergenceTimeout   time.Duration `yaml:"convergenceTimeout"`
}

// AppManagerConfig configures the Application Package Manager (§4.2).
type AppManagerConfig struct {
	BundleDir       string `yaml:"bundleDir"`
	MarqoVersion    string `yaml:"marqoVersion"`
	BackupOnDeploy  bool   `yaml:"backupOnDeploy"`

	// SessionCacheDir persists in-flight deployment-session bookkeeping
	// (pkg/modelcache) so an orphaned session survives a process
	// restart for inspection. Empty means in-memory only.
	SessionCacheDir string `yaml:"sessionCacheDir"`
}

// IndexManagerConfig configures the Index Manager (§4.3).
type IndexManagerConfig struct {
	DefaultEfConstruction int `yaml:"defaultEfConstruction"`
	DefaultM              int `yaml:"defaultM"`
}

// PipelineConfig configures the Document Pipeline (§4.4).
type PipelineConfig struct {
	MaxDocsPerBatch int   `yaml:"maxDocsPerBatch"`
	MaxDocBytes     int64 `yaml:"maxDocBytes"`

	ImageDownloadConcurrency int           `yaml:"imageDownloadConcurrency"`
	MediaDownloadConcurrency int           `yaml:"mediaDownloadConcurrency"`
	MediaDownloadTimeout     time.Duration `yaml:"mediaDownloadTimeout"`
	MaxVideoAudioFileBytes   int64         `yaml:"maxVideoAudioFileBytes"`
}

// HybridSearchConfig configures the Hybrid Search Coordinator (§4.5).
type HybridSearchConfig struct {
	DefaultSearchTimeout time.Duration `yaml:"defaultSearchTimeout"`
	DefaultLimit         int           `yaml:"defaultLimit"`
}

// LockConfig configures the distributed lock client (§5).
type LockConfig struct {
	AcquireTimeout time.Duration `yaml:"acquireTimeout"`
	RetryInterval  time.Duration `yaml:"retryInterval"`
	LeaseTTL       time.Duration `yaml:"leaseTtl"`
}

// LoggingConfig configures logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
}

// LoadFromEnv loads configuration from environment variables.
// MARQO_CONFIG_FILE, if set, additionally overlays a YAML file whose
// keys shadow the defaults but are themselves shadowed by any
// explicitly-set environment variable (env wins, matching the teacher's
// Neo4j-compatible precedence).
func LoadFromEnv() *Config {
	// The YAML file (if any) supplies the base defaults; an explicitly
	// set environment variable always wins over both the file and the
	// hardcoded fallback, matching the teacher's Neo4j-compatible
	// precedence (env vars are authoritative, files are a convenience).
	// AppManager.BackupOnDeploy is the exception: it comes from
	// MARQO_BACKUP_ON_DEPLOY or defaults to true; the file's value is
	// not read.
	file := loadYAMLFileIfConfigured()
	cfg := &Config{}

	cfg.Store.ConfigURL = getEnv("MARQO_VESPA_CONFIG_URL", strOr(file.Store.ConfigURL, "http://localhost:19071"))
	cfg.Store.DocumentURL = getEnv("MARQO_VESPA_DOCUMENT_URL", strOr(file.Store.DocumentURL, "http://localhost:8080"))
	cfg.Store.QueryURL = getEnv("MARQO_VESPA_QUERY_URL", strOr(file.Store.QueryURL, "http://localhost:8080"))
	cfg.Store.FeedConcurrency = getEnvInt("MARQO_FEED_CONCURRENCY", intOr(file.Store.FeedConcurrency, 10))
	cfg.Store.GetConcurrency = getEnvInt("MARQO_GET_CONCURRENCY", intOr(file.Store.GetConcurrency, 10))
	cfg.Store.DeleteConcurrency = getEnvInt("MARQO_DELETE_CONCURRENCY", intOr(file.Store.DeleteConcurrency, 10))
	cfg.Store.PartialUpdateConcurrency = getEnvInt("MARQO_PARTIAL_UPDATE_CONCURRENCY", intOr(file.Store.PartialUpdateConcurrency, 10))
	cfg.Store.FeedTimeout = getEnvDuration("MARQO_FEED_TIMEOUT", durOr(file.Store.FeedTimeout, 60*time.Second))
	cfg.Store.QueryTimeout = getEnvDuration("MARQO_DEFAULT_SEARCH_TIMEOUT_MS", durOr(file.Store.QueryTimeout, 5*time.Second))
	cfg.Store.ConvergencePollEvery = getEnvDuration("MARQO_CONVERGENCE_POLL_INTERVAL", durOr(file.Store.ConvergencePollEvery, time.Second))
	cfg.Store.ConvergenceTimeout = getEnvDuration("MARQO_CONVERGENCE_TIMEOUT", durOr(file.Store.ConvergenceTimeout, 2*time.Minute))

	cfg.AppManager.BundleDir = getEnv("MARQO_APP_BUNDLE_DIR", strOr(file.AppManager.BundleDir, "./app"))
	cfg.AppManager.MarqoVersion = getEnv("MARQO_VERSION", strOr(file.AppManager.MarqoVersion, "2.12.0"))
	cfg.AppManager.BackupOnDeploy = getEnvBool("MARQO_BACKUP_ON_DEPLOY", true)
	cfg.AppManager.SessionCacheDir = getEnv("MARQO_SESSION_CACHE_DIR", file.AppManager.SessionCacheDir)

	cfg.IndexManager.DefaultEfConstruction = getEnvInt("MARQO_DEFAULT_EF_CONSTRUCTION", intOr(file.IndexManager.DefaultEfConstruction, 512))
	cfg.IndexManager.DefaultM = getEnvInt("MARQO_DEFAULT_M", intOr(file.IndexManager.DefaultM, 16))

	cfg.Pipeline.MaxDocsPerBatch = getEnvInt("MARQO_MAX_DOCS_PER_BATCH", intOr(file.Pipeline.MaxDocsPerBatch, 128))
	cfg.Pipeline.MaxDocBytes = getEnvInt64("MARQO_MAX_DOC_BYTES", int64Or(file.Pipeline.MaxDocBytes, 384*1024))
	cfg.Pipeline.ImageDownloadConcurrency = getEnvInt("MARQO_IMAGE_DOWNLOAD_THREAD_COUNT", intOr(file.Pipeline.ImageDownloadConcurrency, 20))
	cfg.Pipeline.MediaDownloadConcurrency = getEnvInt("MARQO_MEDIA_DOWNLOAD_THREAD_COUNT", intOr(file.Pipeline.MediaDownloadConcurrency, 5))
	cfg.Pipeline.MediaDownloadTimeout = getEnvDuration("MARQO_MEDIA_DOWNLOAD_TIMEOUT", durOr(file.Pipeline.MediaDownloadTimeout, 10*time.Second))
	cfg.Pipeline.MaxVideoAudioFileBytes = getEnvInt64("MARQO_MAX_ADD_DOCS_VIDEO_AUDIO_FILE_SIZE", int64Or(file.Pipeline.MaxVideoAudioFileBytes, 384*1024*1024))

	cfg.HybridSearch.DefaultSearchTimeout = getEnvDuration("MARQO_DEFAULT_SEARCH_TIMEOUT", durOr(file.HybridSearch.DefaultSearchTimeout, 5*time.Second))
	cfg.HybridSearch.DefaultLimit = getEnvInt("MARQO_DEFAULT_SEARCH_LIMIT", intOr(file.HybridSearch.DefaultLimit, 10))

	cfg.Lock.AcquireTimeout = getEnvDuration("MARQO_LOCK_ACQUIRE_TIMEOUT", durOr(file.Lock.AcquireTimeout, 5*time.Second))
	cfg.Lock.RetryInterval = getEnvDuration("MARQO_LOCK_RETRY_INTERVAL", durOr(file.Lock.RetryInterval, 100*time.Millisecond))
	cfg.Lock.LeaseTTL = getEnvDuration("MARQO_LOCK_LEASE_TTL", durOr(file.Lock.LeaseTTL, 30*time.Second))

	cfg.Logging.Level = getEnv("MARQO_LOG_LEVEL", strOr(file.Logging.Level, "INFO"))
	cfg.Logging.Output = getEnv("MARQO_LOG_OUTPUT", strOr(file.Logging.Output, "stderr"))

	return cfg
}

// loadYAMLFileIfConfigured reads MARQO_CONFIG_FILE, if set, returning a
// zero Config on any error (missing file, bad YAML) so LoadFromEnv can
// fall back to its hardcoded defaults rather than fail startup.
func loadYAMLFileIfConfigured() Config {
	path := os.Getenv("MARQO_CONFIG_FILE")
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: failed to read %s: %v\n", path, err)
		return Config{}
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		fmt.Fprintf(os.Stderr, "config: failed to parse %s: %v\n", path, err)
		return Config{}
	}
	return file
}

func strOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func intOr(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func int64Or(v, fallback int64) int64 {
	if v != 0 {
		return v
	}
	return fallback
}

func durOr(v, fallback time.Duration) time.Duration {
	if v != 0 {
		return v
	}
	return fallback
}

// Validate checks cross-field invariants that LoadFromEnv cannot enforce
// at parse time.
func (c *Config) Validate() error {
	if c.Store.ConfigURL == "" {
		return fmt.Errorf("config: store.configUrl must not be empty")
	}
	if c.Store.FeedConcurrency <= 0 {
		return fmt.Errorf("config: store.feedConcurrency must be > 0")
	}
	if c.Pipeline.MaxDocsPerBatch <= 0 {
		return fmt.Errorf("config: pipeline.maxDocsPerBatch must be > 0")
	}
	if c.IndexManager.DefaultEfConstruction <= 0 || c.IndexManager.DefaultM <= 0 {
		return fmt.Errorf("config: indexManager.defaultEfConstruction and defaultM must be > 0")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
