// Package config provides configuration management for the knowledge
// engine: environment variables, an optional YAML file, and defaults
// for every subsystem (store, vector index, scanner, screening,
// chunking, capability router, event bus, host bridge).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the engine process.
type Config struct {
	Server     ServerConfig     `json:"server" mapstructure:"server"`
	Store      StoreConfig      `json:"store" mapstructure:"store"`
	Vectors    VectorStoreConfig `json:"vectors" mapstructure:"vectors"`
	Scanner    ScannerConfig    `json:"scanner" mapstructure:"scanner"`
	Screening  ScreeningConfig  `json:"screening" mapstructure:"screening"`
	Chunking   ChunkingConfig   `json:"chunking" mapstructure:"chunking"`
	Capability CapabilityConfig `json:"capability" mapstructure:"capability"`
	Events     EventsConfig     `json:"events" mapstructure:"events"`
	Bridge     BridgeConfig     `json:"bridge" mapstructure:"bridge"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// ServerConfig is the local-loopback REST surface (§6).
type ServerConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	ReadTimeout  int    `json:"read_timeout_seconds" mapstructure:"read_timeout_seconds"`
	WriteTimeout int    `json:"write_timeout_seconds" mapstructure:"write_timeout_seconds"`
}

// StoreConfig locates the embedded relational store file (§4.1, §6).
type StoreConfig struct {
	DataDir         string        `json:"data_dir" mapstructure:"data_dir"`
	BusyTimeout     time.Duration `json:"busy_timeout" mapstructure:"busy_timeout"`
	MaxOpenConns    int           `json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxRetries      int           `json:"max_retries" mapstructure:"max_retries"`
}

// VectorStoreConfig configures the Qdrant-backed vector index (§6).
type VectorStoreConfig struct {
	Host           string `json:"host" mapstructure:"host"`
	Port           int    `json:"port" mapstructure:"port"`
	APIKey         string `json:"-" mapstructure:"api_key"`
	UseTLS         bool   `json:"use_tls" mapstructure:"use_tls"`
	Collection     string `json:"collection" mapstructure:"collection"`
	VectorSize     int    `json:"vector_size" mapstructure:"vector_size"`
	RetryAttempts  int    `json:"retry_attempts" mapstructure:"retry_attempts"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// ScannerConfig governs the filesystem walker (§4.4).
type ScannerConfig struct {
	RewalkIntervalMinutes int `json:"rewalk_interval_minutes" mapstructure:"rewalk_interval_minutes"`
	WatcherDebounceMillis int `json:"watcher_debounce_millis" mapstructure:"watcher_debounce_millis"`
	CandidateBufferSize   int `json:"candidate_buffer_size" mapstructure:"candidate_buffer_size"`
}

// ScreeningConfig governs filter-rule evaluation and deduplication (§4.5).
type ScreeningConfig struct {
	// SmallFileThresholdBytes: files at or below this size are hashed
	// eagerly; larger files are hashed lazily on first full read by a
	// downstream consumer (§9 open question, resolved lazily-by-default).
	SmallFileThresholdBytes int64 `json:"small_file_threshold_bytes" mapstructure:"small_file_threshold_bytes"`
}

// ChunkingConfig governs hierarchical parent/child chunking (§4.7).
type ChunkingConfig struct {
	ParentMaxTokens   int `json:"parent_max_tokens" mapstructure:"parent_max_tokens"`
	ChildMaxTokens    int `json:"child_max_tokens" mapstructure:"child_max_tokens"`
	ChildOverlapTokens int `json:"child_overlap_tokens" mapstructure:"child_overlap_tokens"`
	// WorkerCount bounds the vectorization pool (§4.7, §5).
	WorkerCount int `json:"worker_count" mapstructure:"worker_count"`
	// QueueCapacity bounds the pending-task channel (§5 backpressure).
	QueueCapacity int `json:"queue_capacity" mapstructure:"queue_capacity"`
	MaxRetries    int `json:"max_retries" mapstructure:"max_retries"`
}

// CapabilityConfig governs outbound provider calls (§4.8, §7).
type CapabilityConfig struct {
	RequestTimeoutSeconds int `json:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
	MaxRetries            int `json:"max_retries" mapstructure:"max_retries"`
	TagExcerptMaxChars    int `json:"tag_excerpt_max_chars" mapstructure:"tag_excerpt_max_chars"`
}

// EventsConfig governs the in-engine bus's delivery strategies (§4.2).
type EventsConfig struct {
	ChannelBufferSize      int `json:"channel_buffer_size" mapstructure:"channel_buffer_size"`
	MaxSubscribers         int `json:"max_subscribers" mapstructure:"max_subscribers"`
	ThrottleWindowMillis   int `json:"throttle_window_millis" mapstructure:"throttle_window_millis"`
	DebounceWindowMillis   int `json:"debounce_window_millis" mapstructure:"debounce_window_millis"`
	TagCloudBufferCapacity int `json:"tag_cloud_buffer_capacity" mapstructure:"tag_cloud_buffer_capacity"`
}

// BridgeConfig governs the stdout-framed host↔engine channel (§4.2, §6).
type BridgeConfig struct {
	Sentinel string `json:"sentinel" mapstructure:"sentinel"`
}

// LoggingConfig governs structured logging (§9 ambient stack).
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
	File   string `json:"file,omitempty" mapstructure:"file"`
}

// DefaultConfig returns the default configuration for a fresh engine.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8383,
			Host:         "127.0.0.1",
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Store: StoreConfig{
			DataDir:      "./data",
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 1, // single sqlite writer per §4.1's synchronous-per-call transactions
			MaxRetries:   5,
		},
		Vectors: VectorStoreConfig{
			Host:           "localhost",
			Port:           6334,
			Collection:     "engine_chunks",
			VectorSize:     1536,
			RetryAttempts:  3,
			TimeoutSeconds: 30,
		},
		Scanner: ScannerConfig{
			RewalkIntervalMinutes: 15,
			WatcherDebounceMillis: 500,
			CandidateBufferSize:   256,
		},
		Screening: ScreeningConfig{
			SmallFileThresholdBytes: 1 << 20, // 1MiB
		},
		Chunking: ChunkingConfig{
			ParentMaxTokens:    800,
			ChildMaxTokens:     200,
			ChildOverlapTokens: 40,
			WorkerCount:        4,
			QueueCapacity:      256,
			MaxRetries:         3,
		},
		Capability: CapabilityConfig{
			RequestTimeoutSeconds: 60,
			MaxRetries:            3,
			TagExcerptMaxChars:    4000,
		},
		Events: EventsConfig{
			ChannelBufferSize:      256,
			MaxSubscribers:         64,
			ThrottleWindowMillis:   1000,
			DebounceWindowMillis:   2000,
			TagCloudBufferCapacity: 20,
		},
		Bridge: BridgeConfig{
			Sentinel: "@@ENGINE-EVENT@@",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from an optional YAML file plus
// environment overrides, falling back to DefaultConfig for anything
// unset. The YAML file path is ENGINE_CONFIG_FILE, or ./engine.yaml
// when that variable is unset and the file exists.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := DefaultConfig()

	if path := configFilePath(); path != "" {
		if err := loadYAMLFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func configFilePath() string {
	if p := os.Getenv("ENGINE_CONFIG_FILE"); p != "" {
		return p
	}
	if _, err := os.Stat("./engine.yaml"); err == nil {
		return "./engine.yaml"
	}
	return ""
}

// loadYAMLFile decodes a YAML document into an intermediate map, then
// mapstructure-decodes it into cfg with weak type conversion — this
// lets a YAML file write "5s" for a duration or "true"/"false" as
// unquoted booleans without a bespoke unmarshaler per field.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-provided config path
	if err != nil {
		return err
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

func loadFromEnv(cfg *Config) {
	setIntFromEnv("ENGINE_SERVER_PORT", &cfg.Server.Port)
	setStringFromEnv("ENGINE_SERVER_HOST", &cfg.Server.Host)
	setIntFromEnv("ENGINE_SERVER_READ_TIMEOUT_SECONDS", &cfg.Server.ReadTimeout)
	setIntFromEnv("ENGINE_SERVER_WRITE_TIMEOUT_SECONDS", &cfg.Server.WriteTimeout)

	setStringFromEnv("ENGINE_DATA_DIR", &cfg.Store.DataDir)
	setIntFromEnv("ENGINE_STORE_MAX_OPEN_CONNS", &cfg.Store.MaxOpenConns)
	setIntFromEnv("ENGINE_STORE_MAX_RETRIES", &cfg.Store.MaxRetries)

	setStringFromEnv("ENGINE_QDRANT_HOST", &cfg.Vectors.Host)
	setIntFromEnv("ENGINE_QDRANT_PORT", &cfg.Vectors.Port)
	setStringFromEnv("ENGINE_QDRANT_API_KEY", &cfg.Vectors.APIKey)
	setBoolFromEnv("ENGINE_QDRANT_USE_TLS", &cfg.Vectors.UseTLS)
	setStringFromEnv("ENGINE_QDRANT_COLLECTION", &cfg.Vectors.Collection)
	setIntFromEnv("ENGINE_QDRANT_VECTOR_SIZE", &cfg.Vectors.VectorSize)

	setIntFromEnv("ENGINE_SCANNER_REWALK_MINUTES", &cfg.Scanner.RewalkIntervalMinutes)
	setIntFromEnv("ENGINE_SCANNER_WATCHER_DEBOUNCE_MILLIS", &cfg.Scanner.WatcherDebounceMillis)

	if v := os.Getenv("ENGINE_SCREENING_SMALL_FILE_THRESHOLD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Screening.SmallFileThresholdBytes = n
		}
	}

	setIntFromEnv("ENGINE_CHUNKING_PARENT_MAX_TOKENS", &cfg.Chunking.ParentMaxTokens)
	setIntFromEnv("ENGINE_CHUNKING_CHILD_MAX_TOKENS", &cfg.Chunking.ChildMaxTokens)
	setIntFromEnv("ENGINE_CHUNKING_CHILD_OVERLAP_TOKENS", &cfg.Chunking.ChildOverlapTokens)
	setIntFromEnv("ENGINE_CHUNKING_WORKER_COUNT", &cfg.Chunking.WorkerCount)
	setIntFromEnv("ENGINE_CHUNKING_QUEUE_CAPACITY", &cfg.Chunking.QueueCapacity)

	setIntFromEnv("ENGINE_CAPABILITY_REQUEST_TIMEOUT_SECONDS", &cfg.Capability.RequestTimeoutSeconds)
	setIntFromEnv("ENGINE_CAPABILITY_MAX_RETRIES", &cfg.Capability.MaxRetries)

	setIntFromEnv("ENGINE_EVENTS_THROTTLE_WINDOW_MILLIS", &cfg.Events.ThrottleWindowMillis)
	setIntFromEnv("ENGINE_EVENTS_DEBOUNCE_WINDOW_MILLIS", &cfg.Events.DebounceWindowMillis)

	setStringFromEnv("ENGINE_LOG_LEVEL", &cfg.Logging.Level)
	setStringFromEnv("ENGINE_LOG_FORMAT", &cfg.Logging.Format)
	setStringFromEnv("ENGINE_LOG_FILE", &cfg.Logging.File)
}

func setStringFromEnv(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setIntFromEnv(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setBoolFromEnv(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// Validate checks invariants across every subsystem's configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return errors.New("server host cannot be empty")
	}
	if c.Store.DataDir == "" {
		return errors.New("store data dir cannot be empty")
	}
	if c.Vectors.Collection == "" {
		return errors.New("vector store collection cannot be empty")
	}
	if c.Vectors.VectorSize <= 0 {
		return errors.New("vector size must be positive")
	}
	if c.Chunking.ParentMaxTokens <= 0 {
		return errors.New("parent max tokens must be positive")
	}
	if c.Chunking.ChildMaxTokens <= 0 || c.Chunking.ChildMaxTokens >= c.Chunking.ParentMaxTokens {
		return errors.New("child max tokens must be positive and smaller than parent max tokens")
	}
	if c.Chunking.ChildOverlapTokens < 0 || c.Chunking.ChildOverlapTokens >= c.Chunking.ChildMaxTokens {
		return errors.New("child overlap tokens must be non-negative and smaller than child max tokens")
	}
	if c.Chunking.WorkerCount <= 0 {
		return errors.New("chunking worker count must be positive")
	}
	if c.Events.ThrottleWindowMillis <= 0 {
		return errors.New("events throttle window must be positive")
	}
	if c.Events.DebounceWindowMillis <= 0 {
		return errors.New("events debounce window must be positive")
	}
	if c.Bridge.Sentinel == "" {
		return errors.New("bridge sentinel cannot be empty")
	}
	return nil
}

// ThrottleWindow is the configured EventsConfig.ThrottleWindowMillis as a Duration.
func (c EventsConfig) ThrottleWindow() time.Duration {
	return time.Duration(c.ThrottleWindowMillis) * time.Millisecond
}

// DebounceWindow is the configured EventsConfig.DebounceWindowMillis as a Duration.
func (c EventsConfig) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceWindowMillis) * time.Millisecond
}

// DBPath returns the relational store file path under DataDir/db/.
func (c StoreConfig) DBPath() (string, error) {
	dir, err := ensureSubdir(c.DataDir, "db")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "engine.db"), nil
}

// VectorsDir returns the vector index directory under DataDir/vectors/.
func (c Config) VectorsDir() (string, error) {
	return ensureSubdir(c.Store.DataDir, "vectors")
}

// BuiltinModelsDir returns the content-addressed builtin-model artifact directory.
func (c Config) BuiltinModelsDir() (string, error) {
	return ensureSubdir(c.Store.DataDir, "builtin_models")
}

// LogsDir returns the log directory under DataDir/logs/.
func (c Config) LogsDir() (string, error) {
	return ensureSubdir(c.Store.DataDir, "logs")
}

func ensureSubdir(dataDir, name string) (string, error) {
	if dataDir == "" {
		dataDir = "./data"
	}
	abs, err := filepath.Abs(filepath.Join(dataDir, name))
	if err != nil {
		return "", fmt.Errorf("resolve %s dir: %w", name, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return "", fmt.Errorf("create %s dir: %w", name, err)
	}
	return abs, nil
}

// String renders a redacted summary, safe for logging.
func (c *Config) String() string {
	parts := []string{
		fmt.Sprintf("server=%s:%d", c.Server.Host, c.Server.Port),
		fmt.Sprintf("data_dir=%s", c.Store.DataDir),
		fmt.Sprintf("qdrant=%s:%d/%s", c.Vectors.Host, c.Vectors.Port, c.Vectors.Collection),
		fmt.Sprintf("chunking=parent:%d/child:%d/overlap:%d", c.Chunking.ParentMaxTokens, c.Chunking.ChildMaxTokens, c.Chunking.ChildOverlapTokens),
	}
	return strings.Join(parts, " ")
}
