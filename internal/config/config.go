// Package config decodes the broker's YAML configuration file and
// resolves which file to load for a named environment, falling back to
// CONFIG_DIR or ~/.logbroker when no explicit path is given.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ndungu/logbroker/internal/brokererr"
	"github.com/ndungu/logbroker/internal/store"
	"gopkg.in/yaml.v3"
)

// Config is the top-level structure decoded from a broker config file.
type Config struct {
	DataDirectory string        `yaml:"dataDirectory"`
	Server        ServerConfig  `yaml:"server"`
	Storage       StorageConfig `yaml:"storage"`
	Flush         FlushConfig   `yaml:"flush"`
	Pipeline      PipelineConfig `yaml:"pipeline"`
}

// ServerConfig controls the HTTP listener and worker sizing.
type ServerConfig struct {
	Port           int `yaml:"port"`
	ThreadPoolSize int `yaml:"threadPoolSize"`
}

// StorageConfig controls segment sizing, retention, and message limits.
type StorageConfig struct {
	MaxSegmentSize uint64 `yaml:"maxSegmentSize"`
	RetentionMs    uint64 `yaml:"retentionMs"`
	MaxMessageSize uint64 `yaml:"maxMessageSize"`
	MaxIndexSize   uint64 `yaml:"maxIndexSize"`
	SparseInterval uint64 `yaml:"sparseInterval"`
}

// FlushConfig mirrors store.FlushConfig in a YAML-friendly shape.
type FlushConfig struct {
	Strategy        string `yaml:"strategy"`
	MessageInterval uint64 `yaml:"messageInterval"`
	TimeIntervalMs  uint64 `yaml:"timeIntervalMs"`
	ForceMetadata   bool   `yaml:"forceMetadata"`
	EnablePageCache bool   `yaml:"enablePageCache"`
}

// PipelineConfig controls the request/response queue sizing and worker
// pool widths.
type PipelineConfig struct {
	RequestChannelSize    int `yaml:"requestChannelSize"`
	ResponseChannelSize   int `yaml:"responseChannelSize"`
	OrchestratorWorkers   int `yaml:"orchestratorWorkers"`
	ResponseSenderWorkers int `yaml:"responseSenderWorkers"`
	SubmitTimeoutMs       int `yaml:"submitTimeoutMs"`
}

// ToStoreFlushConfig translates the YAML-decoded flush policy into the
// strategy enum store.Store expects.
func (f FlushConfig) ToStoreFlushConfig() (store.FlushConfig, error) {
	var strategy store.FlushStrategy
	switch f.Strategy {
	case "", "immediate":
		strategy = store.Immediate
	case "messageBased":
		strategy = store.MessageBased
	case "timeBased":
		strategy = store.TimeBased
	case "hybrid":
		strategy = store.Hybrid
	case "osControlled":
		strategy = store.OSControlled
	default:
		return store.FlushConfig{}, brokererr.InvalidArgument("unknown flush strategy %q", f.Strategy)
	}

	cfg := store.FlushConfig{
		Strategy:        strategy,
		MessageInterval: f.MessageInterval,
		TimeInterval:    time.Duration(f.TimeIntervalMs) * time.Millisecond,
		ForceMetadata:   f.ForceMetadata,
		EnablePageCache: f.EnablePageCache,
	}
	if err := cfg.Validate(); err != nil {
		return store.FlushConfig{}, err
	}
	return cfg, nil
}

// applyDefaults fills in fields a minimal config file may omit.
func (c *Config) applyDefaults() {
	if c.DataDirectory == "" {
		c.DataDirectory = "./data"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ThreadPoolSize == 0 {
		c.Server.ThreadPoolSize = 4
	}
	if c.Storage.MaxSegmentSize == 0 {
		c.Storage.MaxSegmentSize = 1024 * 1024
	}
	if c.Storage.MaxIndexSize == 0 {
		c.Storage.MaxIndexSize = 64 * 1024
	}
	if c.Storage.SparseInterval == 0 {
		c.Storage.SparseInterval = 1000
	}
	if c.Storage.MaxMessageSize == 0 {
		c.Storage.MaxMessageSize = 1024 * 1024
	}
	if c.Pipeline.RequestChannelSize == 0 {
		c.Pipeline.RequestChannelSize = 1000
	}
	if c.Pipeline.ResponseChannelSize == 0 {
		c.Pipeline.ResponseChannelSize = 1000
	}
	if c.Pipeline.OrchestratorWorkers == 0 {
		c.Pipeline.OrchestratorWorkers = c.Server.ThreadPoolSize
	}
	if c.Pipeline.ResponseSenderWorkers == 0 {
		c.Pipeline.ResponseSenderWorkers = c.Server.ThreadPoolSize
	}
	if c.Pipeline.SubmitTimeoutMs == 0 {
		c.Pipeline.SubmitTimeoutMs = 5000
	}
}

// FilePath resolves the config file for a named environment: CONFIG_DIR,
// if set, takes priority; otherwise the file lives under
// ~/.logbroker/<env>.yaml.
func FilePath(env string) (string, error) {
	filename := env + ".yaml"
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, filename), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", brokererr.IO(err, "resolve home directory for config lookup")
	}
	return filepath.Join(homeDir, ".logbroker", filename), nil
}

// Load resolves path via FilePath(env), decodes it as YAML, and applies
// defaults for any field the file leaves zero.
func Load(env string) (Config, error) {
	path, err := FilePath(env)
	if err != nil {
		return Config{}, err
	}
	return LoadFile(path)
}

// LoadFile decodes path directly, bypassing environment-name resolution.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, brokererr.IO(err, "read config file %q", path)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, brokererr.InvalidArgument("parse config file %q: %v", path, err)
	}
	c.applyDefaults()
	return c, nil
}
