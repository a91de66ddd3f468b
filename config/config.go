// Package config loads the lang2file runtime configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/flow"
	"github.com/hupe1980/lang2file/logging"
	"github.com/hupe1980/lang2file/memory"
	"github.com/hupe1980/lang2file/tool/filetool"
	"github.com/hupe1980/lang2file/tool/iptool"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LANG2FILE_"

// Config describes everything the binaries need at startup.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Model  ModelConfig  `yaml:"model"`
	Memory MemoryConfig `yaml:"memory"`
	Flow   FlowConfig   `yaml:"flow"`
	Tools  ToolsConfig  `yaml:"tools"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ModelConfig selects the language model backend.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // openai, anthropic or mock
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	MaxRetries  int     `yaml:"max_retries"`
}

// MemoryConfig selects the conversation store.
type MemoryConfig struct {
	Backend     string      `yaml:"backend"` // memory or redis
	MaxMessages int         `yaml:"max_messages"`
	Redis       RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis conversation store.
type RedisConfig struct {
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// FlowConfig bounds invocations.
type FlowConfig struct {
	MaxModelCalls    int    `yaml:"max_model_calls"`
	MaxParallelTools int    `yaml:"max_parallel_tools"`
	ChatInstructions string `yaml:"chat_instructions"`
	TaskInstructions string `yaml:"task_instructions"`
}

// ToolsConfig configures the capability modules.
type ToolsConfig struct {
	RootDir        string        `yaml:"root_dir"`
	ForbiddenRoots []string      `yaml:"forbidden_roots"`
	MaxReadBytes   int64         `yaml:"max_read_bytes"`
	IPAPIURL       string        `yaml:"ip_api_url"`
	IPTimeout      time.Duration `yaml:"ip_timeout"`
	DisableIP      bool          `yaml:"disable_ip"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`  // text or json (slog backend)
	Backend string `yaml:"backend"` // slog or zap
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults("")
	return cfg
}

// Load parses the YAML file at path, applies defaults and environment
// overrides and validates the result. An empty path yields the defaults
// plus environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config

	baseDir := ""

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}

		baseDir = filepath.Dir(path)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.applyDefaults(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills unset fields. Relative root directories resolve
// against baseDir.
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}

	if c.Model.Provider == "" {
		c.Model.Provider = "openai"
	}

	if c.Model.Name == "" {
		switch c.Model.Provider {
		case "anthropic":
			c.Model.Name = "claude-3-5-haiku-latest"
		case "mock":
			c.Model.Name = "mock"
		default:
			c.Model.Name = "gpt-4o-mini"
		}
	}

	if c.Model.MaxRetries == 0 {
		c.Model.MaxRetries = -1
	}

	if c.Memory.Backend == "" {
		c.Memory.Backend = "memory"
	}

	if c.Memory.MaxMessages <= 0 {
		c.Memory.MaxMessages = core.DefaultMaxMessages
	}

	if c.Memory.Redis.KeyPrefix == "" {
		c.Memory.Redis.KeyPrefix = memory.DefaultRedisKeyPrefix
	}

	if c.Flow.MaxModelCalls <= 0 {
		c.Flow.MaxModelCalls = flow.DefaultMaxModelCalls
	}

	if c.Tools.RootDir != "" && !filepath.IsAbs(c.Tools.RootDir) && baseDir != "" {
		c.Tools.RootDir = filepath.Join(baseDir, c.Tools.RootDir)
	}

	if c.Tools.ForbiddenRoots == nil {
		c.Tools.ForbiddenRoots = filetool.DefaultForbiddenRoots()
	}

	if c.Tools.MaxReadBytes <= 0 {
		c.Tools.MaxReadBytes = filetool.DefaultMaxReadBytes
	}

	if c.Tools.IPAPIURL == "" {
		c.Tools.IPAPIURL = iptool.DefaultAPIURL
	}

	if c.Tools.IPTimeout <= 0 {
		c.Tools.IPTimeout = iptool.DefaultTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Log.Backend == "" {
		c.Log.Backend = "slog"
	}
}

// applyEnv overlays environment variables. Provider specific API keys are
// consulted only when no key is configured.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	var errs []error

	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	str("SERVER_ADDRESS", &c.Server.Address)
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok && v != "" {
		c.Server.CORSOrigins = splitList(v)
	}

	str("MODEL_PROVIDER", &c.Model.Provider)
	str("MODEL_NAME", &c.Model.Name)
	str("MODEL_API_KEY", &c.Model.APIKey)
	str("MODEL_BASE_URL", &c.Model.BaseURL)

	str("MEMORY_BACKEND", &c.Memory.Backend)
	num("MEMORY_MAX_MESSAGES", &c.Memory.MaxMessages)
	str("REDIS_ADDRESS", &c.Memory.Redis.Address)
	str("REDIS_PASSWORD", &c.Memory.Redis.Password)
	num("REDIS_DB", &c.Memory.Redis.DB)

	num("FLOW_MAX_MODEL_CALLS", &c.Flow.MaxModelCalls)
	num("FLOW_MAX_PARALLEL_TOOLS", &c.Flow.MaxParallelTools)

	str("TOOLS_ROOT_DIR", &c.Tools.RootDir)
	str("TOOLS_IP_API_URL", &c.Tools.IPAPIURL)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_BACKEND", &c.Log.Backend)

	if c.Model.APIKey == "" {
		switch strings.ToLower(c.Model.Provider) {
		case "anthropic":
			c.Model.APIKey, _ = lookup("ANTHROPIC_API_KEY")
		case "openai", "":
			c.Model.APIKey, _ = lookup("OPENAI_API_KEY")
		}
	}

	return errors.Join(errs...)
}

// Validate reports configuration values the binaries cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Model.Provider {
	case "openai", "anthropic", "mock":
	default:
		errs = append(errs, fmt.Errorf("model.provider: unsupported value %q", c.Model.Provider))
	}

	switch c.Memory.Backend {
	case "memory":
	case "redis":
		if c.Memory.Redis.Address == "" {
			errs = append(errs, errors.New("memory.redis.address: required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("memory.backend: unsupported value %q", c.Memory.Backend))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	switch c.Log.Backend {
	case "slog", "zap":
	default:
		errs = append(errs, fmt.Errorf("log.backend: unsupported value %q", c.Log.Backend))
	}

	if c.Flow.MaxParallelTools < 0 {
		errs = append(errs, errors.New("flow.max_parallel_tools: must not be negative"))
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
