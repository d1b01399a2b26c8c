package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the searchcore service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Cache      CacheConfig      `yaml:"cache"`
	Search     SearchConfig     `yaml:"search"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds the backing key-value store connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// ClassifierConfig holds completion provider and weight-table settings.
// Weights map a query type (technical, business, operational) to per-source
// score multipliers.
type ClassifierConfig struct {
	APIKey     string                        `yaml:"api_key"`
	BaseURL    string                        `yaml:"base_url"`
	Model      string                        `yaml:"model"`
	TimeoutSec int                           `yaml:"timeout_sec"`
	Weights    map[string]map[string]float64 `yaml:"weights"`
}

// CacheTypeConfig configures one cache namespace. This table is externally
// tunable without code changes.
type CacheTypeConfig struct {
	Prefix   string `yaml:"prefix"`
	TTLSec   int    `yaml:"ttl_sec"`
	Compress bool   `yaml:"compress"`
}

// CacheConfig holds the per-type cache table.
type CacheConfig struct {
	Types map[string]CacheTypeConfig `yaml:"types"`
}

// SearchConfig holds document index and search execution settings.
type SearchConfig struct {
	IndexName         string  `yaml:"index_name"`
	VectorWeight      float64 `yaml:"vector_weight"` // fusion ratio: share of the vector score
	DefaultLimit      int     `yaml:"default_limit"`
	MaxLimit          int     `yaml:"max_limit"`
	MaxQueryLen       int     `yaml:"max_query_len"`
	DefaultTimeoutSec int     `yaml:"default_timeout_sec"`
	MinScore          float64 `yaml:"min_score"`
}

// OptimizerConfig overrides the lexical tables used by complexity analysis.
// Empty lists keep the built-in defaults.
type OptimizerConfig struct {
	QuestionWords  []string `yaml:"question_words"`
	Conjunctions   []string `yaml:"conjunctions"`
	TechnicalTerms []string `yaml:"technical_terms"`
}

// Cache type names used in the configuration table.
const (
	CacheTypeEmbedding       = "embedding"
	CacheTypeClassification  = "classification"
	CacheTypeSearchResult    = "search_result"
	CacheTypeContextualQuery = "contextual_query"
)

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Classifier.TimeoutSec <= 0 {
		c.Classifier.TimeoutSec = 5
	}
	if c.Search.IndexName == "" {
		c.Search.IndexName = "searchcore:docs:idx"
	}
	if c.Search.VectorWeight <= 0 || c.Search.VectorWeight > 1 {
		c.Search.VectorWeight = 0.7
	}
	if c.Search.DefaultLimit <= 0 {
		c.Search.DefaultLimit = 10
	}
	if c.Search.MaxLimit <= 0 {
		c.Search.MaxLimit = 100
	}
	if c.Search.MaxQueryLen <= 0 {
		c.Search.MaxQueryLen = 1000
	}
	if c.Search.DefaultTimeoutSec <= 0 {
		c.Search.DefaultTimeoutSec = 30
	}

	if c.Cache.Types == nil {
		c.Cache.Types = map[string]CacheTypeConfig{}
	}
	defaults := map[string]CacheTypeConfig{
		CacheTypeEmbedding:      {Prefix: "sc:emb:", TTLSec: 24 * 3600},
		CacheTypeClassification: {Prefix: "sc:cls:", TTLSec: 24 * 3600},
		// Search results expire faster: the underlying content changes faster
		// than embeddings or classifications do.
		CacheTypeSearchResult:    {Prefix: "sc:res:", TTLSec: 3600, Compress: true},
		CacheTypeContextualQuery: {Prefix: "sc:ctx:", TTLSec: 6 * 3600},
	}
	for name, def := range defaults {
		tc, ok := c.Cache.Types[name]
		if !ok {
			c.Cache.Types[name] = def
			continue
		}
		if tc.Prefix == "" {
			tc.Prefix = def.Prefix
		}
		if tc.TTLSec <= 0 {
			tc.TTLSec = def.TTLSec
		}
		c.Cache.Types[name] = tc
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	seen := make(map[string]string, len(c.Cache.Types))
	for name, tc := range c.Cache.Types {
		if other, ok := seen[tc.Prefix]; ok {
			return fmt.Errorf("cache.types.%s.prefix %q collides with %s", name, tc.Prefix, other)
		}
		seen[tc.Prefix] = name
	}
	for qtype, weights := range c.Classifier.Weights {
		for source, w := range weights {
			if w < 0 {
				return fmt.Errorf(
					"classifier.weights.%s.%s must be non-negative, got %g",
					qtype, source, w,
				)
			}
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
