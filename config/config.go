package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"esicmap/internal/vector"
)

// Config holds all configuration for the mapper.
type Config struct {
	Ollama     OllamaConfig     `yaml:"ollama"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Search     SearchConfig     `yaml:"search"`
	Data       DataConfig       `yaml:"data"`
	Generation GenerationConfig `yaml:"generation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// OllamaConfig holds the embedding and generation backend location.
type OllamaConfig struct {
	Host    string        `yaml:"host"`
	Timeout time.Duration `yaml:"timeout"` // per embedding request
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Models            []string      `yaml:"models"`        // every model written at ingestion
	DefaultModel      string        `yaml:"default_model"` // model used for mapping and queries
	Dimension         int           `yaml:"dimension"`     // size of fallback zero vectors
	NormalizationMode string        `yaml:"normalization_mode"`
	Concurrency       int           `yaml:"concurrency"`
	CacheSize         int           `yaml:"cache_size"` // 0 disables the embedding cache
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

// SearchConfig holds ranking configuration.
type SearchConfig struct {
	KTop      int    `yaml:"k_top"`
	MatchMode string `yaml:"match_mode"` // cosine, dotProduct, distance
	TextSpan  string `yaml:"text_span"`  // description, description-with-notes
	Level     int    `yaml:"level"`
	Section   string `yaml:"section"` // section label, empty for all
}

// DataConfig holds input and output locations.
type DataConfig struct {
	ESICPath  string   `yaml:"esic_path"`
	ISICPath  string   `yaml:"isic_path"`
	Includes  []string `yaml:"includes"`
	Excludes  []string `yaml:"excludes"`
	OutputDir string   `yaml:"output_dir"`
}

// GenerationConfig holds reasoning model configuration.
type GenerationConfig struct {
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Retries     int           `yaml:"retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Ollama: OllamaConfig{
			Host:    "http://localhost:11434",
			Timeout: 20 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Models:            []string{"mxbai-embed-large"},
			DefaultModel:      "mxbai-embed-large",
			Dimension:         1024,
			NormalizationMode: string(vector.NormCosine),
			Concurrency:       1,
			CacheSize:         4096,
			CacheTTL:          time.Hour,
		},
		Search: SearchConfig{
			KTop:      5,
			MatchMode: string(vector.ModeCosine),
			TextSpan:  string(vector.SpanDescription),
			Level:     4,
		},
		Data: DataConfig{
			ESICPath:  "data/esic_data.xlsx",
			ISICPath:  "data/isic_data_r5.xlsx",
			Includes:  []string{"**/*.xlsx"},
			Excludes:  []string{"**/~$*", "output/**"},
			OutputDir: "output",
		},
		Generation: GenerationConfig{
			Model:       "qwen3:14b",
			Temperature: 0.3,
			MaxTokens:   1024,
			Retries:     0,
			RetryDelay:  2 * time.Second,
			Timeout:     300 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for esicmap.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "esicmap.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".esicmap", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv loads dir/.env, if present, and applies environment overrides.
// Variables already set in the process environment win over .env entries.
func (c *Config) ApplyEnv(dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	c.Ollama.Host = getEnv("OLLAMA_HOST", c.Ollama.Host)
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		c.Embedding.DefaultModel = model
		if !slices.Contains(c.Embedding.Models, model) {
			c.Embedding.Models = append(c.Embedding.Models, model)
		}
	}
	c.Embedding.NormalizationMode = getEnv("NORMALIZE_MODE", c.Embedding.NormalizationMode)
	c.Search.KTop = getEnvInt("MATCH_K_TOP", c.Search.KTop)
	c.Search.MatchMode = getEnv("MATCH_MODE", c.Search.MatchMode)
	if secs := getEnvInt("GEN_TIMEOUT", 0); secs > 0 {
		c.Generation.Timeout = time.Duration(secs) * time.Second
	}
	c.Logging.Level = getEnv("ESICMAP_LOG_LEVEL", c.Logging.Level)
}

// Validate rejects settings no command can run with. Unknown mode names are
// not errors; they fall back at the point of use and are listed by Warnings.
func (c *Config) Validate() error {
	var errs []error
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension))
	}
	if len(c.Embedding.Models) == 0 {
		errs = append(errs, errors.New("embedding.models must list at least one model"))
	}
	if c.Embedding.DefaultModel == "" {
		errs = append(errs, errors.New("embedding.default_model is required"))
	}
	if c.Ollama.Host == "" {
		errs = append(errs, errors.New("ollama.host is required"))
	}
	if c.Search.KTop < 0 {
		errs = append(errs, fmt.Errorf("search.k_top must not be negative, got %d", c.Search.KTop))
	}
	return errors.Join(errs...)
}

// Warnings reports settings that will fall back to a default.
func (c *Config) Warnings() []string {
	var out []string
	if _, err := vector.ParseSimilarityMode(c.Search.MatchMode); err != nil {
		out = append(out, fmt.Sprintf("search.match_mode: %v, using cosine", err))
	}
	if _, err := vector.ParseNormalizationMode(c.Embedding.NormalizationMode); err != nil {
		out = append(out, fmt.Sprintf("embedding.normalization_mode: %v, using raw", err))
	}
	if _, err := vector.ParseTextSpan(c.Search.TextSpan); err != nil {
		out = append(out, fmt.Sprintf("search.text_span: %v, using description", err))
	}
	return out
}

// MatchMode returns the parsed similarity metric, cosine when unknown.
func (c *Config) MatchMode() vector.SimilarityMode {
	mode, _ := vector.ParseSimilarityMode(c.Search.MatchMode)
	return mode
}

// TextSpan returns the parsed text span, description when unknown.
func (c *Config) TextSpan() vector.TextSpan {
	span, _ := vector.ParseTextSpan(c.Search.TextSpan)
	return span
}

// DBPath returns the path to the store database.
func DBPath(dir string) string {
	return filepath.Join(dir, ".esicmap", "store.db")
}

// EnsureDataDir ensures the .esicmap directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".esicmap"), 0755)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
