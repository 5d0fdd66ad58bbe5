package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all codedrill configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	DBPath    string          `yaml:"db_path"`
	LogMode   string          `yaml:"log_mode"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Provider  ProviderConfig  `yaml:"provider"`
	Calls     CallLogConfig   `yaml:"calls"`
}

// RedisConfig locates the shared runtime-settings store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig controls the prompt cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// RetrievalConfig controls chunking and retrieval defaults.
type RetrievalConfig struct {
	ChunkSize     int     `yaml:"chunk_size"`
	ChunkOverlap  int     `yaml:"chunk_overlap"`
	TopK          int     `yaml:"top_k"`
	MinSimilarity float64 `yaml:"min_similarity"`
	MaxContext    int     `yaml:"max_context"`
}

// ProviderConfig defines the upstream generative and embedding API.
// The endpoint is expected to speak the OpenAI-compatible wire format.
type ProviderConfig struct {
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"api_key"`
	DefaultModel string        `yaml:"default_model"`
	EmbedModel   string        `yaml:"embed_model"`
	EmbedDims    int           `yaml:"embed_dims"`
	Timeout      time.Duration `yaml:"timeout"`
}

// CallLogConfig controls the LLM call log.
type CallLogConfig struct {
	RetentionDays int `yaml:"retention_days"`
	MaxBodySize   int `yaml:"max_body_size"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:  ":8080",
		DBPath:  "codedrill.db",
		LogMode: "dev",
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   1,
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
		Retrieval: RetrievalConfig{
			ChunkSize:     512,
			ChunkOverlap:  128,
			TopK:          20,
			MinSimilarity: 0.5,
			MaxContext:    2000,
		},
		Provider: ProviderConfig{
			URL:          "https://api.openai.com",
			DefaultModel: "gpt-4o-mini",
			EmbedModel:   "text-embedding-3-small",
			EmbedDims:    1536,
			Timeout:      60 * time.Second,
		},
		Calls: CallLogConfig{
			RetentionDays: 30,
			MaxBodySize:   16384,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
