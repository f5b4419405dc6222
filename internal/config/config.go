// Package config provides configuration loading and structs for the mail insights server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Insights  InsightsConfig  `yaml:"insights"`
	Keyword   KeywordConfig   `yaml:"keyword"`
	Inbox     InboxConfig     `yaml:"inbox"`
	SMTP      SMTPConfig      `yaml:"smtp"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// TenantHeader names the request header carrying the tenant key.
	TenantHeader string `yaml:"tenant_header"`
}

// StorageConfig holds the mail record database location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// VectorConfig selects and configures the embedding store backend.
type VectorConfig struct {
	Backend      string `yaml:"backend"` // memory, postgres or qdrant
	PostgresURL  string `yaml:"postgres_url"`
	QdrantHost   string `yaml:"qdrant_host"`
	QdrantPort   int    `yaml:"qdrant_port"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// QdrantAddr returns host:port for the Qdrant gRPC endpoint.
func (v *VectorConfig) QdrantAddr() string {
	return fmt.Sprintf("%s:%d", v.QdrantHost, v.QdrantPort)
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // ollama, onnx or mock
	Model      string `yaml:"model"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
	RedisURL   string `yaml:"redis_url"`
	// CacheTTLSeconds bounds how long shared cache entries live in Redis.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// LLMConfig holds chat model settings.
type LLMConfig struct {
	Provider       string      `yaml:"provider"` // ollama
	URL            string      `yaml:"url"`
	Model          string      `yaml:"model"`
	Temperature    float64     `yaml:"temperature"`
	TimeoutSeconds int         `yaml:"timeout_seconds"`
	MaxRepairs     *int        `yaml:"max_repairs"`
	OAuth          OAuthConfig `yaml:"oauth"`
}

// MaxRepairsOrDefault returns how many repair calls follow a malformed
// reply; defaults to 1 when unset. Zero disables repair.
func (l *LLMConfig) MaxRepairsOrDefault() int {
	if l.MaxRepairs != nil {
		return *l.MaxRepairs
	}
	return 1
}

// OAuthConfig holds client credentials for a provider behind an OAuth2 gateway.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether client credentials are configured.
func (o *OAuthConfig) Enabled() bool {
	return o.ClientID != "" && o.TokenURL != ""
}

// InsightsConfig holds pipeline settings.
type InsightsConfig struct {
	WorkingLanguage string `yaml:"working_language"`
	RagK            int    `yaml:"rag_k"`
	ClosestK        int    `yaml:"closest_k"`
	// FindCandidates caps the neighbours intersected with keyword hits in findMails.
	FindCandidates int `yaml:"find_candidates"`
	Concurrency    int `yaml:"concurrency"`
}

// KeywordConfig holds the bleve index location. An empty path keeps the index in memory.
type KeywordConfig struct {
	IndexPath string `yaml:"index_path"`
}

// InboxConfig holds spool directory watch settings.
type InboxConfig struct {
	Directories   []string `yaml:"directories"`
	Extensions    []string `yaml:"extensions"`
	Recursive     *bool    `yaml:"recursive"`
	DefaultTenant string   `yaml:"default_tenant"`
	Rag           bool     `yaml:"rag"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *InboxConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// SMTPConfig holds outbound reply settings. An empty host disables delivery.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Enabled reports whether outbound delivery is configured.
func (s *SMTPConfig) Enabled() bool {
	return s.Host != "" && s.From != ""
}

// Load reads and parses the config file at path, expands environment variables
// and paths, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Vector.SnapshotPath != "" {
		cfg.Vector.SnapshotPath = expandPath(cfg.Vector.SnapshotPath, configDir)
	}
	if cfg.Keyword.IndexPath != "" {
		cfg.Keyword.IndexPath = expandPath(cfg.Keyword.IndexPath, configDir)
	}
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Inbox.Directories {
		cfg.Inbox.Directories[i] = expandPath(cfg.Inbox.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting spool directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) || path == ":memory:" {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
