package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"docrag/internal/apperr"
	"docrag/internal/chunker"
)

// OpenAIConfig holds the connection settings shared by the OpenAI, eino and
// OpenAI-compatible providers. The key itself is read from APIKeyEnv.
type OpenAIConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// APIKey returns the key from the configured environment variable.
func (c *OpenAIConfig) APIKey() string {
	if c == nil || c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// HashingConfig configures the offline hashing embedder.
type HashingConfig struct {
	Dimension int `yaml:"dimension"`
}

// LocalEmbedderConfig configures the ONNX embedder run through hugot.
type LocalEmbedderConfig struct {
	Model        string `yaml:"model"`
	ModelDir     string `yaml:"model_dir"`
	OnnxFilePath string `yaml:"onnx_file_path"`
}

// CacheConfig enables the Redis embedding cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr   string `yaml:"redis_addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Prefix      string `yaml:"prefix"`
	TTLSecs     int    `yaml:"ttl_secs"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string               `yaml:"type"`
	OpenAI  *OpenAIConfig        `yaml:"openai,omitempty"`
	Hashing *HashingConfig       `yaml:"hashing,omitempty"`
	Local   *LocalEmbedderConfig `yaml:"local,omitempty"`
	Cache   *CacheConfig         `yaml:"cache,omitempty"`
}

// GeminiConfig configures the Gemini chat model run through eino.
type GeminiConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// ChatConfig selects and configures the chat completer.
type ChatConfig struct {
	Type         string        `yaml:"type"`
	SystemPrompt string        `yaml:"system_prompt"`
	OpenAI       *OpenAIConfig `yaml:"openai,omitempty"`
	Gemini       *GeminiConfig `yaml:"gemini,omitempty"`
}

// ChunkerConfig holds the default chunking parameters for ingestion.
type ChunkerConfig struct {
	Mode         string `yaml:"mode"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type     string          `yaml:"type"`
	SQLite   *SQLiteConfig   `yaml:"sqlite,omitempty"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
	Postgres *PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig points at the database file.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PostgresConfig names the environment variable holding the DSN.
type PostgresConfig struct {
	DSNEnv string `yaml:"dsn_env"`
}

// RAGConfig bounds retrieval and question answering.
type RAGConfig struct {
	Collection     string `yaml:"collection"`
	DefaultTopK    int    `yaml:"default_top_k"`
	MaxTopK        int    `yaml:"max_top_k"`
	MaxQueryChars  int    `yaml:"max_query_chars"`
	DocumentsLimit int    `yaml:"documents_limit"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr             string `yaml:"addr"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int    `yaml:"write_timeout_secs"`
}

// AppSection holds process-wide settings.
type AppSection struct {
	LogLevel string `yaml:"log_level"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	App         AppSection        `yaml:"app"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chat        ChatConfig        `yaml:"chat"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	RAG         RAGConfig         `yaml:"rag"`
	Server      ServerConfig      `yaml:"server"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// A .env file in the working directory is loaded first; environment
// overrides are applied last.
func Load(path string) (*AppConfig, error) {
	if err := LoadEnv(".env"); err != nil {
		return nil, err
	}
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		cfg = &AppConfig{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperr.Invalid("config", "parse %s: %v", path, err)
		}
	}
	applyConfigDefaults(cfg)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/docrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, defaultConfig()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// LoadEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		App:         AppSection{LogLevel: "info"},
		Embedder:    EmbedderConfig{Type: "openai", OpenAI: &OpenAIConfig{Model: "text-embedding-3-small"}},
		Chat:        ChatConfig{Type: "openai", OpenAI: &OpenAIConfig{Model: "gpt-4.1-mini"}},
		VectorStore: VectorStoreConfig{Type: "sqlite", SQLite: &SQLiteConfig{Path: "./data/docrag.db"}},
		Chunker:     ChunkerConfig{Mode: string(chunker.ModeFixed), ChunkSize: 200, ChunkOverlap: 40},
		RAG:         RAGConfig{Collection: "docs", DefaultTopK: 6, MaxTopK: 20, MaxQueryChars: 2000},
		Server:      ServerConfig{Addr: ":8000"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	for _, oc := range []*OpenAIConfig{cfg.Embedder.OpenAI, cfg.Chat.OpenAI} {
		if oc == nil {
			continue
		}
		if oc.BaseURL == "" {
			oc.BaseURL = "https://api.openai.com/v1"
		}
		if oc.APIKeyEnv == "" {
			oc.APIKeyEnv = "OPENAI_API_KEY"
		}
		if oc.TimeoutSecs == 0 {
			oc.TimeoutSecs = 30
		}
		if oc.MaxRetries == 0 {
			oc.MaxRetries = 2
		}
	}
	if cfg.Embedder.OpenAI != nil && cfg.Embedder.OpenAI.Model == "" {
		cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
	}
	if cfg.Chat.OpenAI != nil && cfg.Chat.OpenAI.Model == "" {
		cfg.Chat.OpenAI.Model = "gpt-4.1-mini"
	}
	if cfg.Chat.Type == "gemini" && cfg.Chat.Gemini == nil {
		cfg.Chat.Gemini = &GeminiConfig{}
	}
	if g := cfg.Chat.Gemini; g != nil && g.APIKeyEnv == "" {
		g.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c := cfg.Embedder.Cache; c != nil {
		if c.Prefix == "" {
			c.Prefix = "docrag:emb:"
		}
		if c.TTLSecs == 0 {
			c.TTLSecs = 7 * 24 * 3600
		}
	}
	if cfg.VectorStore.Type == "sqlite" && cfg.VectorStore.SQLite == nil {
		cfg.VectorStore.SQLite = &SQLiteConfig{}
	}
	if s := cfg.VectorStore.SQLite; s != nil && s.Path == "" {
		s.Path = "./data/docrag.db"
	}
	if q := cfg.VectorStore.Qdrant; q != nil && q.TimeoutSecs == 0 {
		q.TimeoutSecs = 15
	}
	if cfg.VectorStore.Type == "pgvector" && cfg.VectorStore.Postgres == nil {
		cfg.VectorStore.Postgres = &PostgresConfig{}
	}
	if p := cfg.VectorStore.Postgres; p != nil && p.DSNEnv == "" {
		p.DSNEnv = "DATABASE_URL"
	}
	if cfg.Chunker.Mode == "" {
		cfg.Chunker.Mode = string(chunker.ModeFixed)
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 200
		if cfg.Chunker.ChunkOverlap == 0 {
			cfg.Chunker.ChunkOverlap = 40
		}
	}
	if cfg.RAG.Collection == "" {
		cfg.RAG.Collection = "docs"
	}
	if cfg.RAG.DefaultTopK == 0 {
		cfg.RAG.DefaultTopK = 6
	}
	if cfg.RAG.MaxTopK == 0 {
		cfg.RAG.MaxTopK = 20
	}
	if cfg.RAG.MaxQueryChars == 0 {
		cfg.RAG.MaxQueryChars = 2000
	}
	if cfg.RAG.DocumentsLimit == 0 {
		cfg.RAG.DocumentsLimit = 10000
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
}

// applyEnv lets a handful of environment variables override the file.
func applyEnv(cfg *AppConfig) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("CHATGPT_MODEL"); v != "" && cfg.Chat.OpenAI != nil {
		cfg.Chat.OpenAI.Model = v
	}
	if v := os.Getenv("OPENAI_EMBED_MODEL"); v != "" && cfg.Embedder.OpenAI != nil {
		cfg.Embedder.OpenAI.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		for _, oc := range []*OpenAIConfig{cfg.Embedder.OpenAI, cfg.Chat.OpenAI} {
			if oc != nil {
				oc.BaseURL = v
			}
		}
	}
	if v := os.Getenv("RAG_COLLECTION"); v != "" {
		cfg.RAG.Collection = v
	}
	ints := []struct {
		env string
		dst *int
	}{
		{"DEFAULT_TOP_K", &cfg.RAG.DefaultTopK},
		{"MAX_TOP_K", &cfg.RAG.MaxTopK},
		{"MAX_QUERY_CHARS", &cfg.RAG.MaxQueryChars},
	}
	for _, e := range ints {
		v := os.Getenv(e.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperr.Invalid("config", "%s must be an integer, got %q", e.env, v)
		}
		*e.dst = n
	}
	return nil
}

// Validate reports the first problem found in the configuration.
func (c *AppConfig) Validate() error {
	switch c.Embedder.Type {
	case "hashing", "local":
	case "openai", "compat", "eino":
		if c.Embedder.OpenAI == nil {
			return apperr.Invalid("config", "embedder %q needs an openai section", c.Embedder.Type)
		}
	default:
		return apperr.Invalid("config", "unknown embedder type %q", c.Embedder.Type)
	}
	if c.Embedder.Type == "local" && (c.Embedder.Local == nil || c.Embedder.Local.Model == "") {
		return apperr.Invalid("config", "local embedder needs local.model")
	}
	switch c.Chat.Type {
	case "extractive", "gemini":
	case "openai", "eino":
		if c.Chat.OpenAI == nil {
			return apperr.Invalid("config", "chat %q needs an openai section", c.Chat.Type)
		}
	default:
		return apperr.Invalid("config", "unknown chat type %q", c.Chat.Type)
	}
	switch c.VectorStore.Type {
	case "memory", "sqlite", "pgvector":
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			return apperr.Invalid("config", "qdrant store needs qdrant.url")
		}
	default:
		return apperr.Invalid("config", "unknown vector store type %q", c.VectorStore.Type)
	}
	if err := chunker.Validate(chunker.Mode(c.Chunker.Mode), c.Chunker.ChunkSize, c.Chunker.ChunkOverlap); err != nil {
		return err
	}
	if c.RAG.DefaultTopK <= 0 || c.RAG.MaxTopK <= 0 {
		return apperr.Invalid("config", "top_k values must be > 0")
	}
	if c.RAG.DefaultTopK > c.RAG.MaxTopK {
		return apperr.Invalid("config", "default_top_k (%d) exceeds max_top_k (%d)", c.RAG.DefaultTopK, c.RAG.MaxTopK)
	}
	if c.RAG.MaxQueryChars <= 0 {
		return apperr.Invalid("config", "max_query_chars must be > 0")
	}
	return nil
}
