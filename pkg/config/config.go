package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Database   DatabaseConfig   `yaml:"database"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Audit      AuditConfig      `yaml:"audit"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

type LLMConfig struct {
	Provider       string        `yaml:"provider"`
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RateLimit      float64       `yaml:"rate_limit"` // calls per second, 0 for unlimited
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	BatchSize int    `yaml:"batch_size"`
	Dim       int    `yaml:"dim"`
}

// DatabaseConfig selects the pgvector index. An empty URL keeps the index
// in memory.
type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
}

type RetrievalConfig struct {
	TopK            int     `yaml:"top_k"`
	MinScore        float64 `yaml:"min_score"`
	MaxContextChars int     `yaml:"max_context_chars"`
}

type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type ExtractionConfig struct {
	Mode            string        `yaml:"mode"`
	MaxInputChars   int           `yaml:"max_input_chars"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	MinCharsPerPage float64       `yaml:"min_chars_per_page"`
	MaxGarbledRatio float64       `yaml:"max_garbled_ratio"`
	TierTimeout     time.Duration `yaml:"tier_timeout"`
	OCRDPI          int           `yaml:"ocr_dpi"`
	OCRLanguage     string        `yaml:"ocr_language"`
}

type AuditConfig struct {
	Mode                string  `yaml:"mode"`
	NoticeThresholdDays int     `yaml:"notice_threshold_days"`
	MaxRiskScore        float64 `yaml:"max_risk_score"`
	MaxInputChars       int     `yaml:"max_input_chars"`
}

type FetchConfig struct {
	MaxDepth       int      `yaml:"max_depth"`
	RateLimit      float64  `yaml:"rate_limit"`
	IgnorePatterns []string `yaml:"ignore_patterns"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func LoadConfig(path string) (*Config, error) {
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/contractiq/config.yaml"),
			"/etc/contractiq/config.yaml",
		}
		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	config := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

// DefaultConfig returns the built-in settings. LoadConfig decodes the file
// over it, so a key the file omits keeps its default while an explicit zero
// (temperature: 0, chunk_overlap: 0, min_score: 0, max_retries: 0) is kept.
func DefaultConfig() *Config {
	config := &Config{
		LLM: LLMConfig{
			Temperature:    0.2,
			MaxRetries:     3,
			RetryBaseDelay: 500 * time.Millisecond,
		},
		Retrieval: RetrievalConfig{MinScore: 0.3},
		Chunker:   ChunkerConfig{ChunkOverlap: 50},
		Fetch:     FetchConfig{MaxDepth: 1},
	}
	applyDefaults(config)
	return config
}

// applyDefaults fills settings for which zero is never a usable value, and
// the ones derived from other sections.
func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 60 * time.Second
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = "ollama"
	}
	if config.Embedding.BaseURL == "" && config.Embedding.Provider == "ollama" && config.LLM.Provider == "ollama" {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 32
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "contract_chunks"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 5
	}
	if config.Retrieval.MaxContextChars == 0 {
		config.Retrieval.MaxContextChars = 12000
	}

	if config.Chunker.ChunkSize == 0 {
		config.Chunker.ChunkSize = 300
	}

	if config.Extraction.Mode == "" {
		config.Extraction.Mode = "auto"
	}
	if config.Extraction.MaxInputChars == 0 {
		config.Extraction.MaxInputChars = 8000
	}
	if config.Extraction.MaxUploadBytes == 0 {
		config.Extraction.MaxUploadBytes = 10 << 20
	}
	if config.Extraction.MinCharsPerPage == 0 {
		config.Extraction.MinCharsPerPage = 5
	}
	if config.Extraction.MaxGarbledRatio == 0 {
		config.Extraction.MaxGarbledRatio = 0.3
	}
	if config.Extraction.TierTimeout == 0 {
		config.Extraction.TierTimeout = 2 * time.Minute
	}
	if config.Extraction.OCRDPI == 0 {
		config.Extraction.OCRDPI = 300
	}
	if config.Extraction.OCRLanguage == "" {
		config.Extraction.OCRLanguage = "eng"
	}

	if config.Audit.Mode == "" {
		config.Audit.Mode = "auto"
	}
	if config.Audit.NoticeThresholdDays == 0 {
		config.Audit.NoticeThresholdDays = 30
	}
	if config.Audit.MaxRiskScore == 0 {
		config.Audit.MaxRiskScore = 10
	}
	if config.Audit.MaxInputChars == 0 {
		config.Audit.MaxInputChars = 10000
	}

	if config.Fetch.RateLimit == 0 {
		config.Fetch.RateLimit = 2.0
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// mergeWithEnv applies environment overrides. Provider API keys only apply
// to the sections that use that provider.
func mergeWithEnv(config *Config) {
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	llmProvider := orDefault(config.LLM.Provider, "ollama")
	embProvider := orDefault(config.Embedding.Provider, "ollama")

	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if llmProvider == "ollama" {
			config.LLM.BaseURL = baseURL
		}
		if embProvider == "ollama" {
			config.Embedding.BaseURL = baseURL
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if llmProvider == "openai" {
			config.LLM.APIKey = key
		}
		if embProvider == "openai" {
			config.Embedding.APIKey = key
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && llmProvider == "anthropic" {
		config.LLM.APIKey = key
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
