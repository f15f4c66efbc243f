package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amishk599/jobharvest/internal/model"
)

// Config is an immutable snapshot of the harvester configuration. A fresh
// snapshot is loaded at the start of every cycle.
type Config struct {
	RSSMode           string
	Feeds             []model.FeedSource
	Keywords          []string
	Recruitment       RecruitmentFilters
	Scheduler         SchedulerConfig
	Database          DatabaseConfig
	LLM               LLMConfig
	Embedding         EmbeddingConfig
	VectorStore       VectorStoreConfig
	Content           ContentConfig
	Notification      NotificationConfig
	LastMinifluxFetch string // watermark, see File.SaveWatermark
	Credentials       Credentials
}

// RecruitmentFilters are the eligibility constraints passed to the relevance scorer.
type RecruitmentFilters struct {
	RequiredDegree         string `yaml:"required_degree"`
	CitizenshipRequirement string `yaml:"citizenship_requirement"`
}

// SchedulerConfig controls the periodic cycle.
type SchedulerConfig struct {
	FetchInterval time.Duration
	CheckInterval time.Duration // how often the loop checks whether a run is due
	RunOnStart    bool
}

// DatabaseConfig locates the Record Store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig selects and tunes the analysis service backend.
type LLMConfig struct {
	Provider          string // "openai", "ollama" or "anthropic"
	Model             string
	BaseURL           string
	APIKey            string // expanded from env var by Load
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration // per-request timeout
	RequestsPerMinute int           // 0 disables the limiter
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider string // "openai", "ollama" or "gemini"
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// VectorStoreConfig locates the two index artifacts.
type VectorStoreConfig struct {
	IndexPath        string
	MetadataPath     string
	RebuildBatchSize int
}

// ContentConfig tunes full-text extraction.
type ContentConfig struct {
	ReaderURL      string // remote clean-extraction service, page URL is appended
	DisableReader  bool
	ReaderMinDelay time.Duration
	ReaderMaxDelay time.Duration
	BatchSize      int
	BatchPause     time.Duration
	Timeout        time.Duration
	HostMinDelay   time.Duration // politeness gap between direct page fetches to one host
	UserAgent      string
}

// NotificationConfig controls which notifier is used and its settings.
type NotificationConfig struct {
	Type       string `yaml:"type"`        // "log" or "slack"
	WebhookURL string `yaml:"webhook_url"` // required if type is "slack"
}

// Credentials for the remote feed readers. They come from the environment,
// never from the config file.
type Credentials struct {
	MinifluxURL      string
	MinifluxToken    string
	FreshRSSURL      string
	FreshRSSUsername string
	FreshRSSPassword string
}

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultReaderURL     = "https://r.jina.ai/"
	defaultUserAgent     = "Mozilla/5.0 (compatible; jobharvest/1.0)"
	defaultCategory      = "general"
)

var defaultLLMModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"ollama":    "llama3.1",
	"anthropic": "claude-3-5-haiku-latest",
}

var defaultEmbeddingModels = map[string]string{
	"openai": "text-embedding-3-small",
	"ollama": "nomic-embed-text",
	"gemini": "text-embedding-004",
}

// rawConfig is used for YAML unmarshaling (snake_case fields and durations as strings).
type rawConfig struct {
	RSSMode           string             `yaml:"rss_mode"`
	Feeds             []model.FeedSource `yaml:"rss_feeds"`
	Keywords          []string           `yaml:"keywords"`
	Recruitment       RecruitmentFilters `yaml:"recruitment_filters"`
	Scheduler         rawScheduler       `yaml:"scheduler"`
	Database          DatabaseConfig     `yaml:"database"`
	LLM               rawLLM             `yaml:"llm"`
	Embedding         rawEmbedding       `yaml:"embedding"`
	VectorStore       rawVectorStore     `yaml:"vector_store"`
	Content           rawContent         `yaml:"content"`
	Notification      NotificationConfig `yaml:"notification"`
	LastMinifluxFetch string             `yaml:"last_miniflux_fetch"`
}

type rawScheduler struct {
	FetchInterval string `yaml:"fetch_interval"`
	CheckInterval string `yaml:"check_interval"`
	RunOnStart    *bool  `yaml:"run_on_start"`
}

type rawLLM struct {
	Provider          string   `yaml:"provider"`
	Model             string   `yaml:"model"`
	BaseURL           string   `yaml:"base_url"`
	APIKey            string   `yaml:"api_key"`
	Temperature       *float64 `yaml:"temperature"`
	MaxTokens         int      `yaml:"max_tokens"`
	Timeout           string   `yaml:"timeout"`
	RequestsPerMinute *int     `yaml:"requests_per_minute"`
}

type rawEmbedding struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Timeout  string `yaml:"timeout"`
}

type rawVectorStore struct {
	IndexPath        string `yaml:"index_path"`
	MetadataPath     string `yaml:"metadata_path"`
	RebuildBatchSize int    `yaml:"rebuild_batch_size"`
}

type rawContent struct {
	ReaderURL      string `yaml:"reader_url"`
	DisableReader  bool   `yaml:"disable_reader"`
	ReaderMinDelay string `yaml:"reader_min_delay"`
	ReaderMaxDelay string `yaml:"reader_max_delay"`
	BatchSize      int    `yaml:"batch_size"`
	BatchPause     string `yaml:"batch_pause"`
	Timeout        string `yaml:"timeout"`
	HostMinDelay   string `yaml:"host_min_delay"`
	UserAgent      string `yaml:"user_agent"`
}

// Load reads and parses the YAML config file at path, validates it, and returns Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes. Environment variables referenced as
// ${VAR} are expanded first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	p := durationParser{}
	cfg := &Config{
		RSSMode:           strings.ToLower(strings.TrimSpace(raw.RSSMode)),
		Keywords:          raw.Keywords,
		Recruitment:       raw.Recruitment,
		Database:          raw.Database,
		Notification:      raw.Notification,
		LastMinifluxFetch: raw.LastMinifluxFetch,
		Credentials:       credentialsFromEnv(),
	}
	if cfg.RSSMode == "" {
		cfg.RSSMode = "auto"
	}

	for _, f := range raw.Feeds {
		if f.Category == "" {
			f.Category = defaultCategory
		}
		cfg.Feeds = append(cfg.Feeds, f)
	}
	if cfg.Recruitment.RequiredDegree == "" {
		cfg.Recruitment.RequiredDegree = "PhD"
	}
	if cfg.Recruitment.CitizenshipRequirement == "" {
		cfg.Recruitment.CitizenshipRequirement = "open to international students"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "jobs.db"
	}

	cfg.Scheduler = SchedulerConfig{
		FetchInterval: p.parse("scheduler.fetch_interval", raw.Scheduler.FetchInterval, 0),
		CheckInterval: p.parse("scheduler.check_interval", raw.Scheduler.CheckInterval, 60*time.Second),
		RunOnStart:    raw.Scheduler.RunOnStart == nil || *raw.Scheduler.RunOnStart,
	}

	cfg.LLM = LLMConfig{
		Provider:          strings.ToLower(raw.LLM.Provider),
		Model:             raw.LLM.Model,
		BaseURL:           strings.TrimRight(raw.LLM.BaseURL, "/"),
		APIKey:            raw.LLM.APIKey,
		Temperature:       0.2,
		MaxTokens:         raw.LLM.MaxTokens,
		Timeout:           p.parse("llm.timeout", raw.LLM.Timeout, 60*time.Second),
		RequestsPerMinute: 30,
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaultLLMModels[cfg.LLM.Provider]
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = defaultBaseURL(cfg.LLM.Provider)
	}
	if raw.LLM.Temperature != nil {
		cfg.LLM.Temperature = *raw.LLM.Temperature
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2048
	}
	if raw.LLM.RequestsPerMinute != nil {
		cfg.LLM.RequestsPerMinute = *raw.LLM.RequestsPerMinute
	}

	cfg.Embedding = EmbeddingConfig{
		Provider: strings.ToLower(raw.Embedding.Provider),
		Model:    raw.Embedding.Model,
		BaseURL:  strings.TrimRight(raw.Embedding.BaseURL, "/"),
		APIKey:   raw.Embedding.APIKey,
		Timeout:  p.parse("embedding.timeout", raw.Embedding.Timeout, 30*time.Second),
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaultEmbeddingModels[cfg.Embedding.Provider]
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = defaultBaseURL(cfg.Embedding.Provider)
	}

	cfg.VectorStore = VectorStoreConfig{
		IndexPath:        raw.VectorStore.IndexPath,
		MetadataPath:     raw.VectorStore.MetadataPath,
		RebuildBatchSize: raw.VectorStore.RebuildBatchSize,
	}
	if cfg.VectorStore.IndexPath == "" {
		cfg.VectorStore.IndexPath = "data/vector_index.bin"
	}
	if cfg.VectorStore.MetadataPath == "" {
		cfg.VectorStore.MetadataPath = "data/documents.json"
	}
	if cfg.VectorStore.RebuildBatchSize == 0 {
		cfg.VectorStore.RebuildBatchSize = 100
	}

	cfg.Content = ContentConfig{
		ReaderURL:      raw.Content.ReaderURL,
		DisableReader:  raw.Content.DisableReader,
		ReaderMinDelay: p.parse("content.reader_min_delay", raw.Content.ReaderMinDelay, time.Second),
		ReaderMaxDelay: p.parse("content.reader_max_delay", raw.Content.ReaderMaxDelay, 3*time.Second),
		BatchSize:      raw.Content.BatchSize,
		BatchPause:     p.parse("content.batch_pause", raw.Content.BatchPause, 10*time.Second),
		Timeout:        p.parse("content.timeout", raw.Content.Timeout, 30*time.Second),
		HostMinDelay:   p.parse("content.host_min_delay", raw.Content.HostMinDelay, 0),
		UserAgent:      raw.Content.UserAgent,
	}
	if cfg.Content.ReaderURL == "" {
		cfg.Content.ReaderURL = defaultReaderURL
	}
	if cfg.Content.BatchSize == 0 {
		cfg.Content.BatchSize = 5
	}
	if cfg.Content.UserAgent == "" {
		cfg.Content.UserAgent = defaultUserAgent
	}

	if cfg.Notification.Type == "" {
		cfg.Notification.Type = "log"
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// durationParser keeps the first parse error so Parse can read top to bottom.
type durationParser struct {
	err error
}

func (p *durationParser) parse(key, value string, def time.Duration) time.Duration {
	if value == "" || p.err != nil {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.err = fmt.Errorf("parse %s %q: %w", key, value, err)
		return def
	}
	return d
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return defaultOpenAIBaseURL
	case "ollama":
		return defaultOllamaBaseURL
	}
	return ""
}

func credentialsFromEnv() Credentials {
	return Credentials{
		MinifluxURL:      strings.TrimRight(os.Getenv("MINIFLUX_URL"), "/"),
		MinifluxToken:    os.Getenv("MINIFLUX_TOKEN"),
		FreshRSSURL:      strings.TrimRight(os.Getenv("FRESHRSS_URL"), "/"),
		FreshRSSUsername: os.Getenv("FRESHRSS_USERNAME"),
		FreshRSSPassword: os.Getenv("FRESHRSS_PASSWORD"),
	}
}

func validate(cfg *Config) error {
	if cfg.Scheduler.FetchInterval <= 0 {
		return fmt.Errorf("scheduler.fetch_interval must be positive, got %v", cfg.Scheduler.FetchInterval)
	}
	if cfg.Scheduler.CheckInterval <= 0 {
		return fmt.Errorf("scheduler.check_interval must be positive, got %v", cfg.Scheduler.CheckInterval)
	}

	for i, f := range cfg.Feeds {
		if f.URL == "" {
			return fmt.Errorf("rss_feeds[%d] (%q): url is required", i, f.Name)
		}
	}

	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.APIKey == "" && cfg.LLM.BaseURL == defaultOpenAIBaseURL {
			return fmt.Errorf("llm.api_key is required for the openai provider")
		}
	case "anthropic":
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for the anthropic provider")
		}
	case "ollama":
	default:
		return fmt.Errorf("llm.provider must be one of openai, ollama, anthropic, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must not be negative")
	}

	switch cfg.Embedding.Provider {
	case "openai":
		if cfg.Embedding.APIKey == "" && cfg.Embedding.BaseURL == defaultOpenAIBaseURL {
			return fmt.Errorf("embedding.api_key is required for the openai provider")
		}
	case "gemini":
		if cfg.Embedding.APIKey == "" {
			return fmt.Errorf("embedding.api_key is required for the gemini provider")
		}
	case "ollama":
	default:
		return fmt.Errorf("embedding.provider must be one of openai, ollama, gemini, got %q", cfg.Embedding.Provider)
	}

	if cfg.VectorStore.RebuildBatchSize < 0 {
		return fmt.Errorf("vector_store.rebuild_batch_size must be positive, got %d", cfg.VectorStore.RebuildBatchSize)
	}
	if cfg.Content.BatchSize < 0 {
		return fmt.Errorf("content.batch_size must be positive, got %d", cfg.Content.BatchSize)
	}
	if cfg.Content.ReaderMaxDelay < cfg.Content.ReaderMinDelay {
		return fmt.Errorf("content.reader_max_delay (%v) is below reader_min_delay (%v)",
			cfg.Content.ReaderMaxDelay, cfg.Content.ReaderMinDelay)
	}

	if cfg.Notification.Type == "slack" {
		if cfg.Notification.WebhookURL == "" {
			return fmt.Errorf("notification.webhook_url is required when type is \"slack\"")
		}
		if !strings.HasPrefix(cfg.Notification.WebhookURL, "https://hooks.slack.com/") {
			return fmt.Errorf("notification.webhook_url must start with https://hooks.slack.com/")
		}
	}

	return nil
}
