package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the podcast generator
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Server      ServerConfig      `mapstructure:"server"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Agents      AgentsConfig      `mapstructure:"agents"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Sources     SourcesConfig     `mapstructure:"sources"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Streams     StreamsConfig     `mapstructure:"streams"`
	TTS         TTSConfig         `mapstructure:"tts"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	UploadDir      string   `mapstructure:"upload_dir"`
}

// Normalize fills server defaults.
func (s ServerConfig) Normalize() ServerConfig {
	if strings.TrimSpace(s.Address) == "" {
		s.Address = ":10001"
	}
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = 10 * 1024 * 1024
	}
	if len(s.CORSOrigins) == 0 {
		s.CORSOrigins = []string{"*"}
	}
	if strings.TrimSpace(s.UploadDir) == "" {
		s.UploadDir = os.TempDir()
	}
	return s
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
	Embedding EmbeddingConfig        `mapstructure:"embedding"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, anthropic, gemini
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for different tasks.
// Values are "<provider>/<model>" references into LLMConfig.Providers.
type LLMRoutingConfig struct {
	Planning  string `mapstructure:"planning"`  // outline planner
	Chatting  string `mapstructure:"chatting"`  // scriptwriter
	Analysis  string `mapstructure:"analysis"`  // summarizer passes
	Synthesis string `mapstructure:"synthesis"` // report, introduction, conclusion
	Research  string `mapstructure:"research"`  // analysts and interviews
	Fallback  string `mapstructure:"fallback"`
}

// EmbeddingConfig selects the provider used for vector store embeddings.
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// Validate checks that routing references configured providers.
func (l LLMConfig) Validate() error {
	if len(l.Providers) == 0 {
		return fmt.Errorf("llm.providers requires at least one provider")
	}
	for name, p := range l.Providers {
		switch p.Type {
		case "openai", "anthropic", "gemini":
		default:
			return fmt.Errorf("llm.providers.%s: unsupported type %q", name, p.Type)
		}
	}
	refs := map[string]string{
		"planning":  l.Routing.Planning,
		"chatting":  l.Routing.Chatting,
		"analysis":  l.Routing.Analysis,
		"synthesis": l.Routing.Synthesis,
		"research":  l.Routing.Research,
		"fallback":  l.Routing.Fallback,
	}
	for task, ref := range refs {
		if ref == "" {
			continue
		}
		provider, _, ok := strings.Cut(ref, "/")
		if !ok {
			return fmt.Errorf("llm.routing.%s must be <provider>/<model>, got %q", task, ref)
		}
		if _, exists := l.Providers[provider]; !exists {
			return fmt.Errorf("llm.routing.%s references unknown provider %q", task, provider)
		}
	}
	if l.Routing.Fallback == "" {
		return fmt.Errorf("llm.routing.fallback required")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// AgentsConfig contains agent-specific settings
type AgentsConfig struct {
	MaxConcurrentAgents int           `mapstructure:"max_concurrent_agents"` // 0 runs every interview at once
	AgentTimeout        time.Duration `mapstructure:"agent_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
}

func (a AgentsConfig) Validate() error {
	if a.MaxConcurrentAgents < 0 {
		return fmt.Errorf("agents.max_concurrent_agents cannot be negative")
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("agents.max_retries cannot be negative")
	}
	return nil
}

// PipelineConfig carries the research and scriptwriting defaults.
type PipelineConfig struct {
	MaxNumTurns        int            `mapstructure:"max_num_turns"`
	MaxAnalysts        int            `mapstructure:"max_analysts"`
	SearchK            int            `mapstructure:"search_k"`
	CallTimeout        time.Duration  `mapstructure:"call_timeout"`
	PipelineTimeout    time.Duration  `mapstructure:"pipeline_timeout"`
	DialogueWindow     int            `mapstructure:"dialogue_window"` // 0 resends the whole dialogue
	DefaultInstruction string         `mapstructure:"default_instruction"`
	Host               IdentityConfig `mapstructure:"host"`
	Guest              IdentityConfig `mapstructure:"guest"`
}

// IdentityConfig describes a default podcast participant.
type IdentityConfig struct {
	Name       string `mapstructure:"name"`
	Background string `mapstructure:"background"`
}

// Normalize applies pipeline defaults.
func (p PipelineConfig) Normalize() PipelineConfig {
	if p.MaxNumTurns <= 0 {
		p.MaxNumTurns = 3
	}
	if p.MaxAnalysts <= 0 {
		p.MaxAnalysts = 3
	}
	if p.SearchK <= 0 {
		p.SearchK = 5
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = 3 * time.Minute
	}
	if p.PipelineTimeout <= 0 {
		p.PipelineTimeout = 45 * time.Minute
	}
	if strings.TrimSpace(p.DefaultInstruction) == "" {
		p.DefaultInstruction = DefaultInstruction
	}
	if strings.TrimSpace(p.Host.Name) == "" {
		p.Host = IdentityConfig{Name: DefaultHostName, Background: DefaultHostBackground}
	}
	if strings.TrimSpace(p.Guest.Name) == "" {
		p.Guest = IdentityConfig{Name: DefaultGuestName, Background: DefaultGuestBackground}
	}
	return p
}

func (p PipelineConfig) Validate() error {
	if p.DialogueWindow < 0 {
		return fmt.Errorf("pipeline.dialogue_window cannot be negative")
	}
	if p.Host.Name == p.Guest.Name {
		return fmt.Errorf("pipeline.host.name and pipeline.guest.name must differ")
	}
	return nil
}

// SourcesConfig contains retrieval adapter configurations
type SourcesConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	Wikipedia WikipediaConfig `mapstructure:"wikipedia"`
	Arxiv     ArxivConfig     `mapstructure:"arxiv"`
}

// WebSearchConfig contains web search settings
type WebSearchConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Provider      string        `mapstructure:"provider"` // tavily, brave, serper
	TavilyAPIKey  string        `mapstructure:"tavily_api_key"`
	BraveAPIKey   string        `mapstructure:"brave_api_key"`
	SerperAPIKey  string        `mapstructure:"serper_api_key"`
	MaxResults    int           `mapstructure:"max_results"`
	Timeout       time.Duration `mapstructure:"timeout"`
	FetchFullText bool          `mapstructure:"fetch_full_text"`
	MaxChars      int           `mapstructure:"max_chars"`
}

// WikipediaConfig contains encyclopedia search settings
type WikipediaConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	Language string        `mapstructure:"language"`
	MaxDocs  int           `mapstructure:"max_docs"`
	MaxChars int           `mapstructure:"max_chars"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ArxivConfig contains academic paper search and reading settings
type ArxivConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Endpoint     string        `mapstructure:"endpoint"`
	HTMLEndpoint string        `mapstructure:"html_endpoint"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
	UseBrowser   bool          `mapstructure:"use_browser"`
}

// Normalize applies adapter defaults.
func (s SourcesConfig) Normalize() SourcesConfig {
	if s.WebSearch.Provider == "" {
		s.WebSearch.Provider = "tavily"
	}
	if s.WebSearch.MaxResults <= 0 {
		s.WebSearch.MaxResults = 5
	}
	if s.WebSearch.Timeout <= 0 {
		s.WebSearch.Timeout = 15 * time.Second
	}
	if s.WebSearch.MaxChars <= 0 {
		s.WebSearch.MaxChars = 6000
	}
	if s.Wikipedia.Endpoint == "" {
		lang := s.Wikipedia.Language
		if lang == "" {
			lang = "en"
		}
		s.Wikipedia.Endpoint = fmt.Sprintf("https://%s.wikipedia.org/w/api.php", lang)
	}
	if s.Wikipedia.MaxDocs <= 0 {
		s.Wikipedia.MaxDocs = 2
	}
	if s.Wikipedia.MaxChars <= 0 {
		s.Wikipedia.MaxChars = 4000
	}
	if s.Wikipedia.Timeout <= 0 {
		s.Wikipedia.Timeout = 15 * time.Second
	}
	if s.Arxiv.Endpoint == "" {
		s.Arxiv.Endpoint = "https://export.arxiv.org/api/query"
	}
	if s.Arxiv.HTMLEndpoint == "" {
		s.Arxiv.HTMLEndpoint = "https://arxiv.org/html"
	}
	if s.Arxiv.MaxResults <= 0 {
		s.Arxiv.MaxResults = 10
	}
	if s.Arxiv.Timeout <= 0 {
		s.Arxiv.Timeout = 30 * time.Second
	}
	return s
}

func (s SourcesConfig) Validate() error {
	if !s.WebSearch.Enabled {
		return nil
	}
	switch s.WebSearch.Provider {
	case "tavily":
		if s.WebSearch.TavilyAPIKey == "" {
			return fmt.Errorf("sources.web_search.tavily_api_key required for tavily provider")
		}
	case "brave":
		if s.WebSearch.BraveAPIKey == "" {
			return fmt.Errorf("sources.web_search.brave_api_key required for brave provider")
		}
	case "serper":
		if s.WebSearch.SerperAPIKey == "" {
			return fmt.Errorf("sources.web_search.serper_api_key required for serper provider")
		}
	default:
		return fmt.Errorf("sources.web_search.provider %q not supported", s.WebSearch.Provider)
	}
	return nil
}

// VectorStoreConfig controls the hybrid BM25/embedding store of past summaries.
type VectorStoreConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Backend         string        `mapstructure:"backend"` // inmemory, redis
	SessionID       string        `mapstructure:"session_id"`
	TTL             time.Duration `mapstructure:"ttl"`
	TopK            int           `mapstructure:"top_k"`
	ChunkSize       int           `mapstructure:"chunk_size"`
	ChunkOverlap    int           `mapstructure:"chunk_overlap"`
	IngestSummaries bool          `mapstructure:"ingest_summaries"`
}

// Normalize applies vector store defaults.
func (v VectorStoreConfig) Normalize() VectorStoreConfig {
	if v.Backend == "" {
		v.Backend = "inmemory"
	}
	if v.SessionID == "" {
		v.SessionID = "references"
	}
	if v.TTL <= 0 {
		v.TTL = 30 * 24 * time.Hour
	}
	if v.TopK <= 0 {
		v.TopK = 10
	}
	if v.ChunkSize <= 0 {
		v.ChunkSize = 800
	}
	if v.ChunkOverlap < 0 || v.ChunkOverlap >= v.ChunkSize {
		v.ChunkOverlap = v.ChunkSize / 2
	}
	return v
}

func (v VectorStoreConfig) Validate() error {
	switch v.Backend {
	case "inmemory", "redis":
		return nil
	default:
		return fmt.Errorf("vector_store.backend %q not supported", v.Backend)
	}
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Configured reports whether a Redis host was provided.
func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.Host) != ""
}

func (r RedisConfig) Validate() error {
	if !r.Configured() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Configured reports whether Postgres persistence was requested.
func (p PostgresConfig) Configured() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

func (p PostgresConfig) Validate() error {
	if !p.Configured() || strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// StreamsConfig controls Redis Streams usage for events and async jobs.
type StreamsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	EventsStream string `mapstructure:"events_stream"`
	JobsStream   string `mapstructure:"jobs_stream"`
	Group        string `mapstructure:"group"`
	MaxLen       int64  `mapstructure:"max_len"`
}

// Normalize applies stream defaults.
func (s StreamsConfig) Normalize() StreamsConfig {
	if s.EventsStream == "" {
		s.EventsStream = "podcast.events"
	}
	if s.JobsStream == "" {
		s.JobsStream = "podcast.jobs"
	}
	if s.Group == "" {
		s.Group = "podcast-workers"
	}
	if s.MaxLen <= 0 {
		s.MaxLen = 10000
	}
	return s
}

// TTSConfig contains speech synthesis settings
type TTSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Provider   string `mapstructure:"provider"` // openai
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	HostVoice  string `mapstructure:"host_voice"`
	GuestVoice string `mapstructure:"guest_voice"`
	OutputDir  string `mapstructure:"output_dir"`
}

// Normalize applies speech defaults.
func (t TTSConfig) Normalize() TTSConfig {
	if t.Provider == "" {
		t.Provider = "openai"
	}
	if t.Model == "" {
		t.Model = "gpt-4o-mini-tts"
	}
	if t.HostVoice == "" {
		t.HostVoice = "nova"
	}
	if t.GuestVoice == "" {
		t.GuestVoice = "onyx"
	}
	if t.OutputDir == "" {
		t.OutputDir = filepath.Join("stores", "audio")
	}
	return t
}

func (t TTSConfig) Validate() error {
	if t.Enabled && t.Provider != "openai" {
		return fmt.Errorf("tts.provider %q not supported", t.Provider)
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("PODCASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (PODCASTER_*)

	if err := v.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	cfg, err := decode(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("fatal error config file: %w", err)
	}
	config.Server = config.Server.Normalize()
	config.Pipeline = config.Pipeline.Normalize()
	config.Sources = config.Sources.Normalize()
	config.VectorStore = config.VectorStore.Normalize()
	config.Streams = config.Streams.Normalize()
	config.TTS = config.TTS.Normalize()

	validators := []func() error{
		config.LLM.Validate,
		config.Telemetry.Validate,
		config.Agents.Validate,
		config.Pipeline.Validate,
		config.Sources.Validate,
		config.VectorStore.Validate,
		config.Storage.Redis.Validate,
		config.Storage.Postgres.Validate,
		config.TTS.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return nil, err
		}
	}
	if config.Streams.Enabled && !config.Storage.Redis.Configured() {
		return nil, fmt.Errorf("streams.enabled requires storage.redis")
	}
	if config.VectorStore.Enabled && config.VectorStore.Backend == "redis" && !config.Storage.Redis.Configured() {
		return nil, fmt.Errorf("vector_store.backend redis requires storage.redis")
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.default_timeout", 30*time.Second)
	v.SetDefault("pipeline.max_num_turns", 3)
	v.SetDefault("pipeline.max_analysts", 3)
	v.SetDefault("pipeline.search_k", 5)
	v.SetDefault("pipeline.dialogue_window", 0)
	v.SetDefault("agents.max_retries", 0)
	v.SetDefault("agents.retry_backoff", 500*time.Millisecond)
	v.SetDefault("sources.web_search.enabled", true)
	v.SetDefault("sources.wikipedia.enabled", true)
	v.SetDefault("sources.arxiv.enabled", true)
	v.SetDefault("vector_store.enabled", false)
	v.SetDefault("vector_store.ingest_summaries", true)
}
