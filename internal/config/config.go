package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all meetscribe environment variables.
const EnvPrefix = "MEETSCRIBE_"

// Transcription provider names accepted in transcription.provider.
const (
	ProviderSimulator = "simulator"
	ProviderDeepgram  = "deepgram"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr     string `yaml:"listen_addr"`
	DBPath         string `yaml:"db_path"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	IdleGrace      string `yaml:"idle_grace"`
	SweepInterval  string `yaml:"sweep_interval"`
	ChunkInterval  string `yaml:"chunk_interval"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	FFmpegPath     string `yaml:"ffmpeg_path"`

	Transcription Transcription `yaml:"transcription"`
	Summarization Summarization `yaml:"summarization"`
	Kafka         Kafka         `yaml:"kafka"`
	GDrive        GDrive        `yaml:"gdrive"`

	// Secrets, env vars only, never serialized to YAML.
	DeepgramAPIKey  string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

// Transcription selects and tunes the per-chunk speech-to-text engine.
type Transcription struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	Timeout  string `yaml:"timeout"`
}

// Summarization configures the generative backend used for enhancement,
// transcript formatting and summaries. Models are "provider/model" candidates
// tried in order on first use.
type Summarization struct {
	Models         []string `yaml:"models"`
	Timeout        string   `yaml:"timeout"`
	EnhanceTimeout string   `yaml:"enhance_timeout"`
	MaxInputChars  int      `yaml:"max_input_chars"`
	// MaxTokens caps completion length; zero keeps the provider default.
	MaxTokens      int      `yaml:"max_tokens"`
	SystemPrompt   string   `yaml:"system_prompt"`
	UserTemplate   string   `yaml:"user_template"`
}

// Kafka configures transcript event publishing. An empty broker list keeps
// the publisher in log-only mode.
type Kafka struct {
	Brokers      []string `yaml:"brokers"`
	TopicPartial string   `yaml:"topic_partial"`
	TopicFinal   string   `yaml:"topic_final"`
	Principal    string   `yaml:"principal"`
}

// GDrive configures export of completed sessions to Google Drive.
type GDrive struct {
	FolderID        string `yaml:"folder_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

func defaults() Config {
	return Config{
		ListenAddr:     ":8080",
		DBPath:         "data/meetscribe.db",
		LogLevel:       "info",
		LogFormat:      "json",
		IdleGrace:      "2m",
		SweepInterval:  "15s",
		ChunkInterval:  "1s",
		MaxUploadBytes: 100 << 20,
		FFmpegPath:     "ffmpeg",
		Transcription: Transcription{
			Provider: ProviderSimulator,
			Language: "en-US",
			Timeout:  "10s",
		},
		Summarization: Summarization{
			Models: []string{
				"anthropic/claude-sonnet-4-5",
				"openai/gpt-4o-mini",
				"gemini/gemini-2.5-flash",
			},
			Timeout:        "60s",
			EnhanceTimeout: "5s",
			MaxInputChars:  12000,
		},
		Kafka: Kafka{
			TopicPartial: "meetscribe.transcript.partial",
			TopicFinal:   "meetscribe.transcript.final",
			Principal:    "meetscribe",
		},
		GDrive: GDrive{
			CredentialsFile: "./service-account.json",
		},
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedIdleGrace is how long a recording or paused session may go without a
// chunk before the sweeper interrupts it.
func (c *Config) ParsedIdleGrace() time.Duration {
	return parseDuration(c.IdleGrace, 2*time.Minute)
}

// ParsedSweepInterval returns how often the idle sweeper runs.
func (c *Config) ParsedSweepInterval() time.Duration {
	return parseDuration(c.SweepInterval, 15*time.Second)
}

// ParsedChunkInterval is the fixed per-chunk duration added to a session's
// accumulated duration and used for transcript timestamps.
func (c *Config) ParsedChunkInterval() time.Duration {
	return parseDuration(c.ChunkInterval, time.Second)
}

// ParsedTranscriptionTimeout returns the latency ceiling for one chunk.
func (c *Config) ParsedTranscriptionTimeout() time.Duration {
	return parseDuration(c.Transcription.Timeout, 10*time.Second)
}

// ParsedSummarizationTimeout returns the ceiling for transcript formatting
// and summary calls.
func (c *Config) ParsedSummarizationTimeout() time.Duration {
	return parseDuration(c.Summarization.Timeout, 60*time.Second)
}

// ParsedEnhanceTimeout returns the ceiling for one enhancement call.
func (c *Config) ParsedEnhanceTimeout() time.Duration {
	return parseDuration(c.Summarization.EnhanceTimeout, 5*time.Second)
}

// EffectiveTranscriptionProvider returns the configured provider, downgraded
// to the simulator when the provider's credentials are missing.
func (c *Config) EffectiveTranscriptionProvider() string {
	switch c.Transcription.Provider {
	case ProviderDeepgram:
		if c.DeepgramAPIKey != "" {
			return ProviderDeepgram
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey != "" {
			return ProviderOpenAI
		}
	case ProviderGoogle:
		return ProviderGoogle
	}
	return ProviderSimulator
}

// APIKey returns the secret for an LLM provider name, or "" when unset.
func (c *Config) APIKey(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv(EnvPrefix + "IDLE_GRACE"); v != "" {
		cfg.IdleGrace = v
	}
	if v := os.Getenv(EnvPrefix + "SWEEP_INTERVAL"); v != "" {
		cfg.SweepInterval = v
	}
	if v := os.Getenv(EnvPrefix + "CHUNK_INTERVAL"); v != "" {
		cfg.ChunkInterval = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && n > 0 {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv(EnvPrefix + "FFMPEG_PATH"); v != "" {
		cfg.FFmpegPath = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_PROVIDER"); v != "" {
		cfg.Transcription.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_MODEL"); v != "" {
		cfg.Transcription.Model = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_LANGUAGE"); v != "" {
		cfg.Transcription.Language = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_TIMEOUT"); v != "" {
		cfg.Transcription.Timeout = v
	}
	if v := os.Getenv(EnvPrefix + "SUMMARIZATION_MODELS"); v != "" {
		cfg.Summarization.Models = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "SUMMARIZATION_TIMEOUT"); v != "" {
		cfg.Summarization.Timeout = v
	}
	if v := os.Getenv(EnvPrefix + "SUMMARIZATION_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.Summarization.MaxTokens = n
		}
	}
	if v := os.Getenv(EnvPrefix + "KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDrive.FolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GDrive.CredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	switch cfg.Transcription.Provider {
	case ProviderSimulator, ProviderGoogle:
	case ProviderDeepgram:
		if cfg.DeepgramAPIKey == "" {
			warnings = append(warnings, "Deepgram API key not configured; using the transcription simulator. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
		}
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			warnings = append(warnings, "OpenAI API key not configured; using the transcription simulator. Set "+EnvPrefix+"OPENAI_API_KEY.")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown transcription provider %q; using the transcription simulator.", cfg.Transcription.Provider))
	}

	usable := 0
	for _, candidate := range cfg.Summarization.Models {
		provider, _, ok := strings.Cut(candidate, "/")
		if !ok {
			warnings = append(warnings, fmt.Sprintf("Invalid summarization model %q; expected provider/model.", candidate))
			continue
		}
		if cfg.APIKey(provider) != "" {
			usable++
		}
	}
	if usable == 0 {
		warnings = append(warnings, "No summarization model has an API key; summaries use the structural fallback.")
	}

	durations := []struct{ name, raw string }{
		{"idle_grace", cfg.IdleGrace},
		{"sweep_interval", cfg.SweepInterval},
		{"chunk_interval", cfg.ChunkInterval},
		{"transcription.timeout", cfg.Transcription.Timeout},
		{"summarization.timeout", cfg.Summarization.Timeout},
		{"summarization.enhance_timeout", cfg.Summarization.EnhanceTimeout},
	}
	for _, d := range durations {
		if parsed, err := time.ParseDuration(d.raw); err != nil || parsed <= 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q; using default.", d.name, d.raw))
		}
	}

	if cfg.MaxUploadBytes <= 0 {
		warnings = append(warnings, "Invalid max_upload_bytes; using default 100 MiB.")
		cfg.MaxUploadBytes = 100 << 20
	}
	if cfg.Summarization.MaxInputChars <= 0 {
		warnings = append(warnings, "Invalid summarization.max_input_chars; using default 12000.")
		cfg.Summarization.MaxInputChars = 12000
	}
	if cfg.Summarization.MaxTokens < 0 {
		warnings = append(warnings, "Invalid summarization.max_tokens; using the provider default.")
		cfg.Summarization.MaxTokens = 0
	}

	return warnings
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}

	return result
}
