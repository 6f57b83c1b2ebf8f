package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientType is the transport used to reach an MCP server.
type ClientType string

const (
	ClientTypeSSE            ClientType = "sse"
	ClientTypeStreamableHTTP ClientType = "streamable_http"
	ClientTypeStdio          ClientType = "stdio"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	LLM      LLMConfig
	Telegram TelegramConfig
	Catalog  CatalogConfig
	Calendar CalendarConfig
	Document DocumentConfig
	History  HistoryConfig
	Pipeline PipelineConfig
	Outbox   OutboxConfig
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LLMConfig holds the reasoning service configuration
type LLMConfig struct {
	Provider           string  `mapstructure:"provider"`
	BaseURL            string  `mapstructure:"base_url"`
	APIKey             string  `mapstructure:"api_key"`
	Model              string  `mapstructure:"model"`
	Temperature        float32 `mapstructure:"temperature"`
	JSONMode           bool    `mapstructure:"json_mode"`
	TranscriptionModel string  `mapstructure:"transcription_model"`
	Persona            string  `mapstructure:"persona"`
}

type TelegramConfig struct {
	Token         string `mapstructure:"token"`
	APIBaseURL    string `mapstructure:"api_base_url"`
	WebhookURL    string `mapstructure:"webhook_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// CatalogConfig points at the machines database. Seed entries are upserted on startup.
type CatalogConfig struct {
	DBPath string             `mapstructure:"db_path"`
	Seed   []CatalogSeedEntry `mapstructure:"seed"`
}

type CatalogSeedEntry struct {
	ModelName   string `mapstructure:"model_name"`
	Description string `mapstructure:"description"`
	WeeklyPrice string `mapstructure:"weekly_price"`
}

// CalendarConfig describes the MCP server exposing the calendar tool.
type CalendarConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	Type       ClientType        `mapstructure:"type"`
	URL        string            `mapstructure:"url"`
	Command    string            `mapstructure:"command"`
	Args       []string          `mapstructure:"args"`
	Env        map[string]string `mapstructure:"env"`
	Headers    map[string]string `mapstructure:"headers"`
	Tool       string            `mapstructure:"tool"`
	CalendarID string            `mapstructure:"calendar_id"`
	TimeZone   string            `mapstructure:"time_zone"`
}

type DocumentConfig struct {
	CompanyName string `mapstructure:"company_name"`
	Filename    string `mapstructure:"filename"`
	Footer      string `mapstructure:"footer"`
}

// HistoryConfig bounds the conversation store.
type HistoryConfig struct {
	Backend          string        `mapstructure:"backend"`
	MaxConversations int           `mapstructure:"max_conversations"`
	IdleTTL          time.Duration `mapstructure:"idle_ttl"`
	RedisAddr        string        `mapstructure:"redis_addr"`
	RedisPassword    string        `mapstructure:"redis_password"`
	RedisDB          int           `mapstructure:"redis_db"`
}

// PipelineConfig holds per-step timeouts.
type PipelineConfig struct {
	CatalogTimeout        time.Duration `mapstructure:"catalog_timeout"`
	ClassificationTimeout time.Duration `mapstructure:"classification_timeout"`
	DocumentTimeout       time.Duration `mapstructure:"document_timeout"`
	BookingTimeout        time.Duration `mapstructure:"booking_timeout"`
	SendTimeout           time.Duration `mapstructure:"send_timeout"`
}

type OutboxConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DBPath       string        `mapstructure:"db_path"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff"`
	BatchSize    int           `mapstructure:"batch_size"`
}

var (
	ErrInvalidHistory  = errors.New("config: invalid history settings")
	ErrInvalidCalendar = errors.New("config: invalid calendar settings")
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.json_mode", true)
	v.SetDefault("llm.transcription_model", "whisper-1")
	v.SetDefault("llm.persona", "Maquinaria Pro")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_base_url", "https://api.telegram.org")
	v.SetDefault("telegram.webhook_url", "")
	v.SetDefault("telegram.webhook_secret", "")

	v.SetDefault("catalog.db_path", "catalog.db")

	v.SetDefault("calendar.enabled", false)
	v.SetDefault("calendar.tool", "create_event")
	v.SetDefault("calendar.calendar_id", "primary")
	v.SetDefault("calendar.time_zone", "America/Mexico_City")

	v.SetDefault("document.company_name", "Maquinaria Pro")
	v.SetDefault("document.filename", "Cotizacion_Maquinaria_Pro.pdf")
	v.SetDefault("document.footer", "Esta cotización es preliminar y está sujeta a la confirmación de disponibilidad del equipo.")

	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.max_conversations", 10000)
	v.SetDefault("history.idle_ttl", "24h")
	v.SetDefault("history.redis_addr", "localhost:6379")
	v.SetDefault("history.redis_password", "")
	v.SetDefault("history.redis_db", 0)

	v.SetDefault("pipeline.catalog_timeout", "5s")
	v.SetDefault("pipeline.classification_timeout", "30s")
	v.SetDefault("pipeline.document_timeout", "20s")
	v.SetDefault("pipeline.booking_timeout", "15s")
	v.SetDefault("pipeline.send_timeout", "10s")

	v.SetDefault("outbox.enabled", false)
	v.SetDefault("outbox.db_path", "outbox.db")
	v.SetDefault("outbox.poll_interval", "30s")
	v.SetDefault("outbox.max_attempts", 5)
	v.SetDefault("outbox.base_backoff", "1m")
	v.SetDefault("outbox.batch_size", 20)
}

// Load reads config.yaml (or the file named by CONFIG_PATH). Every key can be
// overridden from the environment with the QUOTEBOT_ prefix, e.g. QUOTEBOT_LLM_API_KEY.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("QUOTEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.History.Backend {
	case "memory":
		if c.History.MaxConversations <= 0 {
			return fmt.Errorf("%w: max_conversations must be positive", ErrInvalidHistory)
		}
	case "redis":
		if c.History.RedisAddr == "" {
			return fmt.Errorf("%w: redis_addr is required", ErrInvalidHistory)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidHistory, c.History.Backend)
	}

	if !c.Calendar.Enabled {
		return nil
	}
	switch c.Calendar.Type {
	case ClientTypeSSE, ClientTypeStreamableHTTP:
		if c.Calendar.URL == "" {
			return fmt.Errorf("%w: url is required for %s", ErrInvalidCalendar, c.Calendar.Type)
		}
	case ClientTypeStdio:
		if c.Calendar.Command == "" {
			return fmt.Errorf("%w: command is required for stdio", ErrInvalidCalendar)
		}
	default:
		return fmt.Errorf("%w: unsupported type %q (use 'sse', 'streamable_http' or 'stdio')", ErrInvalidCalendar, c.Calendar.Type)
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}
