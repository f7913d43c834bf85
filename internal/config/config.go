package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// LLM providers
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Store      StoreConfig
	ElevenLabs ElevenLabsConfig `mapstructure:"elevenlabs"`
	LLM        LLMConfig
	Upstream   UpstreamConfig
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxUpload    int64         `mapstructure:"max_upload_bytes"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StoreConfig selects and configures the conversation store.
// URL is a Postgres connection string; Key is used as the password when the
// URL does not carry one.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	URL        string `mapstructure:"url"`
	Key        string `mapstructure:"key"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MaxConns   int32  `mapstructure:"max_conns"`
}

// ElevenLabsConfig holds the voice-AI provider configuration
type ElevenLabsConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	BaseAgentID    string `mapstructure:"base_agent_id"`
	DefaultVoiceID string `mapstructure:"default_voice_id"`
	TTSModel       string `mapstructure:"tts_model"`
	OutputFormat   string `mapstructure:"output_format"`
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	Provider           string  `mapstructure:"provider"`
	BaseURL            string  `mapstructure:"base_url"`
	APIKey             string  `mapstructure:"api_key"`
	Model              string  `mapstructure:"model"`
	TranscriptionModel string  `mapstructure:"transcription_model"`
	MaxTokens          int     `mapstructure:"max_tokens"`
	Temperature        float32 `mapstructure:"temperature"`
}

// Enabled reports whether an LLM key was configured.
func (c LLMConfig) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// UpstreamConfig bounds every outbound call.
type UpstreamConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.max_upload_bytes", 25<<20)

	v.SetDefault("log.level", "info")

	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.url", "")
	v.SetDefault("store.key", "")
	v.SetDefault("store.sqlite_path", "escal8.db")
	v.SetDefault("store.max_conns", 4)

	v.SetDefault("elevenlabs.api_key", "")
	v.SetDefault("elevenlabs.base_url", "https://api.elevenlabs.io")
	v.SetDefault("elevenlabs.base_agent_id", "agent_4301kak9z54ye2xt7apdc1encesz")
	v.SetDefault("elevenlabs.default_voice_id", "SOYHLrjzK2X1ezoPC6cr")
	v.SetDefault("elevenlabs.tts_model", "eleven_multilingual_v2")
	v.SetDefault("elevenlabs.output_format", "mp3_44100_128")

	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.transcription_model", "whisper-1")
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.temperature", 0.8)

	v.SetDefault("upstream.timeout", "30s")
}

// bindEnv maps the conventional provider variables onto config keys. The
// ESCAL8_ prefixed form always wins.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "ESCAL8_SERVER_PORT", "PORT")
	_ = v.BindEnv("store.url", "ESCAL8_STORE_URL", "SUPABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("store.key", "ESCAL8_STORE_KEY", "SUPABASE_KEY")
	_ = v.BindEnv("elevenlabs.api_key", "ESCAL8_ELEVENLABS_API_KEY", "ELEVENLABS_API_KEY")

	if strings.EqualFold(v.GetString("llm.provider"), ProviderGemini) {
		_ = v.BindEnv("llm.api_key", "ESCAL8_LLM_API_KEY", "GEMINI_API_KEY")
	} else {
		_ = v.BindEnv("llm.api_key", "ESCAL8_LLM_API_KEY", "OPENAI_API_KEY")
	}
}

// loadDotEnv reads DOTENV_PATH (default .env) into the process environment.
// Variables that are already set are left alone.
func loadDotEnv() error {
	path := os.Getenv("DOTENV_PATH")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads .env, an optional config.yaml (or the file named by CONFIG_PATH)
// and the environment, then validates the result.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("ESCAL8")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyProviderDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyProviderDefaults() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case ProviderGemini:
			c.LLM.Model = "gemini-2.5-flash"
		default:
			c.LLM.Model = "gpt-4o-mini"
		}
	}
}

// Validate checks the settings the service cannot start without. The LLM key
// is optional.
func (c *Config) Validate() error {
	var missing []string

	switch c.Store.Driver {
	case DriverPostgres:
		if strings.TrimSpace(c.Store.URL) == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if strings.TrimSpace(c.Store.Key) == "" {
			missing = append(missing, "SUPABASE_KEY")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			missing = append(missing, "store.sqlite_path")
		}
	default:
		return fmt.Errorf("unsupported store driver %q (use %q or %q)", c.Store.Driver, DriverPostgres, DriverSQLite)
	}

	if strings.TrimSpace(c.ElevenLabs.APIKey) == "" {
		missing = append(missing, "ELEVENLABS_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}
	if c.Upstream.Timeout <= 0 {
		return errors.New("upstream.timeout must be positive")
	}
	return nil
}
