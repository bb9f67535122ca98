package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = "0.0.0.0:8080"
	DefaultDebounceDelay = 5 * time.Second
	DefaultHistoryWindow = 100
	DefaultQueueName     = "crm.gateway.events"
)

// Duration decodes "5s" style strings from TOML and the environment.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Auth      AuthConfig      `toml:"auth"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Media     MediaConfig     `toml:"media"`
	OpenAI    OpenAIConfig    `toml:"openai"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Queue     QueueConfig     `toml:"queue"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Pretty bool   `toml:"pretty"`
}

type ServerConfig struct {
	Addr      string `toml:"addr" validate:"required"`
	PublicURL string `toml:"public_url" validate:"omitempty,url"`
}

type PostgresConfig struct {
	DSN      string `toml:"dsn" validate:"required"`
	MaxConns int32  `toml:"max_conns" validate:"gte=1"`
	MinConns int32  `toml:"min_conns" validate:"gte=0"`
}

type AuthConfig struct {
	JWTSecret string   `toml:"jwt_secret" validate:"required,min=16"`
	TokenTTL  Duration `toml:"token_ttl"`
}

type GatewayConfig struct {
	Driver        string  `toml:"driver" validate:"oneof=http whatsmeow"`
	BaseURL       string  `toml:"base_url" validate:"required_if=Driver http"`
	APIKey        string  `toml:"api_key"`
	WebhookSecret string  `toml:"webhook_secret" validate:"required"`
	DevicesDir    string  `toml:"devices_dir"`
	SendRate      float64 `toml:"send_rate" validate:"gt=0"`
	SendBurst     int     `toml:"send_burst" validate:"gte=1"`
}

type SchedulerConfig struct {
	DebounceDelay Duration `toml:"debounce_delay"`
	HistoryWindow int      `toml:"history_window" validate:"gte=1,lte=500"`
	SweepSpec     string   `toml:"sweep_spec"`
	SweepGrace    Duration `toml:"sweep_grace"`
	MaxTokenAge   Duration `toml:"max_token_age"`
}

type MediaConfig struct {
	StorageDir     string `toml:"storage_dir" validate:"required"`
	PublicPath     string `toml:"public_path" validate:"required,startswith=/"`
	MaxBytes       int64  `toml:"max_bytes" validate:"gt=0"`
	EnrichAttempts int    `toml:"enrich_attempts" validate:"gte=1,lte=10"`
}

type OpenAIConfig struct {
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url" validate:"omitempty,url"`
	ChatModel          string `toml:"chat_model"`
	VisionModel        string `toml:"vision_model"`
	TranscriptionModel string `toml:"transcription_model"`
}

// Enabled reports whether AI replies and enrichment are configured.
func (c OpenAIConfig) Enabled() bool { return c.APIKey != "" }

type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
	ChatID   int64  `toml:"chat_id"`
}

type QueueConfig struct {
	Driver   string `toml:"driver" validate:"oneof=inprocess amqp"`
	AMQPURL  string `toml:"amqp_url" validate:"required_if=Driver amqp"`
	Name     string `toml:"name" validate:"required"`
	Prefetch int    `toml:"prefetch" validate:"gte=1"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Log:      LogConfig{Level: "info"},
		Server:   ServerConfig{Addr: DefaultHTTPAddr},
		Postgres: PostgresConfig{MaxConns: 10, MinConns: 2},
		Auth:     AuthConfig{TokenTTL: Duration{24 * time.Hour}},
		Gateway: GatewayConfig{
			Driver:     "http",
			DevicesDir: "devices",
			SendRate:   1,
			SendBurst:  5,
		},
		Scheduler: SchedulerConfig{
			DebounceDelay: Duration{DefaultDebounceDelay},
			HistoryWindow: DefaultHistoryWindow,
			SweepSpec:     "@every 30s",
			SweepGrace:    Duration{30 * time.Second},
			MaxTokenAge:   Duration{10 * time.Minute},
		},
		Media: MediaConfig{
			StorageDir:     "data/media",
			PublicPath:     "/media",
			MaxBytes:       32 << 20,
			EnrichAttempts: 3,
		},
		OpenAI: OpenAIConfig{
			ChatModel:          "gpt-4o-mini",
			VisionModel:        "gpt-4o-mini",
			TranscriptionModel: "whisper-1",
		},
		Queue: QueueConfig{Driver: "inprocess", Name: DefaultQueueName, Prefetch: 8},
	}
}

// Load reads the optional TOML file, then .env, then CRM_* variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("stat %s: %w", path, err)
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := map[string]*string{
		"CRM_LOG_LEVEL":                  &cfg.Log.Level,
		"CRM_SERVER_ADDR":                &cfg.Server.Addr,
		"CRM_SERVER_PUBLIC_URL":          &cfg.Server.PublicURL,
		"CRM_POSTGRES_DSN":               &cfg.Postgres.DSN,
		"CRM_JWT_SECRET":                 &cfg.Auth.JWTSecret,
		"CRM_GATEWAY_DRIVER":             &cfg.Gateway.Driver,
		"CRM_GATEWAY_BASE_URL":           &cfg.Gateway.BaseURL,
		"CRM_GATEWAY_API_KEY":            &cfg.Gateway.APIKey,
		"CRM_GATEWAY_WEBHOOK_SECRET":     &cfg.Gateway.WebhookSecret,
		"CRM_GATEWAY_DEVICES_DIR":        &cfg.Gateway.DevicesDir,
		"CRM_SCHEDULER_SWEEP_SPEC":       &cfg.Scheduler.SweepSpec,
		"CRM_MEDIA_STORAGE_DIR":          &cfg.Media.StorageDir,
		"CRM_MEDIA_PUBLIC_PATH":          &cfg.Media.PublicPath,
		"CRM_OPENAI_API_KEY":             &cfg.OpenAI.APIKey,
		"CRM_OPENAI_BASE_URL":            &cfg.OpenAI.BaseURL,
		"CRM_OPENAI_CHAT_MODEL":          &cfg.OpenAI.ChatModel,
		"CRM_OPENAI_VISION_MODEL":        &cfg.OpenAI.VisionModel,
		"CRM_OPENAI_TRANSCRIPTION_MODEL": &cfg.OpenAI.TranscriptionModel,
		"CRM_TELEGRAM_BOT_TOKEN":         &cfg.Telegram.BotToken,
		"CRM_QUEUE_DRIVER":               &cfg.Queue.Driver,
		"CRM_QUEUE_AMQP_URL":             &cfg.Queue.AMQPURL,
		"CRM_QUEUE_NAME":                 &cfg.Queue.Name,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"CRM_JWT_TTL":                  &cfg.Auth.TokenTTL,
		"CRM_SCHEDULER_DEBOUNCE_DELAY": &cfg.Scheduler.DebounceDelay,
		"CRM_SCHEDULER_SWEEP_GRACE":    &cfg.Scheduler.SweepGrace,
		"CRM_SCHEDULER_MAX_TOKEN_AGE":  &cfg.Scheduler.MaxTokenAge,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	if v, ok := lookup("CRM_LOG_PRETTY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CRM_LOG_PRETTY: %w", err)
		}
		cfg.Log.Pretty = b
	}
	if v, ok := lookup("CRM_TELEGRAM_CHAT_ID"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CRM_TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}
	if v, ok := lookup("CRM_SCHEDULER_HISTORY_WINDOW"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CRM_SCHEDULER_HISTORY_WINDOW: %w", err)
		}
		cfg.Scheduler.HistoryWindow = n
	}
	if v, ok := lookup("CRM_MEDIA_MAX_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CRM_MEDIA_MAX_BYTES: %w", err)
		}
		cfg.Media.MaxBytes = n
	}
	return nil
}
