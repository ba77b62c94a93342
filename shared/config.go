package shared

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap/zapcore"
)

const (
	ToolModeText     = "text"
	ToolModeFunction = "function"

	BootstrapStatic = "static"
	BootstrapOpenAI = "openai"
	BootstrapRemote = "remote"

	TransportWebsocket = "websocket"
	TransportWebRTC    = "webrtc"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Realtime    RealtimeConfig    `yaml:"realtime"`
	Bootstrap   BootstrapConfig   `yaml:"bootstrap"`
	Capture     CaptureConfig     `yaml:"capture"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Store       StoreConfig       `yaml:"store"`
	Notify      NotifyConfig      `yaml:"notify"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type RealtimeConfig struct {
	URL          string              `yaml:"url"`
	BaseURL      string              `yaml:"base_url"`
	APIKey       string              `yaml:"-"`
	Model        string              `yaml:"model"`
	Voice        string              `yaml:"voice"`
	Temperature  float64             `yaml:"temperature"`
	Instructions string              `yaml:"instructions,omitempty"`
	ToolMode     string              `yaml:"tool_mode"`
	Transport    string              `yaml:"transport"`
	Turn         TurnDetectionConfig `yaml:"turn_detection"`
}

type TurnDetectionConfig struct {
	Type              string  `yaml:"type"`
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
}

type BootstrapConfig struct {
	Mode      string        `yaml:"mode"`
	RemoteURL string        `yaml:"remote_url,omitempty"`
	Token     string        `yaml:"token,omitempty"`
	TTL       time.Duration `yaml:"ttl"`
	Timeout   time.Duration `yaml:"timeout"`
}

type CaptureConfig struct {
	SampleRate    int           `yaml:"sample_rate"`
	FrameDuration time.Duration `yaml:"frame_duration"`
	StartTimeout  time.Duration `yaml:"start_timeout"`
}

type PlaybackConfig struct {
	Muted bool `yaml:"muted"`
}

type InterpreterConfig struct {
	PendingTTL time.Duration `yaml:"pending_ttl"`
	MaxBuffer  int           `yaml:"max_buffer"`
}

type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn,omitempty"`
	SheetID string `yaml:"sheet_id"`
}

type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url,omitempty"`
	Group      string        `yaml:"group,omitempty"`
	Agent      string        `yaml:"agent,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	File       string `yaml:"file,omitempty"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Realtime: RealtimeConfig{
			URL:         "wss://api.openai.com/v1/realtime",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-realtime-preview",
			Voice:       "alloy",
			Temperature: 0.8,
			ToolMode:    ToolModeText,
			Transport:   TransportWebsocket,
			Turn: TurnDetectionConfig{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 500,
			},
		},
		Bootstrap: BootstrapConfig{
			Mode:    BootstrapStatic,
			TTL:     10 * time.Minute,
			Timeout: 10 * time.Second,
		},
		Capture: CaptureConfig{
			SampleRate:    24000,
			FrameDuration: 100 * time.Millisecond,
			StartTimeout:  10 * time.Second,
		},
		Interpreter: InterpreterConfig{
			PendingTTL: 2 * time.Minute,
			MaxBuffer:  64 << 10,
		},
		Store: StoreConfig{
			Driver:  StoreMemory,
			SheetID: "default",
		},
		Notify: NotifyConfig{
			Timeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadConfig reads path over DefaultConfig and applies environment overrides.
// An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.UnmarshalWithOptions(data, cfg, yaml.DisallowUnknownField()); err != nil {
			return nil, fmt.Errorf("decoding config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() (err error) {
	if c.Realtime.APIKey, err = Getenv(GetenvString, "OPENAI_API_KEY", false, c.Realtime.APIKey); err != nil {
		return err
	}
	if c.Realtime.BaseURL, err = Getenv(GetenvString, "OPENAI_BASE_URL", false, c.Realtime.BaseURL); err != nil {
		return err
	}
	if c.Store.DSN, err = Getenv(GetenvString, "VOICE_LEDGER_DSN", false, c.Store.DSN); err != nil {
		return err
	}
	if c.Notify.WebhookURL, err = Getenv(GetenvString, "VOICE_LEDGER_WEBHOOK_URL", false, c.Notify.WebhookURL); err != nil {
		return err
	}
	if c.Store.SheetID, err = Getenv(GetenvString, "VOICE_LEDGER_SHEET_ID", false, c.Store.SheetID); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Realtime.ToolMode {
	case ToolModeText, ToolModeFunction:
	default:
		return fmt.Errorf("realtime.tool_mode: unsupported value %q", c.Realtime.ToolMode)
	}
	switch c.Realtime.Transport {
	case TransportWebsocket, TransportWebRTC:
	default:
		return fmt.Errorf("realtime.transport: unsupported value %q", c.Realtime.Transport)
	}
	switch c.Bootstrap.Mode {
	case BootstrapStatic, BootstrapOpenAI:
	case BootstrapRemote:
		if c.Bootstrap.RemoteURL == "" {
			return fmt.Errorf("bootstrap.remote_url is required in %s mode", BootstrapRemote)
		}
	default:
		return fmt.Errorf("bootstrap.mode: unsupported value %q", c.Bootstrap.Mode)
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", StorePostgres)
		}
	default:
		return fmt.Errorf("store.driver: unsupported value %q", c.Store.Driver)
	}
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture.sample_rate must be positive")
	}
	if c.Capture.FrameDuration <= 0 {
		return fmt.Errorf("capture.frame_duration must be positive")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) LogLevel() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// Dump renders the effective configuration. Secrets are never included.
func (c *Config) Dump() ([]byte, error) {
	redacted := *c
	redacted.Bootstrap.Token = ""
	redacted.Store.DSN = ""
	return yaml.Marshal(&redacted)
}
