// ABOUTME: Configuration loading and parsing for coven-relay
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing, and defaults

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "COVEN_RELAY_CONFIG"

// Config represents the complete coven-relay configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Queue         QueueConfig         `yaml:"queue"`
	Delivery      DeliveryConfig      `yaml:"delivery"`
	Channel       ChannelConfig       `yaml:"channel"`
	Completion    CompletionConfig    `yaml:"completion"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Speech        SpeechConfig        `yaml:"speech"`
	Samples       SamplesConfig       `yaml:"samples"`
	Drafts        DraftsConfig        `yaml:"drafts"`
	Dedupe        DedupeConfig        `yaml:"dedupe"`
	Operator      OperatorConfig      `yaml:"operator"`
	Auth          AuthConfig          `yaml:"auth"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// StorageConfig selects the conversation backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // "file" | "sqlite"
	Dir     string `yaml:"dir"`     // file backend: one JSON file per conversation
	Path    string `yaml:"path"`    // sqlite backend: database file
}

// QueueConfig selects the outbound queue backend.
type QueueConfig struct {
	Backend string `yaml:"backend"` // "file" | "pebble"
	Dir     string `yaml:"dir"`
}

// DeliveryConfig holds delivery worker pacing.
type DeliveryConfig struct {
	PollInterval      time.Duration `yaml:"-"`
	CooldownBase      time.Duration `yaml:"-"`
	CooldownJitterMax time.Duration `yaml:"-"`
	SendTimeout       time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PollIntervalRaw      string `yaml:"poll_interval"`
	CooldownBaseRaw      string `yaml:"cooldown_base"`
	CooldownJitterMaxRaw string `yaml:"cooldown_jitter_max"`
	SendTimeoutRaw       string `yaml:"send_timeout"`
}

// ChannelConfig points at the messaging channel service.
type ChannelConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Session     string        `yaml:"session"`
	Token       string        `yaml:"token"`
	CountryCode string        `yaml:"country_code"`
	Timeout     time.Duration `yaml:"-"`
	TimeoutRaw  string        `yaml:"timeout"`
}

// CompletionConfig points at the chat-completion service.
type CompletionConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	PersonaFile string        `yaml:"persona_file"`
	RateLimit   float64       `yaml:"rate_limit"` // requests per second, 0 disables
	Burst       int           `yaml:"burst"`
	Timeout     time.Duration `yaml:"-"`
	TimeoutRaw  string        `yaml:"timeout"`
}

// TranscriptionConfig points at the speech-to-text service.
type TranscriptionConfig struct {
	Enabled    bool          `yaml:"enabled"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Attempts   int           `yaml:"attempts"`
	FFmpegPath string        `yaml:"ffmpeg_path"`
	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// SpeechConfig points at the text-to-speech service.
type SpeechConfig struct {
	Enabled    bool          `yaml:"enabled"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	VoiceID    string        `yaml:"voice_id"`
	OutputDir  string        `yaml:"output_dir"`
	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// SamplesConfig holds voice sample collection settings.
type SamplesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// DraftsConfig holds the draft store location.
type DraftsConfig struct {
	Path string `yaml:"path"`
}

// DedupeConfig bounds the inbound redelivery filter.
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-"`
	TTLRaw  string        `yaml:"ttl"`
	MaxSize int           `yaml:"max_size"`
}

// OperatorConfig holds operator frontend configuration
type OperatorConfig struct {
	Matrix MatrixConfig `yaml:"matrix"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Homeserver    string `yaml:"homeserver"`
	UserID        string `yaml:"user_id"`
	AccessToken   string `yaml:"access_token"`
	RoomID        string `yaml:"room_id"`
	CommandPrefix string `yaml:"command_prefix"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultPath resolves the config file location:
// $COVEN_RELAY_CONFIG, then $XDG_CONFIG_HOME/coven/relay.yaml, then ~/.config/coven/relay.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coven", "relay.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "coven", "relay.yaml"), nil
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values, and unset fields get defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration from raw YAML.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	setDefault(&c.Server.HTTPAddr, "127.0.0.1:8080")

	setDefault(&c.Storage.Backend, "file")
	setDefault(&c.Storage.Dir, "data/conversations")
	setDefault(&c.Storage.Path, "data/conversations.db")

	setDefault(&c.Queue.Backend, "file")
	setDefault(&c.Queue.Dir, "data/queue")

	setDefaultDuration(&c.Delivery.PollInterval, 2*time.Second)
	setDefaultDuration(&c.Delivery.CooldownBase, 10*time.Second)
	setDefaultDuration(&c.Delivery.CooldownJitterMax, 15*time.Second)
	setDefaultDuration(&c.Delivery.SendTimeout, 120*time.Second)

	setDefault(&c.Channel.Session, "default")
	setDefault(&c.Channel.CountryCode, "34")
	setDefaultDuration(&c.Channel.Timeout, 120*time.Second)

	setDefault(&c.Completion.PersonaFile, "persona.toml")
	setDefaultDuration(&c.Completion.Timeout, 120*time.Second)
	if c.Completion.Burst <= 0 {
		c.Completion.Burst = 1
	}

	setDefault(&c.Transcription.Model, "whisper-1")
	setDefault(&c.Transcription.FFmpegPath, "ffmpeg")
	setDefaultDuration(&c.Transcription.Timeout, 120*time.Second)
	if c.Transcription.Attempts <= 0 {
		c.Transcription.Attempts = 3
	}

	setDefault(&c.Speech.Model, "eleven_multilingual_v2")
	setDefault(&c.Speech.OutputDir, "data/speech")
	setDefaultDuration(&c.Speech.Timeout, 120*time.Second)

	setDefault(&c.Samples.Dir, "data/samples")
	setDefault(&c.Drafts.Path, "data/drafts.json")

	setDefaultDuration(&c.Dedupe.TTL, 10*time.Minute)
	if c.Dedupe.MaxSize <= 0 {
		c.Dedupe.MaxSize = 1000
	}

	setDefault(&c.Operator.Matrix.CommandPrefix, "!")

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "text")
	setDefault(&c.Metrics.Path, "/metrics")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setDefaultDuration(field *time.Duration, value time.Duration) {
	if *field == 0 {
		*field = value
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required")
	}

	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be \"file\" or \"sqlite\", got %q", c.Storage.Backend)
	}
	switch c.Queue.Backend {
	case "file", "pebble":
	default:
		return fmt.Errorf("queue.backend must be \"file\" or \"pebble\", got %q", c.Queue.Backend)
	}

	if c.Channel.BaseURL == "" {
		return errors.New("channel.base_url is required")
	}
	if c.Completion.BaseURL == "" {
		return errors.New("completion.base_url is required")
	}
	if c.Completion.Model == "" {
		return errors.New("completion.model is required")
	}
	if c.Completion.RateLimit < 0 {
		return errors.New("completion.rate_limit must not be negative")
	}

	if c.Transcription.Enabled && c.Transcription.BaseURL == "" {
		return errors.New("transcription.base_url is required when transcription is enabled")
	}
	if c.Samples.Enabled && !c.Transcription.Enabled {
		return errors.New("samples require transcription to be enabled")
	}
	if c.Speech.Enabled && c.Speech.BaseURL == "" {
		return errors.New("speech.base_url is required when speech is enabled")
	}

	if m := c.Operator.Matrix; m.Enabled {
		if m.Homeserver == "" {
			return errors.New("operator.matrix.homeserver is required when matrix is enabled")
		}
		if m.UserID == "" {
			return errors.New("operator.matrix.user_id is required when matrix is enabled")
		}
		if m.AccessToken == "" {
			return errors.New("operator.matrix.access_token is required when matrix is enabled")
		}
		if m.RoomID == "" {
			return errors.New("operator.matrix.room_id is required when matrix is enabled")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"delivery.poll_interval", cfg.Delivery.PollIntervalRaw, &cfg.Delivery.PollInterval},
		{"delivery.cooldown_base", cfg.Delivery.CooldownBaseRaw, &cfg.Delivery.CooldownBase},
		{"delivery.cooldown_jitter_max", cfg.Delivery.CooldownJitterMaxRaw, &cfg.Delivery.CooldownJitterMax},
		{"delivery.send_timeout", cfg.Delivery.SendTimeoutRaw, &cfg.Delivery.SendTimeout},
		{"channel.timeout", cfg.Channel.TimeoutRaw, &cfg.Channel.Timeout},
		{"completion.timeout", cfg.Completion.TimeoutRaw, &cfg.Completion.Timeout},
		{"transcription.timeout", cfg.Transcription.TimeoutRaw, &cfg.Transcription.Timeout},
		{"speech.timeout", cfg.Speech.TimeoutRaw, &cfg.Speech.Timeout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}
