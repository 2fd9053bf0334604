package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for dmsbridge.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	DMS      DMSConfig      `json:"dms"`
	Webhook  WebhookConfig  `json:"webhook"`
	Inbox    InboxConfig    `json:"inbox"`
	Delivery DeliveryConfig `json:"delivery"`
	Identity IdentityConfig `json:"identity"`
	Journal  JournalConfig  `json:"journal"`
	Fanout   FanoutConfig   `json:"fanout"`
	Events   EventsConfig   `json:"events"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`         // "text" | "json"
	LogFile   string `json:"logFile,omitempty"` // optional log file path
}

type ServerConfig struct {
	Host                  string   `json:"host"`
	Port                  int      `json:"port"`
	RequestTimeoutSeconds int      `json:"requestTimeoutSeconds"`
	AllowedOrigins        []string `json:"allowedOrigins,omitempty"` // CORS; "*" allows any
}

// DMSConfig is the connection to the Digital Messaging Service.
type DMSConfig struct {
	ChannelID  string `json:"channelId"`
	JWTSecret  string `json:"jwtSecret"`
	APIURL     string `json:"apiUrl"`
	WebhookURL string `json:"webhookUrl,omitempty"` // callback URL registered with the provider

	SendsPerMinute int `json:"sendsPerMinute"` // outbound throttle, 0 = unlimited
	SendBurst      int `json:"sendBurst"`
}

type WebhookConfig struct {
	VerifyTimeoutSeconds int   `json:"verifyTimeoutSeconds"`
	MaxBodyBytes         int64 `json:"maxBodyBytes"`
}

type InboxConfig struct {
	MaxMessages          int `json:"maxMessages"`   // 0 = unbounded
	MaxAgeMinutes        int `json:"maxAgeMinutes"` // 0 = never expire
	EphemeralTTLSeconds  int `json:"ephemeralTTLSeconds"`
	SweepIntervalSeconds int `json:"sweepIntervalSeconds"`
}

type DeliveryConfig struct {
	MaxEntries int `json:"maxEntries"` // 0 = unbounded
}

type IdentityConfig struct {
	AliasFile string            `json:"aliasFile,omitempty"` // YAML alias table
	Aliases   map[string]string `json:"aliases,omitempty"`   // inline entries, applied after the file
}

type JournalConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

type FanoutConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Subject string `json:"subject"`
}

type EventsConfig struct {
	MaxHistory int `json:"maxHistory"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.dmsbridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dmsbridge"
	}
	return filepath.Join(home, ".dmsbridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadOrDefault loads path, falling back to Defaults when the file does not
// exist. Environment overrides apply in both cases.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return finish(Defaults())
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnv(cfg)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)
	cfg.Identity.AliasFile = ExpandPath(cfg.Identity.AliasFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envOverrides maps environment variables onto config fields. The first
// name in each list that is set wins.
var envOverrides = []struct {
	names []string
	apply func(*Config, string) error
}{
	{[]string{"DMS_JWT_SECRET", "JWT_SECRET"}, func(c *Config, v string) error { c.DMS.JWTSecret = v; return nil }},
	{[]string{"DMS_CHANNEL_ID", "CHANNEL_ID"}, func(c *Config, v string) error { c.DMS.ChannelID = v; return nil }},
	{[]string{"DMS_API_URL", "API_URL"}, func(c *Config, v string) error { c.DMS.APIURL = v; return nil }},
	{[]string{"DMS_WEBHOOK_URL"}, func(c *Config, v string) error { c.DMS.WebhookURL = v; return nil }},
	{[]string{"PORT"}, func(c *Config, v string) error {
		p, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Server.Port = p
		return nil
	}},
}

// ApplyEnv overlays the DMS_* and PORT environment variables. Unparseable
// values are ignored.
func ApplyEnv(cfg *Config) {
	for _, o := range envOverrides {
		for _, name := range o.names {
			v, ok := os.LookupEnv(name)
			if !ok || v == "" {
				continue
			}
			_ = o.apply(cfg, v)
			break
		}
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file may carry the signing secret.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.RequestTimeoutSeconds < 1 {
		errs = append(errs, "server.requestTimeoutSeconds must be >= 1")
	}

	if cfg.DMS.APIURL != "" {
		if u, err := url.Parse(cfg.DMS.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "dms.apiUrl must be an absolute URL")
		}
	}

	if cfg.DMS.SendsPerMinute < 0 || cfg.DMS.SendBurst < 0 {
		errs = append(errs, "dms.sendsPerMinute and dms.sendBurst must be >= 0")
	}

	if cfg.Webhook.VerifyTimeoutSeconds < 1 {
		errs = append(errs, "webhook.verifyTimeoutSeconds must be >= 1")
	}
	if cfg.Webhook.MaxBodyBytes < 1 {
		errs = append(errs, "webhook.maxBodyBytes must be >= 1")
	}

	if cfg.Inbox.MaxMessages < 0 {
		errs = append(errs, "inbox.maxMessages must be >= 0")
	}
	if cfg.Inbox.MaxAgeMinutes < 0 {
		errs = append(errs, "inbox.maxAgeMinutes must be >= 0")
	}
	if cfg.Inbox.EphemeralTTLSeconds < 1 {
		errs = append(errs, "inbox.ephemeralTTLSeconds must be >= 1")
	}
	if cfg.Delivery.MaxEntries < 0 {
		errs = append(errs, "delivery.maxEntries must be >= 0")
	}

	if cfg.Journal.Enabled && cfg.Journal.DBPath == "" {
		errs = append(errs, "journal.dbPath is required when the journal is enabled")
	}
	if cfg.Journal.RetentionDays < 0 {
		errs = append(errs, "journal.retentionDays must be >= 0")
	}
	if cfg.Fanout.Enabled {
		if cfg.Fanout.URL == "" {
			errs = append(errs, "fanout.url is required when fan-out is enabled")
		}
		if cfg.Fanout.Subject == "" {
			errs = append(errs, "fanout.subject is required when fan-out is enabled")
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
