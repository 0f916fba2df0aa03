// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/childserv/lib/ref"
)

// EnvConfigPath names the environment variable read by Load.
const EnvConfigPath = "CHILDSERV_CONFIG"

// Config is the complete bot configuration.
type Config struct {
	// HomeserverURL is the base URL of the Matrix homeserver.
	HomeserverURL string `yaml:"homeserver_url"`

	// SessionFile is a JSON file holding the bot's user ID and access
	// token. CHILDSERV_* environment variables override its fields.
	SessionFile string `yaml:"session_file"`

	// StateDir holds the ban database and the welcome-room snapshot.
	StateDir string `yaml:"state_dir"`

	// CommandPrefix starts every operator command. Default "!".
	CommandPrefix string `yaml:"command_prefix"`

	// AdminRooms restricts where commands are accepted. Empty means
	// any room the bot shares with a principal.
	AdminRooms []ref.RoomRef `yaml:"admin_rooms"`

	// AlertRoom receives operator alerts. Optional: alerts are always
	// logged.
	AlertRoom ref.RoomRef `yaml:"alert_room"`

	// Admins lists the principals allowed to issue commands.
	Admins []Admin `yaml:"admins"`

	// Permissions sets the level each command group requires.
	Permissions Permissions `yaml:"permissions"`

	Welcome WelcomeConfig `yaml:"welcome"`
	Bans    BansConfig    `yaml:"bans"`
	Gateway GatewayConfig `yaml:"gateway"`
	Logging LoggingConfig `yaml:"logging"`
}

// Admin is a principal allowed to command the bot.
type Admin struct {
	UserID ref.UserID `yaml:"user_id"`
	Level  int        `yaml:"level"`
}

// Permissions maps command groups to required levels.
type Permissions struct {
	Ban     int `yaml:"ban"`
	Unban   int `yaml:"unban"`
	Kick    int `yaml:"kick"`
	Rooms   int `yaml:"rooms"`
	Welcome int `yaml:"welcome"`
	View    int `yaml:"view"`
}

// WelcomeConfig configures the welcome-room lifecycle.
type WelcomeConfig struct {
	// MonitoredRooms are the public rooms whose joins trigger a welcome.
	MonitoredRooms []ref.RoomRef `yaml:"monitored_rooms"`

	// GracePeriod is how long a welcome room lives. Default 1h.
	GracePeriod time.Duration `yaml:"grace_period"`

	// RoomName and Message are text/template sources. Message is
	// Markdown and is sent with an HTML rendering.
	RoomName string `yaml:"room_name"`
	Topic    string `yaml:"topic"`
	Message  string `yaml:"message"`

	// MaxRejoinAttempts bounds rejoins after the bot is kicked from a
	// welcome room. Default 1; 0 disables rejoin.
	MaxRejoinAttempts int `yaml:"max_rejoin_attempts"`

	// LeaveWhenAlone makes the bot leave as soon as the welcomed
	// member leaves. Default true.
	LeaveWhenAlone bool `yaml:"leave_when_alone"`

	// LeaveRetryDelay re-arms the leave timer after a transient leave
	// failure. Default 1m.
	LeaveRetryDelay time.Duration `yaml:"leave_retry_delay"`
}

// BansConfig configures ban propagation.
type BansConfig struct {
	TargetRooms       []ref.RoomRef `yaml:"target_rooms"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	MaxAttempts       int           `yaml:"max_attempts"`
	Workers           int           `yaml:"workers"`
}

// GatewayConfig configures the Matrix client.
type GatewayConfig struct {
	// CallTimeout bounds every outbound call except /sync. Default 15s.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// SyncTimeout is the /sync long-poll timeout. Default 30s.
	SyncTimeout       time.Duration `yaml:"sync_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level slog.Level `yaml:"level"`
	// Format is "json" (default) or "text".
	Format string `yaml:"format"`
}

// DefaultWelcomeMessage is used when welcome.message is empty.
const DefaultWelcomeMessage = `Hi **{{.Localpart}}**, welcome to {{.Room}}!

This is a private room just for you. Ask anything here; it closes in
{{.GracePeriod}}.`

// Default returns the configuration defaults. Fields with no sensible
// default (homeserver, session, principals) are left empty and caught
// by Validate.
func Default() *Config {
	return &Config{
		StateDir:      "/var/lib/childserv",
		CommandPrefix: "!",
		Permissions: Permissions{
			Ban:     50,
			Unban:   50,
			Kick:    50,
			Rooms:   100,
			Welcome: 50,
			View:    10,
		},
		Welcome: WelcomeConfig{
			GracePeriod:       time.Hour,
			RoomName:          "Welcome {{.Localpart}}",
			Message:           DefaultWelcomeMessage,
			MaxRejoinAttempts: 1,
			LeaveWhenAlone:    true,
			LeaveRetryDelay:   time.Minute,
		},
		Bans: BansConfig{
			ReconcileInterval: 2 * time.Minute,
			BackoffBase:       30 * time.Second,
			BackoffMax:        30 * time.Minute,
			MaxAttempts:       8,
			Workers:           4,
		},
		Gateway: GatewayConfig{
			CallTimeout:       15 * time.Second,
			SyncTimeout:       30 * time.Second,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: "json",
		},
	}
}

// Load loads configuration from the file named by CHILDSERV_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvConfigPath)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your childserv.yaml config file, or use --config flag", EnvConfigPath)
	}
	return LoadFile(configPath)
}

// LoadFile loads and validates configuration from path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes configuration bytes over the defaults, expands
// variables, and validates. extension selects JSONC preprocessing for
// ".json" and ".jsonc".
func Parse(data []byte, extension string) (*Config, error) {
	switch strings.ToLower(extension) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":            os.Getenv("HOME"),
		"STATE_DIRECTORY": os.Getenv("STATE_DIRECTORY"),
	}
	c.StateDir = expandVars(c.StateDir, vars)
	vars["CHILDSERV_STATE"] = c.StateDir
	c.SessionFile = expandVars(c.SessionFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and returns every problem found,
// joined.
func (c *Config) Validate() error {
	var errs []error

	if c.HomeserverURL == "" {
		errs = append(errs, fmt.Errorf("homeserver_url is required"))
	}
	if c.SessionFile == "" {
		errs = append(errs, fmt.Errorf("session_file is required"))
	}
	if c.StateDir == "" {
		errs = append(errs, fmt.Errorf("state_dir is required"))
	}
	if c.CommandPrefix == "" || strings.ContainsAny(c.CommandPrefix, " \t\r\n") {
		errs = append(errs, fmt.Errorf("command_prefix must be non-empty and contain no whitespace"))
	}

	if len(c.Admins) == 0 {
		errs = append(errs, fmt.Errorf("admins: at least one principal is required"))
	}
	seen := make(map[ref.UserID]bool, len(c.Admins))
	for index, admin := range c.Admins {
		if admin.UserID.IsZero() {
			errs = append(errs, fmt.Errorf("admins[%d]: user_id is required", index))
			continue
		}
		if seen[admin.UserID] {
			errs = append(errs, fmt.Errorf("admins[%d]: duplicate principal %s", index, admin.UserID))
		}
		seen[admin.UserID] = true
		if admin.Level < 0 {
			errs = append(errs, fmt.Errorf("admins[%d]: level must be >= 0", index))
		}
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"welcome.grace_period", c.Welcome.GracePeriod},
		{"welcome.leave_retry_delay", c.Welcome.LeaveRetryDelay},
		{"bans.reconcile_interval", c.Bans.ReconcileInterval},
		{"bans.backoff_base", c.Bans.BackoffBase},
		{"bans.backoff_max", c.Bans.BackoffMax},
		{"gateway.call_timeout", c.Gateway.CallTimeout},
		{"gateway.sync_timeout", c.Gateway.SyncTimeout},
	}
	for _, field := range positive {
		if field.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", field.name))
		}
	}
	if c.Bans.BackoffBase > c.Bans.BackoffMax {
		errs = append(errs, fmt.Errorf("bans.backoff_base (%s) exceeds bans.backoff_max (%s)", c.Bans.BackoffBase, c.Bans.BackoffMax))
	}
	if c.Bans.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("bans.max_attempts must be at least 1"))
	}
	if c.Bans.Workers < 1 {
		errs = append(errs, fmt.Errorf("bans.workers must be at least 1"))
	}
	if c.Welcome.MaxRejoinAttempts < 0 {
		errs = append(errs, fmt.Errorf("welcome.max_rejoin_attempts must be >= 0"))
	}
	if strings.TrimSpace(c.Welcome.Message) == "" {
		errs = append(errs, fmt.Errorf("welcome.message must not be empty"))
	}
	if c.Gateway.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("gateway.requests_per_second must be >= 0"))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Principals returns the configured principals keyed by user ID.
func (c *Config) Principals() map[ref.UserID]int {
	principals := make(map[ref.UserID]int, len(c.Admins))
	for _, admin := range c.Admins {
		principals[admin.UserID] = admin.Level
	}
	return principals
}

// DatabasePath is the ban store location inside StateDir.
func (c *Config) DatabasePath() string { return filepath.Join(c.StateDir, "bans.db") }

// SnapshotPath is the welcome-room snapshot location inside StateDir.
func (c *Config) SnapshotPath() string { return filepath.Join(c.StateDir, "welcome.cbor") }

// EnsureStateDir creates StateDir if needed.
func (c *Config) EnsureStateDir() error {
	if err := os.MkdirAll(c.StateDir, 0o700); err != nil {
		return fmt.Errorf("config: creating state_dir %s: %w", c.StateDir, err)
	}
	return nil
}
