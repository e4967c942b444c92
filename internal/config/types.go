package config

import "time"

// Config represents the complete devbench configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	API     APIConfig     `yaml:"api"`
	Script  ScriptConfig  `yaml:"script"`
	Poller  PollerConfig  `yaml:"poller"`
	Admin   AdminConfig   `yaml:"admin,omitempty"`

	// SourcePath is the absolute path of the file this config was read from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name            string        `yaml:"name"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the HTTP server and session settings.
type APIConfig struct {
	Listen       string        `yaml:"listen"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	CookieName   string        `yaml:"cookie_name"`
	CookieSecure bool          `yaml:"cookie_secure"`
	// AllowedOrigins restricts websocket upgrades. Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	// LiveBuffer is the per-connection event buffer size.
	LiveBuffer int `yaml:"live_buffer"`
	// LoginPerMinute limits login attempts per client address; 0 disables
	// the limit. LoginBurst attempts may be made back to back.
	LoginPerMinute int `yaml:"login_per_minute"`
	LoginBurst     int `yaml:"login_burst"`
}

// ScriptConfig describes the external provisioning executable.
type ScriptConfig struct {
	Path string `yaml:"path"`
	// BLAKE3 optionally pins the script contents (hex digest).
	BLAKE3         string            `yaml:"blake3,omitempty"`
	Timeouts       TimeoutsConfig    `yaml:"timeouts"`
	GracePeriod    time.Duration     `yaml:"grace_period"`
	MaxOutputBytes int               `yaml:"max_output_bytes"`
	Env            map[string]string `yaml:"env,omitempty"`
}

// TimeoutsConfig defines per-verb execution limits.
type TimeoutsConfig struct {
	Create   time.Duration `yaml:"create"`
	Activate time.Duration `yaml:"activate"`
	Status   time.Duration `yaml:"status"`
	Delete   time.Duration `yaml:"delete"`
}

// PollerConfig controls background liveness reconciliation.
type PollerConfig struct {
	Enabled     *bool         `yaml:"enabled,omitempty"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

// IsEnabled reports whether the poller should run. Unset means enabled.
func (p PollerConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// AdminConfig optionally bootstraps an administrator account on start.
type AdminConfig struct {
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "devbench",
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: 30 * time.Second,
		},
		State: StateConfig{
			Path: "./data/devbench.db",
		},
		API: APIConfig{
			Listen:     "localhost:8080",
			TokenTTL:   12 * time.Hour,
			CookieName: "devbench_session",
			LiveBuffer: 256,

			LoginPerMinute: 10,
			LoginBurst:     5,
		},
		Script: ScriptConfig{
			Path: "./scripts/provision.sh",
			Timeouts: TimeoutsConfig{
				Create:   15 * time.Minute,
				Activate: 5 * time.Minute,
				Status:   30 * time.Second,
				Delete:   5 * time.Minute,
			},
			GracePeriod:    5 * time.Second,
			MaxOutputBytes: 1 << 20,
		},
		Poller: PollerConfig{
			Interval:    60 * time.Second,
			Concurrency: 4,
		},
	}
}
