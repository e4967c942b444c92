package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable consulted by Discover.
const EnvConfigPath = "DEVBENCH_CONFIG"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a YAML config file, applies defaults and validates it.
// A .env file next to the config is loaded first; it never overrides
// variables already present in the environment.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	configDir := filepath.Dir(absPath)

	if envFile := filepath.Join(configDir, ".env"); fileExists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	cfg.State.Path = resolveRelative(configDir, cfg.State.Path)
	if strings.ContainsRune(cfg.Script.Path, filepath.Separator) {
		cfg.Script.Path = resolveRelative(configDir, cfg.Script.Path)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file. Priority order: explicit path,
// $DEVBENCH_CONFIG, ~/.config/devbench/config.yaml, /etc/devbench/config.yaml,
// ./config.yaml.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	var candidates []string
	if p := os.Getenv(EnvConfigPath); p != "" {
		candidates = append(candidates, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "devbench", "config.yaml"))
	}
	candidates = append(candidates, "/etc/devbench/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if fileExists(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/devbench/config.yaml, /etc/devbench/config.yaml, ./config.yaml)", EnvConfigPath)
}

// ScriptEnv returns script.env as sorted KEY=VALUE pairs.
func (c *Config) ScriptEnv() []string {
	keys := make([]string, 0, len(c.Script.Env))
	for k := range c.Script.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.Script.Env[k])
	}
	return out
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.API.JWTSecret != "" {
		cp.API.JWTSecret = "********"
	}
	if cp.Admin.Password != "" {
		cp.Admin.Password = "********"
	}
	return &cp
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

func resolveRelative(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	var errs []error

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		errs = append(errs, fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel))
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat))
	}
	if cfg.Service.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("service.shutdown_timeout must be positive"))
	}

	if cfg.State.Path == "" {
		errs = append(errs, fmt.Errorf("state.path is required"))
	}

	if cfg.API.Listen == "" {
		errs = append(errs, fmt.Errorf("api.listen is required"))
	}
	if cfg.API.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("api.jwt_secret is required"))
	} else if err := unresolved("api.jwt_secret", cfg.API.JWTSecret); err != nil {
		errs = append(errs, err)
	}
	if cfg.API.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("api.token_ttl must be positive"))
	}
	if cfg.API.LoginPerMinute < 0 {
		errs = append(errs, fmt.Errorf("api.login_per_minute must not be negative"))
	}
	if cfg.API.LoginPerMinute > 0 && cfg.API.LoginBurst < 1 {
		errs = append(errs, fmt.Errorf("api.login_burst must be at least 1 when logins are limited"))
	}

	if cfg.Script.Path == "" {
		errs = append(errs, fmt.Errorf("script.path is required"))
	} else if err := unresolved("script.path", cfg.Script.Path); err != nil {
		errs = append(errs, err)
	}
	if cfg.Script.BLAKE3 != "" {
		if b, err := hex.DecodeString(cfg.Script.BLAKE3); err != nil || len(b) != 32 {
			errs = append(errs, fmt.Errorf("script.blake3 must be a 64 character hex digest"))
		}
	}
	for field, d := range map[string]time.Duration{
		"script.timeouts.create":   cfg.Script.Timeouts.Create,
		"script.timeouts.activate": cfg.Script.Timeouts.Activate,
		"script.timeouts.status":   cfg.Script.Timeouts.Status,
		"script.timeouts.delete":   cfg.Script.Timeouts.Delete,
		"script.grace_period":      cfg.Script.GracePeriod,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", field))
		}
	}
	if cfg.Script.MaxOutputBytes <= 0 {
		errs = append(errs, fmt.Errorf("script.max_output_bytes must be positive"))
	}
	for k, v := range cfg.Script.Env {
		if err := unresolved("script.env."+k, v); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Poller.IsEnabled() {
		if cfg.Poller.Interval < time.Second {
			errs = append(errs, fmt.Errorf("poller.interval must be at least 1s"))
		}
		if cfg.Poller.Concurrency < 1 {
			errs = append(errs, fmt.Errorf("poller.concurrency must be at least 1"))
		}
	}

	if cfg.Admin.Username != "" {
		if cfg.Admin.Password == "" {
			errs = append(errs, fmt.Errorf("admin.password is required when admin.username is set"))
		} else if err := unresolved("admin.password", cfg.Admin.Password); err != nil {
			errs = append(errs, err)
		}
	}

	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errors.Join(errs...)
}
