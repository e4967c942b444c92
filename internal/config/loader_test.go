package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
api:
  jwt_secret: a-long-enough-secret
script:
  path: /usr/local/bin/provision-vm
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Script.Path != "/usr/local/bin/provision-vm" {
					t.Errorf("script.path = %q", cfg.Script.Path)
				}
				if cfg.Script.Timeouts.Create != 15*time.Minute {
					t.Error("default create timeout not applied")
				}
				if cfg.Poller.Interval != 60*time.Second || cfg.Poller.Concurrency != 4 {
					t.Error("default poller settings not applied")
				}
				if !cfg.Poller.IsEnabled() {
					t.Error("poller should default to enabled")
				}
				if cfg.API.Listen != "localhost:8080" {
					t.Errorf("api.listen = %q", cfg.API.Listen)
				}
				if !filepath.IsAbs(cfg.State.Path) {
					t.Errorf("state.path should be resolved, got %q", cfg.State.Path)
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
api:
  jwt_secret: ${DEVBENCH_TEST_SECRET}
script:
  path: ${DEVBENCH_TEST_SCRIPT}
  env:
    HYPERVISOR: ${DEVBENCH_TEST_HV}
`,
			env: map[string]string{
				"DEVBENCH_TEST_SECRET": "from-the-environment",
				"DEVBENCH_TEST_SCRIPT": "/opt/vm/provision",
				"DEVBENCH_TEST_HV":     "qemu:///system",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.JWTSecret != "from-the-environment" {
					t.Errorf("jwt_secret = %q", cfg.API.JWTSecret)
				}
				if cfg.Script.Path != "/opt/vm/provision" {
					t.Errorf("script.path = %q", cfg.Script.Path)
				}
				if got := cfg.ScriptEnv(); len(got) != 1 || got[0] != "HYPERVISOR=qemu:///system" {
					t.Errorf("ScriptEnv() = %v", got)
				}
			},
		},
		{
			name: "unset secret placeholder",
			yaml: `
api:
  jwt_secret: ${DEVBENCH_TEST_MISSING}
script:
  path: provision-vm
`,
			wantErr: "${DEVBENCH_TEST_MISSING} is not set",
		},
		{
			name: "overrides",
			yaml: `
service:
  log_level: debug
  log_format: text
api:
  listen: 0.0.0.0:9000
  jwt_secret: secret
  token_ttl: 1h
script:
  path: provision-vm
  timeouts:
    create: 20m
    status: 10s
  grace_period: 2s
poller:
  enabled: false
  interval: 0s
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "debug" || cfg.Service.LogFormat != "text" {
					t.Error("service overrides not parsed")
				}
				if cfg.Script.Timeouts.Create != 20*time.Minute || cfg.Script.Timeouts.Status != 10*time.Second {
					t.Error("timeouts not parsed")
				}
				if cfg.Script.Timeouts.Activate != 5*time.Minute {
					t.Error("unspecified timeout should keep its default")
				}
				if cfg.Script.Path != "provision-vm" {
					t.Errorf("bare command name should stay unresolved, got %q", cfg.Script.Path)
				}
				if cfg.Poller.IsEnabled() {
					t.Error("poller should be disabled")
				}
			},
		},
		{
			name: "relative script path resolves against config dir",
			yaml: `
api:
  jwt_secret: secret
script:
  path: ./scripts/provision.sh
`,
			checkFn: func(t *testing.T, cfg *Config) {
				want := filepath.Join(filepath.Dir(cfg.SourcePath), "scripts", "provision.sh")
				if cfg.Script.Path != want {
					t.Errorf("script.path = %q, want %q", cfg.Script.Path, want)
				}
			},
		},
		{
			name: "missing jwt secret",
			yaml: `
script:
  path: provision-vm
`,
			wantErr: "api.jwt_secret is required",
		},
		{
			name: "invalid log level",
			yaml: `
service:
  log_level: chatty
api:
  jwt_secret: secret
`,
			wantErr: "service.log_level must be one of",
		},
		{
			name: "malformed blake3 pin",
			yaml: `
api:
  jwt_secret: secret
script:
  path: provision-vm
  blake3: not-hex
`,
			wantErr: "script.blake3 must be a 64 character hex digest",
		},
		{
			name: "zero timeout",
			yaml: `
api:
  jwt_secret: secret
script:
  timeouts:
    status: 0s
`,
			wantErr: "script.timeouts.status must be positive",
		},
		{
			name: "poller interval too small",
			yaml: `
api:
  jwt_secret: secret
poller:
  interval: 10ms
`,
			wantErr: "poller.interval must be at least 1s",
		},
		{
			name: "login limit without burst",
			yaml: `
api:
  jwt_secret: secret
  login_per_minute: 20
  login_burst: 0
`,
			wantErr: "api.login_burst must be at least 1",
		},
		{
			name: "login limit disabled",
			yaml: `
api:
  jwt_secret: secret
  login_per_minute: 0
  login_burst: 0
script:
  path: provision-vm
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.LoginPerMinute != 0 {
					t.Errorf("login_per_minute = %d", cfg.API.LoginPerMinute)
				}
			},
		},
		{
			name: "admin without password",
			yaml: `
api:
  jwt_secret: secret
admin:
  username: root
`,
			wantErr: "admin.password is required",
		},
		{
			name:    "invalid yaml",
			yaml:    "api: [unterminated",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o600); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error %q does not contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDotEnvBesideConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DEVBENCH_DOTENV_SECRET=dotenv-secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	yaml := "api:\n  jwt_secret: ${DEVBENCH_DOTENV_SECRET}\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("DEVBENCH_DOTENV_SECRET") })

	// Directory path resolves to config.yaml inside it.
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.JWTSecret != "dotenv-secret" {
		t.Errorf("jwt_secret = %q", cfg.API.JWTSecret)
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	t.Setenv("DEVBENCH_DOTENV_OVERRIDE", "from-env")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DEVBENCH_DOTENV_OVERRIDE=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("api:\n  jwt_secret: ${DEVBENCH_DOTENV_OVERRIDE}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.JWTSecret != "from-env" {
		t.Errorf("jwt_secret = %q, want from-env", cfg.API.JWTSecret)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestDiscover(t *testing.T) {
	if got, err := Discover("/explicit/config.yaml"); err != nil || got != "/explicit/config.yaml" {
		t.Fatalf("explicit path: got %q, %v", got, err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "from-env.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)
	got, err := Discover("")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got != path {
		t.Errorf("Discover() = %q, want %q", got, path)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.API.JWTSecret = "hunter2"
	cfg.Admin.Password = "pw"

	r := cfg.Redacted()
	if r.API.JWTSecret == "hunter2" || r.Admin.Password == "pw" {
		t.Error("secrets not redacted")
	}
	if cfg.API.JWTSecret != "hunter2" {
		t.Error("Redacted must not mutate the original")
	}
}

func TestInterpolateEnvLeavesUnknown(t *testing.T) {
	t.Setenv("DEVBENCH_KNOWN", "yes")
	got := interpolateEnv("a=${DEVBENCH_KNOWN} b=${DEVBENCH_UNKNOWN_VAR}")
	if got != "a=yes b=${DEVBENCH_UNKNOWN_VAR}" {
		t.Errorf("interpolateEnv = %q", got)
	}
}
