package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/devbench/internal/api"
	"github.com/mattjoyce/devbench/internal/config"
	"github.com/mattjoyce/devbench/internal/devbench"
	"github.com/mattjoyce/devbench/internal/lock"
	"github.com/mattjoyce/devbench/internal/reconciler"
	"github.com/mattjoyce/devbench/internal/runner"
	"github.com/mattjoyce/devbench/internal/storage"
	"github.com/mattjoyce/devbench/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef01234567"

// writeConfig lays out a config dir with a provisioning script and returns
// the config path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "provision.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"state=inactive\"\n"), 0o755))

	yml := `service:
  log_level: error
state:
  path: ./data/devbench.db
api:
  listen: 127.0.0.1:0
  jwt_secret: ` + testSecret + `
script:
  path: ` + script + `
` + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionJSON(t *testing.T) {
	out, err := runCLI(t, "", "version", "--json")
	require.NoError(t, err)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version, info.Version)
	assert.NotEmpty(t, info.Commit)
}

func TestShortenCommit(t *testing.T) {
	assert.Equal(t, "abc", shortenCommit("abc"))
	assert.Equal(t, "0123456789ab", shortenCommit("0123456789abcdef"))
}

func TestConfigCheck(t *testing.T) {
	path := writeConfig(t, "")
	out, err := runCLI(t, "", "--config", path, "config", "check")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Configuration valid")
}

func TestConfigCheckStrictFailsOnWarnings(t *testing.T) {
	// No blake3 pin is a warning.
	path := writeConfig(t, "")
	out, err := runCLI(t, "", "--config", path, "config", "check", "--strict", "--json")
	require.ErrorIs(t, err, errConfigInvalid)

	var res struct {
		Valid    bool `json:"valid"`
		Warnings []struct {
			Field string `json:"field"`
		} `json:"warnings"`
	}
	jsonPart := out[:strings.LastIndex(out, "}")+1]
	require.NoError(t, json.Unmarshal([]byte(jsonPart), &res), out)
	assert.True(t, res.Valid)
	assert.NotEmpty(t, res.Warnings)
}

func TestConfigCheckPinMismatch(t *testing.T) {
	path := writeConfig(t, "")
	pinned := strings.Replace(mustRead(t, path), "script:\n", "script:\n  blake3: "+strings.Repeat("a", 64)+"\n", 1)
	require.NoError(t, os.WriteFile(path, []byte(pinned), 0o600))

	out, err := runCLI(t, "", "--config", path, "config", "check")
	require.ErrorIs(t, err, errConfigInvalid)
	assert.Contains(t, out, "script.blake3")
}

func TestConfigShowRedacts(t *testing.T) {
	path := writeConfig(t, "admin:\n  username: root\n  password: hunter2hunter2\n")
	out, err := runCLI(t, "", "--config", path, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, testSecret)
	assert.NotContains(t, out, "hunter2hunter2")
	assert.Contains(t, out, "********")
	assert.Contains(t, out, "create: 15m0s")
}

func TestScriptHash(t *testing.T) {
	path := writeConfig(t, "")
	script := filepath.Join(filepath.Dir(path), "provision.sh")
	want, err := runner.HashFile(script)
	require.NoError(t, err)

	out, err := runCLI(t, "", "--config", path, "script", "hash")
	require.NoError(t, err)
	assert.Contains(t, out, "blake3: "+want)

	out, err = runCLI(t, "", "script", "hash", script)
	require.NoError(t, err)
	assert.Contains(t, out, want)
}

func TestUserCommands(t *testing.T) {
	path := writeConfig(t, "")

	out, err := runCLI(t, "correct horse\n", "--config", path, "user", "add", "alice", "--admin")
	require.NoError(t, err)
	assert.Contains(t, out, "created user alice")

	_, err = runCLI(t, "correct horse\n", "--config", path, "user", "add", "alice")
	require.ErrorIs(t, err, devbench.ErrUserExists)

	_, err = runCLI(t, "short\n", "--config", path, "user", "add", "bob")
	require.Error(t, err)

	_, err = runCLI(t, "pw-long-enough\n", "--config", path, "user", "add", "bad name")
	require.Error(t, err)

	_, err = runCLI(t, "", "--config", path, "user", "disable", "alice")
	require.NoError(t, err)

	out, err = runCLI(t, "", "--config", path, "user", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Regexp(t, `^alice\s+true\s+true\s+`, lines[1])

	_, err = runCLI(t, "", "--config", path, "user", "enable", "ghost")
	require.ErrorIs(t, err, devbench.ErrUserNotFound)

	_, err = runCLI(t, "battery staple\n", "--config", path, "user", "passwd", "alice")
	require.NoError(t, err)
}

func TestBootstrapAdmin(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "devbench.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db)

	created, err := bootstrapAdmin(ctx, st, config.AdminConfig{})
	require.NoError(t, err)
	assert.False(t, created)

	_, err = bootstrapAdmin(ctx, st, config.AdminConfig{Username: "root", Password: "short"})
	require.Error(t, err)

	admin := config.AdminConfig{Username: "root", Password: "long-enough-password"}
	created, err = bootstrapAdmin(ctx, st, admin)
	require.NoError(t, err)
	assert.True(t, created)

	u, err := st.GetUser(ctx, "root")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)

	created, err = bootstrapAdmin(ctx, st, config.AdminConfig{Username: "root", Password: "a-different-password"})
	require.NoError(t, err)
	assert.False(t, created, "existing admin is left alone")
}

func TestRunnerOptionsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Script.Env = map[string]string{"B": "2", "A": "1"}
	opts := runnerOptions(cfg)

	assert.Equal(t, 15*time.Minute, opts.Timeouts[runner.VerbCreate])
	assert.Equal(t, 30*time.Second, opts.Timeouts[runner.VerbStatus])
	assert.Equal(t, []string{"A=1", "B=2"}, opts.Env)
}

func TestLogin(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		if req.Password != "right-password" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "invalid credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(api.LoginResponse{Token: "tok-" + req.Username})
	}))
	defer ts.Close()

	token, err := login(ts.URL+"/", "alice", "right-password")
	require.NoError(t, err)
	assert.Equal(t, "tok-alice", token)

	_, err = login(ts.URL, "alice", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials")
}

func TestWatchRequiresCredentials(t *testing.T) {
	t.Setenv("DEVBENCH_TOKEN", "")
	_, err := runCLI(t, "", "watch", "--url", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--token or --user")
}

func TestRunStartAndStop(t *testing.T) {
	path := writeConfig(t, "admin:\n  username: root\n  password: long-enough-password\npoller:\n  interval: 1s\n")
	statePath := filepath.Join(filepath.Dir(path), "data", "devbench.db")
	c := &cli{configPath: path}

	// A create left running by a previous process.
	seedDB, err := storage.OpenSQLite(context.Background(), statePath)
	require.NoError(t, err)
	seedStore := store.New(seedDB)
	require.NoError(t, seedStore.CreateUser(context.Background(), &devbench.User{ID: "alice", PasswordHash: "x"}))
	orphan := &devbench.Devbench{OwnerID: "alice", RequestedName: "vm", State: devbench.StateCreating}
	require.NoError(t, seedStore.CreateDevbench(context.Background(), orphan))
	require.NoError(t, seedDB.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.runStart(ctx) }()

	require.Eventually(t, func() bool {
		pid, ok := lock.HolderPID(lock.PathFor(statePath))
		return ok && pid == os.Getpid()
	}, 10*time.Second, 20*time.Millisecond)

	// The bootstrap admin exists and the interrupted create was failed once
	// startup is past the reconciler.
	require.Eventually(t, func() bool {
		db, err := storage.OpenSQLite(context.Background(), statePath)
		if err != nil {
			return false
		}
		defer db.Close()
		s := store.New(db)
		u, err := s.GetUser(context.Background(), "root")
		if err != nil || !u.IsAdmin {
			return false
		}
		d, err := s.GetDevbench(context.Background(), orphan.ID)
		return err == nil && d.State == devbench.StateError && d.LastError == reconciler.InterruptedReason
	}, 10*time.Second, 50*time.Millisecond)

	// A second instance against the same state is refused.
	err = (&cli{configPath: path}).runStart(context.Background())
	require.True(t, errors.Is(err, lock.ErrLocked), "got %v", err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("runStart did not return after cancel")
	}

	_, held := lock.HolderPID(lock.PathFor(statePath))
	assert.True(t, held, "pid file stays behind; the flock is what guards")
	reacquired, err := lock.AcquirePIDLock(lock.PathFor(statePath))
	require.NoError(t, err, "lock released on stop")
	_ = reacquired.Release()
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}
