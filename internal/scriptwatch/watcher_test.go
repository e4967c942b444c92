package scriptwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/devbench/internal/log"
	"github.com/mattjoyce/devbench/internal/metrics"
	"github.com/mattjoyce/devbench/internal/runner"
)

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "provision.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "echo one")
	sum, err := runner.HashFile(path)
	require.NoError(t, err)

	c := New(path, "", nil, log.Get()).Verify()
	require.NoError(t, c.Err)
	assert.Equal(t, sum, c.Sum)

	c = New(path, sum, metrics.New(), log.Get()).Verify()
	require.NoError(t, c.Err)

	c = New(path, sum[:60]+"0000", nil, log.Get()).Verify()
	assert.ErrorIs(t, c.Err, runner.ErrScriptIntegrity)

	c = New(filepath.Join(dir, "missing.sh"), sum, nil, log.Get()).Verify()
	assert.Error(t, c.Err)
	assert.Empty(t, c.Sum)
}

func TestRunDetectsChangedScript(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "echo one")
	pin, err := runner.HashFile(path)
	require.NoError(t, err)

	checks := make(chan Check, 64)
	w := New(path, pin, nil, log.Get())
	w.debounce = 20 * time.Millisecond
	w.onCheck = func(c Check) {
		select {
		case checks <- c:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	first := waitCheck(t, checks)
	require.NoError(t, first.Err)

	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	writeScript(t, dir, "echo two")
	tampered, err := runner.HashFile(path)
	require.NoError(t, err)

	changed := waitFor(t, checks, func(c Check) bool { return c.Sum == tampered })
	assert.ErrorIs(t, changed.Err, runner.ErrScriptIntegrity)

	writeScript(t, dir, "echo one")
	restored := waitFor(t, checks, func(c Check) bool { return c.Sum == pin })
	require.NoError(t, restored.Err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunMissingDirectory(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "nope", "provision.sh"), "", nil, log.Get())
	require.Error(t, w.Run(context.Background()))
}

// waitFor skips intermediate checks, e.g. one taken between truncate and write.
func waitFor(t *testing.T, ch <-chan Check, match func(Check) bool) Check {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-ch:
			if match(c) {
				return c
			}
		case <-deadline:
			t.Fatal("expected check never reported")
			return Check{}
		}
	}
}

func waitCheck(t *testing.T, ch <-chan Check) Check {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no check reported")
		return Check{}
	}
}
