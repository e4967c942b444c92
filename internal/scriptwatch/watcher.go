// Package scriptwatch re-verifies the provisioning script whenever it changes
// on disk, so a broken pin shows up in logs and metrics before the next run
// is refused.
package scriptwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mattjoyce/devbench/internal/metrics"
	"github.com/mattjoyce/devbench/internal/runner"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 500 * time.Millisecond

// Check is the outcome of hashing the script once.
type Check struct {
	Path string
	Sum  string
	// Err is a hashing failure or wraps runner.ErrScriptIntegrity.
	Err error
}

// Watcher watches one script file.
type Watcher struct {
	path     string
	pin      string
	debounce time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	onCheck func(Check)
}

// New creates a Watcher for path, which should already be resolved. pin may
// be empty. m may be nil.
func New(path, pin string, m *metrics.Metrics, logger *slog.Logger) *Watcher {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return &Watcher{
		path:     abs,
		pin:      pin,
		debounce: DefaultDebounce,
		metrics:  m,
		logger:   logger.With("component", "scriptwatch", "path", abs),
	}
}

// Verify hashes the script and records the result.
func (w *Watcher) Verify() Check {
	c := Check{Path: w.path}
	sum, err := runner.HashFile(w.path)
	if err != nil {
		c.Err = err
		w.logger.Warn("provisioning script unreadable", "error", err)
		if w.pin != "" {
			w.metrics.SetScriptPinValid(false)
		}
		return c
	}
	c.Sum = sum

	if w.pin == "" {
		w.logger.Info("provisioning script hashed", "blake3", sum)
		return c
	}
	if err := runner.VerifyScript(w.path, w.pin); err != nil {
		c.Err = err
		w.metrics.SetScriptPinValid(false)
		w.logger.Error("provisioning script does not match its pin; runs will be refused", "blake3", sum)
		return c
	}
	w.metrics.SetScriptPinValid(true)
	w.logger.Info("provisioning script matches its pin")
	return c
}

// Run verifies once, then watches the script's directory until ctx ends.
// Editors often replace files by rename, so the directory is watched rather
// than the file.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.report(w.Verify())

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher event channel closed")
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			w.logger.Debug("script changed", "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			w.logger.Warn("script watcher error", "error", err)

		case <-fire:
			fire = nil
			w.report(w.Verify())
		}
	}
}

func (w *Watcher) report(c Check) {
	if w.onCheck != nil {
		w.onCheck(c)
	}
}
