// Package doctor runs semantic checks on a loaded devbench configuration
// against the host it will run on.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/devbench/internal/auth"
	"github.com/mattjoyce/devbench/internal/config"
	"github.com/mattjoyce/devbench/internal/runner"
	"github.com/mattjoyce/devbench/internal/storage"
)

// MinSecretLength is the shortest jwt_secret accepted without a warning.
const MinSecretLength = 32

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateScript(r)
	d.validateState(r)
	d.validateAPI(r)
	d.validateAdmin(r)
	d.warnTimeouts(r)
	d.warnPoller(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateScript checks the provisioning executable exists, is runnable and
// matches its pin.
func (d *Doctor) validateScript(r *Result) {
	sc := d.cfg.Script
	path, err := exec.LookPath(sc.Path)
	if err != nil {
		d.addError(r, "script", "script.path", fmt.Sprintf("provisioning script %q is not an executable: %v", sc.Path, err))
		return
	}

	if sc.BLAKE3 == "" {
		d.addWarning(r, "script", "script.blake3",
			"no blake3 pin; script contents are not verified before each run (see `devbench script hash`)")
		return
	}
	if err := runner.VerifyScript(path, sc.BLAKE3); err != nil {
		msg := err.Error()
		if errors.Is(err, runner.ErrScriptIntegrity) {
			msg += " (re-pin with `devbench script hash`)"
		}
		d.addError(r, "script", "script.blake3", msg)
	}
}

// validateState checks the database lives on a local filesystem.
func (d *Doctor) validateState(r *Result) {
	path := d.cfg.State.Path
	err := storage.CheckLocalFilesystem(path)
	switch {
	case errors.Is(err, storage.ErrNetworkFilesystem):
		d.addError(r, "state", "state.path", err.Error())
	case err != nil:
		d.addWarning(r, "state", "state.path", fmt.Sprintf("could not determine filesystem type: %v", err))
	}

	if _, err := os.Stat(filepath.Dir(path)); errors.Is(err, os.ErrNotExist) {
		d.addWarning(r, "state", "state.path",
			fmt.Sprintf("directory %s does not exist yet; it will be created on start", filepath.Dir(path)))
	}
}

// validateAPI checks session and listener settings.
func (d *Doctor) validateAPI(r *Result) {
	api := d.cfg.API
	if len(api.JWTSecret) < MinSecretLength {
		d.addWarning(r, "api", "api.jwt_secret",
			fmt.Sprintf("jwt_secret is shorter than %d characters", MinSecretLength))
	}

	host, _, err := net.SplitHostPort(api.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", api.Listen, err))
		return
	}
	if !isLoopback(host) && !api.CookieSecure {
		d.addWarning(r, "api", "api.cookie_secure",
			"listening beyond localhost without cookie_secure; session cookies will be sent over plain HTTP")
	}
	if !isLoopback(host) && api.LoginPerMinute == 0 {
		d.addWarning(r, "api", "api.login_per_minute", "login throttling is disabled on a public listener")
	}
	for _, o := range api.AllowedOrigins {
		if o == "*" {
			d.addWarning(r, "api", "api.allowed_origins", "\"*\" lets any web page open a live channel with a user's cookie")
		}
	}
}

func (d *Doctor) validateAdmin(r *Result) {
	if d.cfg.Admin.Username == "" {
		return
	}
	if len(d.cfg.Admin.Password) < auth.MinPasswordLength {
		d.addError(r, "admin", "admin.password",
			fmt.Sprintf("bootstrap password must be at least %d characters", auth.MinPasswordLength))
	}
}

// warnTimeouts flags limits that look mis-sized relative to each other.
func (d *Doctor) warnTimeouts(r *Result) {
	t := d.cfg.Script.Timeouts
	if d.cfg.Poller.IsEnabled() && t.Status >= d.cfg.Poller.Interval {
		d.addWarning(r, "timeouts", "script.timeouts.status",
			fmt.Sprintf("status timeout %s is not shorter than poller.interval %s", t.Status, d.cfg.Poller.Interval))
	}
	if d.cfg.Script.GracePeriod >= t.Status {
		d.addWarning(r, "timeouts", "script.grace_period",
			"grace_period is not shorter than the status timeout")
	}
}

func (d *Doctor) warnPoller(r *Result) {
	p := d.cfg.Poller
	if !p.IsEnabled() {
		d.addWarning(r, "poller", "poller.enabled",
			"poller disabled; devbench states only change on explicit checks")
		return
	}
	if p.Concurrency > 32 {
		d.addWarning(r, "poller", "poller.concurrency",
			fmt.Sprintf("concurrency %d starts that many status scripts at once", p.Concurrency))
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
