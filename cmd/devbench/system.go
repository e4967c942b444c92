package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/devbench/internal/api"
	"github.com/mattjoyce/devbench/internal/auth"
	"github.com/mattjoyce/devbench/internal/config"
	"github.com/mattjoyce/devbench/internal/devbench"
	"github.com/mattjoyce/devbench/internal/lock"
	"github.com/mattjoyce/devbench/internal/log"
	"github.com/mattjoyce/devbench/internal/metrics"
	"github.com/mattjoyce/devbench/internal/notify"
	"github.com/mattjoyce/devbench/internal/poller"
	"github.com/mattjoyce/devbench/internal/reconciler"
	"github.com/mattjoyce/devbench/internal/runner"
	"github.com/mattjoyce/devbench/internal/scriptwatch"
	"github.com/mattjoyce/devbench/internal/storage"
	"github.com/mattjoyce/devbench/internal/store"
)

func newSystemCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "system",
		Short: "Service lifecycle",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the devbench service in the foreground",
		Long: `Start the HTTP API, the live channel and the status poller.

Only one instance may run against a state database; a lock file next to
the database enforces this. SIGINT or SIGTERM stops the service after
in-flight script runs finish or the shutdown timeout passes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.runStart(ctx)
		},
	})
	return cmd
}

func (c *cli) runStart(ctx context.Context) error {
	cfg, path, err := c.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.SetupWith(os.Stdout, cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("devbench starting", "version", version, "config", path)

	if err := storage.CheckLocalFilesystem(cfg.State.Path); errors.Is(err, storage.ErrNetworkFilesystem) {
		return err
	}

	pidLock, err := lock.AcquirePIDLock(lock.PathFor(cfg.State.Path))
	if err != nil {
		return err
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path, "schema_version", storage.SchemaVersion())

	st := store.New(db)
	created, err := bootstrapAdmin(ctx, st, cfg.Admin)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		logger.Info("created bootstrap admin", "user_id", cfg.Admin.Username)
	}
	if n, err := st.CountUsers(ctx); err == nil && n == 0 {
		logger.Warn("no users exist; add one with `devbench user add` or set admin.username")
	}

	run := runner.New(runnerOptions(cfg))
	if script, err := run.Check(); err != nil {
		logger.Warn("provisioning script not usable; create and activate will fail until fixed", "error", err)
	} else {
		logger.Info("provisioning script ready", "path", script, "pinned", cfg.Script.BLAKE3 != "")
	}

	m := metrics.New()
	hub := notify.NewHub()
	hub.OnChange = m.SetLiveChannels
	rec := reconciler.New(st, run, hub, m)
	if n, err := rec.RecoverInterrupted(ctx); err != nil {
		return err
	} else if n > 0 {
		logger.Warn("creates interrupted by the last shutdown moved to Error", "count", n)
	}

	srv := api.New(api.Config{
		Listen:          cfg.API.Listen,
		CookieName:      cfg.API.CookieName,
		CookieSecure:    cfg.API.CookieSecure,
		AllowedOrigins:  cfg.API.AllowedOrigins,
		LiveBuffer:      cfg.API.LiveBuffer,
		ShutdownTimeout: cfg.Service.ShutdownTimeout,
		LoginPerMinute:  cfg.API.LoginPerMinute,
		LoginBurst:      cfg.API.LoginBurst,
	}, rec, st, hub, auth.NewIssuer(cfg.API.JWTSecret, cfg.API.TokenTTL), m, log.Get())

	g, gctx := errgroup.WithContext(ctx)

	var p *poller.Poller
	if cfg.Poller.IsEnabled() {
		p = poller.New(poller.Config{
			Interval:    cfg.Poller.Interval,
			Concurrency: cfg.Poller.Concurrency,
		}, st, rec, m, log.Get())
		if err := p.Start(gctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
	} else {
		logger.Warn("status poller disabled")
	}

	if script, err := exec.LookPath(cfg.Script.Path); err == nil || errors.Is(err, exec.ErrDot) {
		sw := scriptwatch.New(script, cfg.Script.BLAKE3, m, log.Get())
		g.Go(func() error {
			if err := sw.Run(gctx); err != nil {
				logger.Warn("script watcher stopped", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error { return srv.Start(gctx) })

	err = g.Wait()
	logger.Info("shutting down")
	if p != nil {
		p.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if serr := rec.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("in-flight operations did not finish", "error", serr)
	}

	if err != nil {
		return err
	}
	logger.Info("devbench stopped")
	return nil
}

func runnerOptions(cfg *config.Config) runner.Options {
	t := cfg.Script.Timeouts
	return runner.Options{
		Script: cfg.Script.Path,
		BLAKE3: cfg.Script.BLAKE3,
		Timeouts: map[runner.Verb]time.Duration{
			runner.VerbCreate:   t.Create,
			runner.VerbActivate: t.Activate,
			runner.VerbStatus:   t.Status,
			runner.VerbDelete:   t.Delete,
		},
		GracePeriod:    cfg.Script.GracePeriod,
		MaxOutputBytes: cfg.Script.MaxOutputBytes,
		Env:            cfg.ScriptEnv(),
	}
}

// bootstrapAdmin creates the configured admin user if it does not exist.
// An existing user is left untouched, including its password.
func bootstrapAdmin(ctx context.Context, st *store.Store, admin config.AdminConfig) (bool, error) {
	if admin.Username == "" {
		return false, nil
	}
	if err := devbench.ValidateUserID(admin.Username); err != nil {
		return false, err
	}
	_, err := st.GetUser(ctx, admin.Username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, devbench.ErrUserNotFound) {
		return false, err
	}

	hash, err := auth.HashPassword(admin.Password)
	if err != nil {
		return false, err
	}
	if err := st.CreateUser(ctx, &devbench.User{ID: admin.Username, PasswordHash: hash, IsAdmin: true}); err != nil {
		return false, err
	}
	return true, nil
}
