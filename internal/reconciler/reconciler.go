// Package reconciler owns devbench state. It runs the provisioning script,
// turns its output into persisted transitions and tells the owner about them.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/devbench/internal/devbench"
	"github.com/mattjoyce/devbench/internal/log"
	"github.com/mattjoyce/devbench/internal/metrics"
	"github.com/mattjoyce/devbench/internal/notify"
	"github.com/mattjoyce/devbench/internal/parser"
	"github.com/mattjoyce/devbench/internal/runner"
)

// StateDeleted is the state carried by the status event sent after a delete.
const StateDeleted = "Deleted"

// persistTimeout bounds writes that must land even after the operation
// context was cancelled.
const persistTimeout = 10 * time.Second

// InterruptedReason is the last error of a create cut off by a restart.
const InterruptedReason = "create interrupted by service restart; retry to provision again"

// ErrClosed is returned for operations submitted after Shutdown.
var ErrClosed = errors.New("reconciler is shutting down")

// Store is the persistence the reconciler needs.
type Store interface {
	CreateDevbench(ctx context.Context, d *devbench.Devbench) error
	GetDevbench(ctx context.Context, id string) (*devbench.Devbench, error)
	GetOwnedDevbench(ctx context.Context, ownerID, id string) (*devbench.Devbench, error)
	UpdateDevbench(ctx context.Context, d *devbench.Devbench) error
	DeleteDevbench(ctx context.Context, id string) error
	FailInterrupted(ctx context.Context, reason string) ([]*devbench.Devbench, error)
	AppendOperation(ctx context.Context, rec *devbench.OperationRecord) error
}

// Runner starts provisioning script invocations.
type Runner interface {
	Start(ctx context.Context, verb runner.Verb, target string) (*runner.Invocation, error)
}

// OperationError reports a script run that did not produce a usable answer.
type OperationError struct {
	Verb     runner.Verb
	ExitCode int
	TimedOut bool
	Summary  string
	Err      error
}

func (e *OperationError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Verb, e.Err)
	case e.Summary != "":
		return fmt.Sprintf("%s exited with code %d: %s", e.Verb, e.ExitCode, e.Summary)
	default:
		return fmt.Sprintf("%s exited with code %d", e.Verb, e.ExitCode)
	}
}

func (e *OperationError) Unwrap() error { return e.Err }

// Reconciler applies lifecycle operations. It is safe for concurrent use.
type Reconciler struct {
	store    Store
	runner   Runner
	notifier notify.Notifier
	metrics  *metrics.Metrics
	guard    *Guard
	logger   *slog.Logger
	now      func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New creates a Reconciler. m may be nil.
func New(st Store, r Runner, n notify.Notifier, m *metrics.Metrics) *Reconciler {
	base, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		store:    st,
		runner:   r,
		notifier: n,
		metrics:  m,
		guard:    NewGuard(),
		logger:   log.WithComponent("reconciler"),
		now:      func() time.Time { return time.Now().UTC() },
		base:     base,
		cancel:   cancel,
	}
}

// Busy reports whether an operation is in flight for id.
func (r *Reconciler) Busy(id string) bool {
	return r.guard.Held(id)
}

// Create validates and records a new devbench in Creating, then provisions it
// in the background. The returned record is the Creating snapshot.
func (r *Reconciler) Create(ctx context.Context, ownerID, name string) (*devbench.Devbench, error) {
	if err := devbench.ValidateName(name); err != nil {
		return nil, err
	}

	d := &devbench.Devbench{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		RequestedName: name,
		State:         devbench.StateCreating,
	}
	// Guard and background slot are taken before the insert, so an error
	// return never leaves a Creating record behind.
	unlock, ok := r.guard.TryLock(d.ID)
	if !ok {
		return nil, devbench.ErrBusy
	}
	launch, err := r.reserve(unlock)
	if err != nil {
		return nil, err
	}
	if err := r.store.CreateDevbench(ctx, d); err != nil {
		launch(nil)
		return nil, err
	}
	r.logger.Info("devbench created", "devbench_id", d.ID, "owner_id", ownerID, "name", name)
	r.metrics.Transition("", string(devbench.StateCreating))
	r.notifyStatus(d)

	snapshot := *d
	launch(func(ctx context.Context) {
		r.provision(ctx, d, devbench.OpCreate)
	})
	return &snapshot, nil
}

// RecoverInterrupted moves devbenches left in Creating by a previous process
// to Error, where Retry can pick them up. Call it before serving requests.
func (r *Reconciler) RecoverInterrupted(ctx context.Context) (int, error) {
	failed, err := r.store.FailInterrupted(ctx, InterruptedReason)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted creates: %w", err)
	}
	for _, d := range failed {
		r.logger.Warn("create was interrupted by a restart", "devbench_id", d.ID, "owner_id", d.OwnerID)
		r.metrics.Transition(string(devbench.StateCreating), string(devbench.StateError))
	}
	return len(failed), nil
}

// Retry replays create for a devbench in Error.
func (r *Reconciler) Retry(ctx context.Context, ownerID, id string) error {
	d, err := r.store.GetOwnedDevbench(ctx, ownerID, id)
	if err != nil {
		return err
	}
	unlock, ok := r.guard.TryLock(id)
	if !ok {
		r.metrics.Busy(string(devbench.OpRetry))
		return devbench.ErrBusy
	}
	// Reload under the guard so the state check sees any just-finished operation.
	if d, err = r.store.GetDevbench(ctx, id); err != nil {
		unlock()
		return err
	}
	from := d.State
	if err := d.Transition(devbench.OpRetry, devbench.StateCreating, r.now); err != nil {
		unlock()
		return err
	}
	if err := r.store.UpdateDevbench(ctx, d); err != nil {
		unlock()
		return fmt.Errorf("persist retry: %w", err)
	}
	r.metrics.Transition(string(from), string(d.State))
	r.notifyStatus(d)

	return r.async(unlock, func(ctx context.Context) {
		r.provision(ctx, d, devbench.OpRetry)
	})
}

// Activate runs the activate verb in the background.
func (r *Reconciler) Activate(ctx context.Context, ownerID, id string) error {
	d, err := r.store.GetOwnedDevbench(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !d.Provisioned() {
		return fmt.Errorf("%w: %s", devbench.ErrNotProvisioned, id)
	}
	unlock, ok := r.guard.TryLock(id)
	if !ok {
		r.metrics.Busy(string(devbench.OpActivate))
		return devbench.ErrBusy
	}
	return r.async(unlock, func(ctx context.Context) {
		r.activate(ctx, id)
	})
}

// CheckStatus runs the status verb for an owned devbench and returns the
// resulting state.
func (r *Reconciler) CheckStatus(ctx context.Context, ownerID, id string) (devbench.State, error) {
	d, err := r.store.GetOwnedDevbench(ctx, ownerID, id)
	if err != nil {
		return "", err
	}
	return r.checkStatus(ctx, d, true)
}

// Refresh is the poller's status check. It streams nothing and records no
// operation; only a state change reaches the owner.
func (r *Reconciler) Refresh(ctx context.Context, id string) (devbench.State, error) {
	d, err := r.store.GetDevbench(ctx, id)
	if err != nil {
		return "", err
	}
	return r.checkStatus(ctx, d, false)
}

// Delete tears the devbench down (best effort) and removes its record.
func (r *Reconciler) Delete(ctx context.Context, ownerID, id string) error {
	d, err := r.store.GetOwnedDevbench(ctx, ownerID, id)
	if err != nil {
		return err
	}
	unlock, ok := r.guard.TryLock(id)
	if !ok {
		r.metrics.Busy(string(devbench.OpDelete))
		return devbench.ErrBusy
	}
	defer unlock()
	if d, err = r.store.GetDevbench(ctx, id); err != nil {
		return err
	}

	logger := r.logger.With("devbench_id", id, "owner_id", ownerID)
	if d.Provisioned() {
		runCtx, done := r.bind(ctx)
		res, parsed, startErr := r.execute(runCtx, d, runner.VerbDelete, d.ExternalName, true)
		done()
		if startErr != nil || !res.Success() {
			logger.Warn("external teardown failed, removing record anyway",
				"external_name", d.ExternalName,
				"error", failureMessage(runner.VerbDelete, res, parsed, startErr))
		}
	}

	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := r.store.DeleteDevbench(pctx, id); err != nil {
		return err
	}
	logger.Info("devbench deleted")
	r.notifier.Notify(d.OwnerID, notify.Status(id, StateDeleted, ""))
	return nil
}

// Shutdown cancels in-flight background operations and waits for them to
// record their outcome.
func (r *Reconciler) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserve claims a background slot that Shutdown waits for. launch runs fn
// on a goroutine bound to the reconciler lifetime and releases unlock when
// it returns; launch(nil) just gives the slot and the guard back. On
// ErrClosed unlock has already been released.
func (r *Reconciler) reserve(unlock func()) (launch func(fn func(ctx context.Context)), err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		unlock()
		return nil, ErrClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	return func(fn func(ctx context.Context)) {
		if fn == nil {
			unlock()
			r.wg.Done()
			return
		}
		go func() {
			defer r.wg.Done()
			defer unlock()
			fn(r.base)
		}()
	}, nil
}

// async reserves a slot and launches fn in it.
func (r *Reconciler) async(unlock func(), fn func(ctx context.Context)) error {
	launch, err := r.reserve(unlock)
	if err != nil {
		return err
	}
	launch(fn)
	return nil
}

// bind derives a context cancelled by either ctx or Shutdown.
func (r *Reconciler) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// provision runs create for d (state Creating) and commits Active or Error.
func (r *Reconciler) provision(ctx context.Context, d *devbench.Devbench, op devbench.Op) {
	target := d.ExternalName
	if op == devbench.OpCreate || target == "" {
		target = devbench.ExternalName(d.OwnerID, d.RequestedName)
	}

	res, parsed, startErr := r.execute(ctx, d, runner.VerbCreate, target, true)

	next := *d
	to := devbench.StateError
	if startErr == nil && res.Success() {
		to = devbench.StateActive
		next.ExternalName = target
		if parsed.Fields.ExternalName != "" {
			next.ExternalName = parsed.Fields.ExternalName
		}
		next.ConnectionInfo = connectionInfo(parsed)
	} else {
		next.LastError = failureMessage(runner.VerbCreate, res, parsed, startErr)
	}
	if !r.transition(&next, op, to) {
		return
	}
	r.commit(ctx, d, &next)
}

func (r *Reconciler) activate(ctx context.Context, id string) {
	d, err := r.store.GetDevbench(ctx, id)
	if err != nil {
		r.logger.Error("load devbench for activate", "devbench_id", id, "error", err)
		return
	}

	res, parsed, startErr := r.execute(ctx, d, runner.VerbActivate, d.ExternalName, true)

	next := *d
	to := devbench.StateError
	if startErr == nil && res.Success() {
		to = devbench.StateActive
		if !parsed.Fields.Empty() {
			next.ConnectionInfo = connectionInfo(parsed)
		}
	} else {
		next.LastError = failureMessage(runner.VerbActivate, res, parsed, startErr)
	}
	if !r.transition(&next, devbench.OpActivate, to) {
		return
	}
	r.commit(ctx, d, &next)
}

// transition applies op to next, logging and reporting false when the move
// is not allowed. Nothing from a rejected move may be committed.
func (r *Reconciler) transition(next *devbench.Devbench, op devbench.Op, to devbench.State) bool {
	from := next.State
	if err := next.Transition(op, to, r.now); err != nil {
		r.logger.Error("transition rejected, keeping stored record",
			"devbench_id", next.ID, "op", string(op), "from", string(from), "to", string(to), "error", err)
		return false
	}
	return true
}

func (r *Reconciler) checkStatus(ctx context.Context, d *devbench.Devbench, interactive bool) (devbench.State, error) {
	if !d.Provisioned() {
		return d.State, fmt.Errorf("%w: %s", devbench.ErrNotProvisioned, d.ID)
	}
	unlock, ok := r.guard.TryLock(d.ID)
	if !ok {
		r.metrics.Busy(string(devbench.OpStatus))
		return d.State, devbench.ErrBusy
	}
	defer unlock()

	// Reload under the guard; the pre-lock read may predate a finished operation.
	cur, err := r.store.GetDevbench(ctx, d.ID)
	if err != nil {
		return d.State, err
	}

	runCtx, done := r.bind(ctx)
	res, parsed, startErr := r.execute(runCtx, cur, runner.VerbStatus, cur.ExternalName, interactive)
	done()

	if startErr != nil {
		return cur.State, &OperationError{Verb: runner.VerbStatus, ExitCode: -1, Err: startErr}
	}
	if !res.Success() {
		return cur.State, &OperationError{
			Verb:     runner.VerbStatus,
			ExitCode: res.ExitCode,
			TimedOut: res.TimedOut,
			Summary:  summaryOf(res, parsed),
			Err:      res.Err,
		}
	}

	to := devbench.StateInactive
	if parser.Liveness(res.Output) {
		to = devbench.StateActive
	}
	if to == cur.State {
		return cur.State, nil
	}
	next := *cur
	if err := next.Transition(devbench.OpStatus, to, r.now); err != nil {
		return cur.State, err
	}
	r.commit(ctx, cur, &next)
	return next.State, nil
}

// execute runs one script invocation. Interactive runs stream output and
// completion to the owner and are kept in the operation log.
func (r *Reconciler) execute(
	ctx context.Context,
	d *devbench.Devbench,
	verb runner.Verb,
	target string,
	interactive bool,
) (runner.Result, parser.Result, error) {
	logger := r.logger.With("devbench_id", d.ID, "verb", string(verb), "target", target)
	started := r.now()

	inv, err := r.runner.Start(ctx, verb, target)
	if err != nil {
		logger.Error("provisioning script did not start", "error", err)
		r.metrics.ScriptRun(string(verb), "error", 0)
		res := runner.Result{ExitCode: -1}
		if interactive {
			r.notifier.Notify(d.OwnerID, notify.Complete(d.ID, string(verb), res.ExitCode, false))
			r.record(ctx, d, verb, target, res, err, started)
		}
		return res, parser.Result{}, err
	}

	for c := range inv.Chunks() {
		if interactive {
			r.notifier.Notify(d.OwnerID, notify.Output(d.ID, string(verb), string(c.Stream), c.Text))
		}
	}
	res := inv.Wait()
	parsed := parser.Parse(res.Output)

	if interactive {
		r.notifier.Notify(d.OwnerID, notify.Complete(d.ID, string(verb), res.ExitCode, res.TimedOut))
		r.record(ctx, d, verb, target, res, nil, started)
	}
	r.metrics.ScriptRun(string(verb), outcome(res), res.Duration)
	logger.Info("provisioning script finished",
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, parsed, nil
}

func (r *Reconciler) record(
	ctx context.Context,
	d *devbench.Devbench,
	verb runner.Verb,
	target string,
	res runner.Result,
	startErr error,
	started time.Time,
) {
	rec := &devbench.OperationRecord{
		DevbenchID:  d.ID,
		OwnerID:     d.OwnerID,
		Verb:        string(verb),
		Target:      target,
		ExitCode:    res.ExitCode,
		TimedOut:    res.TimedOut,
		Output:      res.Output,
		StartedAt:   started,
		CompletedAt: r.now(),
	}
	switch {
	case startErr != nil:
		rec.Error = startErr.Error()
	case res.Err != nil:
		rec.Error = res.Err.Error()
	}
	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := r.store.AppendOperation(pctx, rec); err != nil {
		r.logger.Error("failed to record operation", "devbench_id", d.ID, "verb", string(verb), "error", err)
	}
}

// commit persists next when it differs from prev and notifies the owner.
func (r *Reconciler) commit(ctx context.Context, prev, next *devbench.Devbench) {
	if !changed(prev, next) {
		return
	}
	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := r.store.UpdateDevbench(pctx, next); err != nil {
		r.logger.Error("failed to persist transition",
			"devbench_id", next.ID, "from", string(prev.State), "to", string(next.State), "error", err)
		return
	}
	if prev.State != next.State {
		r.metrics.Transition(string(prev.State), string(next.State))
		r.logger.Info("devbench state changed",
			"devbench_id", next.ID, "from", string(prev.State), "to", string(next.State))
	}
	r.notifyStatus(next)
}

func (r *Reconciler) notifyStatus(d *devbench.Devbench) {
	r.notifier.Notify(d.OwnerID, notify.Status(d.ID, string(d.State), d.LastError))
}

func changed(a, b *devbench.Devbench) bool {
	return a.State != b.State ||
		a.ExternalName != b.ExternalName ||
		a.LastError != b.LastError ||
		!reflect.DeepEqual(a.ConnectionInfo, b.ConnectionInfo)
}

func connectionInfo(p parser.Result) *devbench.ConnectionInfo {
	return &devbench.ConnectionInfo{
		IP:      p.Fields.IP,
		SSH:     p.Fields.SSH,
		VNC:     p.Fields.VNC,
		Summary: p.Summary,
		Extra:   p.Fields.Extra,
	}
}

func outcome(res runner.Result) string {
	switch {
	case res.TimedOut:
		return "timeout"
	case res.Err != nil:
		return "error"
	case res.ExitCode != 0:
		return "failure"
	default:
		return "success"
	}
}

// summaryOf is the last output line, or empty when the script printed nothing.
func summaryOf(res runner.Result, parsed parser.Result) string {
	if strings.TrimSpace(res.Output) == "" {
		return ""
	}
	return parsed.Summary
}

func failureMessage(verb runner.Verb, res runner.Result, parsed parser.Result, startErr error) string {
	var msg string
	switch {
	case startErr != nil:
		return fmt.Sprintf("%s failed: %v", verb, startErr)
	case res.TimedOut:
		msg = fmt.Sprintf("%s timed out", verb)
	case res.Err != nil:
		msg = fmt.Sprintf("%s failed: %v", verb, res.Err)
	default:
		msg = fmt.Sprintf("%s exited with code %d", verb, res.ExitCode)
	}
	if s := summaryOf(res, parsed); s != "" {
		msg += ": " + s
	}
	return msg
}
