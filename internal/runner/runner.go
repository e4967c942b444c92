// Package runner spawns the external provisioning script and streams its
// output back to the caller.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/devbench/internal/log"
)

const (
	// DefaultGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	DefaultGracePeriod = 5 * time.Second

	// DefaultMaxOutputBytes caps the accumulated output kept per invocation.
	DefaultMaxOutputBytes = 1 << 20

	chunkBuffer = 64
)

var (
	// ErrExecutableMissing means the script is absent or not executable.
	ErrExecutableMissing = errors.New("provisioning script missing or not executable")
	// ErrScriptIntegrity means the script does not match its configured BLAKE3 pin.
	ErrScriptIntegrity = errors.New("provisioning script failed integrity check")
	ErrUnknownVerb     = errors.New("unknown provisioning verb")
	ErrTimeout         = errors.New("provisioning script timed out")

	// ErrSpawn means a runnable-looking script could not be started, e.g.
	// an exec format error or a process limit.
	ErrSpawn = errors.New("provisioning script could not be started")
)

// Verb is one of the fixed script commands.
type Verb string

const (
	VerbCreate   Verb = "create"
	VerbActivate Verb = "activate"
	VerbStatus   Verb = "status"
	VerbDelete   Verb = "delete"
)

// Valid reports whether v is a known verb.
func (v Verb) Valid() bool {
	switch v {
	case VerbCreate, VerbActivate, VerbStatus, VerbDelete:
		return true
	}
	return false
}

// DefaultTimeouts are the per-verb execution limits used when Options leaves one unset.
var DefaultTimeouts = map[Verb]time.Duration{
	VerbCreate:   15 * time.Minute,
	VerbActivate: 5 * time.Minute,
	VerbStatus:   30 * time.Second,
	VerbDelete:   5 * time.Minute,
}

// Stream identifies the output stream a chunk was read from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Chunk is one line of script output.
type Chunk struct {
	Stream Stream
	Text   string
	At     time.Time
}

// Result is the outcome of one invocation.
type Result struct {
	ExitCode int
	// Output holds both streams in arrival order, one line per chunk.
	Output    string
	Truncated bool
	TimedOut  bool
	Duration  time.Duration
	// Err is set when the script could not run to completion (timeout,
	// cancellation, wait failure). A non-zero exit alone leaves it nil.
	Err error
}

// Success reports a clean zero exit.
func (r Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Options configures a Runner.
type Options struct {
	Script string
	// BLAKE3 is the optional hex digest the script must match before each spawn.
	BLAKE3         string
	Timeouts       map[Verb]time.Duration
	GracePeriod    time.Duration
	MaxOutputBytes int
	Env            []string
}

// Runner launches one process per call. It holds no per-invocation state.
type Runner struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Runner{opts: opts, logger: log.WithComponent("runner")}
}

// Timeout returns the execution limit for verb.
func (r *Runner) Timeout(verb Verb) time.Duration {
	if d, ok := r.opts.Timeouts[verb]; ok && d > 0 {
		return d
	}
	return DefaultTimeouts[verb]
}

// Check verifies the script is runnable without spawning it.
func (r *Runner) Check() (string, error) {
	path, err := exec.LookPath(r.opts.Script)
	if err != nil || r.opts.Script == "" {
		return "", fmt.Errorf("%w: %q", ErrExecutableMissing, r.opts.Script)
	}
	if r.opts.BLAKE3 != "" {
		if err := VerifyScript(path, r.opts.BLAKE3); err != nil {
			return "", err
		}
	}
	return path, nil
}

// Start spawns `<script> <verb> <target>`. The returned Invocation must be
// finished with Wait; its Chunks channel may be consumed beforehand.
func (r *Runner) Start(ctx context.Context, verb Verb, target string) (*Invocation, error) {
	if !verb.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}
	path, err := r.Check()
	if err != nil {
		return nil, err
	}

	// Termination is managed here, not through CommandContext, so the whole
	// process group gets SIGTERM before SIGKILL.
	cmd := exec.Command(path, string(verb), target)
	if len(r.opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.opts.Env...)
	}
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	logger := r.logger.With("verb", string(verb), "target", target)
	timeout := r.Timeout(verb)
	logger.Debug("spawning provisioning script", "path", path, "timeout", timeout)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		// Removed or made non-executable since Check.
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: start %s: %v", ErrExecutableMissing, path, err)
		}
		return nil, fmt.Errorf("%w: start %s: %w", ErrSpawn, path, err)
	}

	inv := &Invocation{
		Verb:    verb,
		Target:  target,
		Started: started,
		chunks:  make(chan Chunk, chunkBuffer),
		done:    make(chan struct{}),
		out:     &outputBuffer{max: r.opts.MaxOutputBytes},
	}
	go inv.run(ctx, cmd, stdout, stderr, timeout, r.opts.GracePeriod, logger)
	return inv, nil
}

// Run starts an invocation and discards the live chunks.
func (r *Runner) Run(ctx context.Context, verb Verb, target string) (Result, error) {
	inv, err := r.Start(ctx, verb, target)
	if err != nil {
		return Result{}, err
	}
	return inv.Wait(), nil
}

// Invocation is a running script.
type Invocation struct {
	Verb    Verb
	Target  string
	Started time.Time

	chunks chan Chunk
	done   chan struct{}
	out    *outputBuffer
	result Result
}

// Chunks yields output lines in arrival order. It is closed after the last one.
func (inv *Invocation) Chunks() <-chan Chunk {
	return inv.chunks
}

// Wait blocks until the process has exited and all output has been
// delivered. Unread chunks are drained.
func (inv *Invocation) Wait() Result {
	for range inv.chunks {
	}
	<-inv.done
	return inv.result
}

func (inv *Invocation) run(
	ctx context.Context,
	cmd *exec.Cmd,
	stdout, stderr io.Reader,
	timeout, grace time.Duration,
	logger *slog.Logger,
) {
	defer close(inv.done)

	lines := make(chan Chunk)
	var readers sync.WaitGroup
	readers.Add(2)
	go readLines(stdout, Stdout, lines, &readers)
	go readLines(stderr, Stderr, lines, &readers)
	go func() {
		readers.Wait()
		close(lines)
	}()

	// Single collector keeps buffer order identical to delivery order.
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		defer close(inv.chunks)
		for c := range lines {
			inv.out.add(c.Text)
			inv.chunks <- c
		}
	}()

	waitErr := make(chan error, 1)
	go func() {
		<-collected
		waitErr <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	var stopReason error
	select {
	case err = <-waitErr:
	case <-timer.C:
		stopReason = ErrTimeout
		logger.Warn("provisioning script timed out, sending SIGTERM", "timeout", timeout)
	case <-ctx.Done():
		stopReason = ctx.Err()
		logger.Warn("provisioning script cancelled, sending SIGTERM")
	}

	if stopReason != nil {
		if serr := signalGroup(cmd, sigTerm); serr != nil {
			logger.Error("failed to send SIGTERM", "error", serr)
		}
		graceTimer := time.NewTimer(grace)
		select {
		case err = <-waitErr:
			logger.Info("provisioning script exited after SIGTERM")
		case <-graceTimer.C:
			logger.Warn("provisioning script did not exit after SIGTERM, sending SIGKILL")
			if serr := signalGroup(cmd, sigKill); serr != nil {
				logger.Error("failed to send SIGKILL", "error", serr)
			}
			err = <-waitErr
		}
		graceTimer.Stop()
	}

	res := Result{
		Output:    inv.out.String(),
		Truncated: inv.out.truncated,
		Duration:  time.Since(inv.Started),
	}
	switch {
	case stopReason != nil:
		res.ExitCode = -1
		res.TimedOut = errors.Is(stopReason, ErrTimeout)
		res.Err = stopReason
	case err == nil:
		res.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			logger.Warn("provisioning script exited with non-zero status", "exit_code", res.ExitCode)
		} else {
			res.ExitCode = -1
			res.Err = fmt.Errorf("wait for process: %w", err)
		}
	}
	logger.Debug("provisioning script finished",
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"duration_ms", res.Duration.Milliseconds(),
	)
	inv.result = res
}

func readLines(r io.Reader, stream Stream, out chan<- Chunk, wg *sync.WaitGroup) {
	defer wg.Done()
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			out <- Chunk{
				Stream: stream,
				Text:   strings.TrimRight(line, "\r\n"),
				At:     time.Now(),
			}
		}
		if err != nil {
			return
		}
	}
}

// outputBuffer keeps the most recent max bytes of output, line by line.
type outputBuffer struct {
	max       int
	buf       []byte
	truncated bool
}

func (b *outputBuffer) add(line string) {
	b.buf = append(b.buf, line...)
	b.buf = append(b.buf, '\n')
	if len(b.buf) > b.max {
		cut := len(b.buf) - b.max
		if i := indexByteFrom(b.buf, '\n', cut); i >= 0 {
			cut = i + 1
		}
		b.buf = append(b.buf[:0], b.buf[cut:]...)
		b.truncated = true
	}
}

func (b *outputBuffer) String() string {
	return string(b.buf)
}

func indexByteFrom(s []byte, c byte, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
