package credprovider

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	dserrors "github.com/systmms/feedcred/internal/errors"
	"github.com/systmms/feedcred/internal/logging"
)

const (
	// DefaultGracePeriod is how long Close waits for the process to exit on
	// its own after stdin is closed.
	DefaultGracePeriod = 5 * time.Second

	stderrTailLimit = 4096
)

// Conn is a bidirectional line stream to a credential provider.
type Conn interface {
	// ReadLine returns the next stdout line. io.EOF means the stream ended.
	ReadLine(ctx context.Context) ([]byte, error)

	// WriteLine writes one already-terminated line to the peer.
	WriteLine(line []byte) error

	// Close ends the conversation and releases the process. A nonzero exit
	// that was not caused by Terminate is reported as a *TransportError.
	Close() error

	// Terminate kills the process. Safe to call any number of times.
	Terminate() error
}

// Starter spawns a process for inv and returns its Conn.
type Starter func(ctx context.Context, inv Invocation, logger *logging.Logger) (Conn, error)

// Invocation is an executable plus the arguments that precede the
// mode-specific ones (for example "exec <dll>" when run through dotnet).
type Invocation struct {
	Path string
	Args []string
	Env  []string
}

// With returns a copy of inv with args appended.
func (inv Invocation) With(args ...string) Invocation {
	out := Invocation{Path: inv.Path, Env: inv.Env}
	out.Args = append(append([]string{}, inv.Args...), args...)
	return out
}

func (inv Invocation) String() string {
	return strings.TrimSpace(inv.Path + " " + strings.Join(inv.Args, " "))
}

type lineResult struct {
	line []byte
	err  error
}

// Channel is a Conn backed by a child process's stdio.
type Channel struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *logging.Logger

	lines   chan lineResult
	quit    chan struct{}
	closing chan struct{}

	stderr     *tailBuffer
	readsDone  sync.WaitGroup
	waitDone   chan struct{}
	waitErr    error
	terminated atomic.Bool

	writeMu       sync.Mutex
	terminateOnce sync.Once
	closeOnce     sync.Once
	closeErr      error
	stopAfter     func() bool

	GracePeriod time.Duration
}

// StartChannel is the default Starter.
func StartChannel(ctx context.Context, inv Invocation, logger *logging.Logger) (Conn, error) {
	return Start(ctx, inv, logger)
}

// Start spawns inv and begins pumping its output. Cancelling ctx kills the
// process.
func Start(ctx context.Context, inv Invocation, logger *logging.Logger) (*Channel, error) {
	if inv.Path == "" {
		return nil, dserrors.ConfigError{
			Field:   "provider.executable_path",
			Message: "no credential provider executable configured",
			Err:     ErrExecutableNotFound,
		}
	}
	path, err := exec.LookPath(inv.Path)
	if err != nil {
		return nil, dserrors.ConfigError{
			Field:      "provider.executable_path",
			Value:      inv.Path,
			Message:    "credential provider executable not found",
			Suggestion: "Install the credential provider or set provider.executable_path",
			Err:        fmt.Errorf("%w: %v", ErrExecutableNotFound, err),
		}
	}

	cmd := exec.Command(path, inv.Args...)
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, &TransportError{Reason: "failed to start credential provider", Err: err}
	}
	logger.Debug("Started credential provider (PID %d): %s", cmd.Process.Pid, inv)

	c := &Channel{
		cmd:         cmd,
		stdin:       stdin,
		logger:      logger,
		lines:       make(chan lineResult),
		quit:        make(chan struct{}),
		closing:     make(chan struct{}),
		stderr:      &tailBuffer{limit: stderrTailLimit},
		waitDone:    make(chan struct{}),
		GracePeriod: DefaultGracePeriod,
	}

	c.readsDone.Add(2)
	go c.readStdout(stdout)
	go c.pumpStderr(stderr)
	go func() {
		// Wait must not run before the pipe readers are finished.
		c.readsDone.Wait()
		c.waitErr = cmd.Wait()
		close(c.waitDone)
	}()

	c.stopAfter = context.AfterFunc(ctx, func() {
		_ = c.Terminate()
	})

	return c, nil
}

// PID returns the process id of the child.
func (c *Channel) PID() int {
	return c.cmd.Process.Pid
}

func (c *Channel) readStdout(r io.Reader) {
	defer c.readsDone.Done()
	defer close(c.lines)

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			select {
			case c.lines <- lineResult{line: line}:
			case <-c.quit:
				_, _ = io.Copy(io.Discard, br)
				return
			case <-c.closing:
				// Nobody reads after Close; drain so the process can exit.
				_, _ = io.Copy(io.Discard, br)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				select {
				case c.lines <- lineResult{err: err}:
				case <-c.quit:
				case <-c.closing:
				}
			}
			return
		}
	}
}

func (c *Channel) pumpStderr(r io.Reader) {
	defer c.readsDone.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		c.stderr.WriteLine(line)
		c.logger.Diagnostic(line)
	}
	_, _ = io.Copy(io.Discard, r)
}

// ReadLine returns the next line from stdout.
func (c *Channel) ReadLine(ctx context.Context) ([]byte, error) {
	select {
	case r, ok := <-c.lines:
		if !ok {
			return nil, io.EOF
		}
		return r.line, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteLine writes line to stdin.
func (c *Channel) WriteLine(line []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.stdin.Write(line); err != nil {
		return fmt.Errorf("write to credential provider: %w", err)
	}
	return nil
}

// Terminate kills the process. Output already buffered is discarded.
func (c *Channel) Terminate() error {
	c.terminateOnce.Do(func() {
		c.terminated.Store(true)
		close(c.quit)
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			c.logger.Debug("Failed to kill credential provider (PID %d): %v", c.PID(), err)
		}
	})
	return nil
}

// Close closes stdin and waits for the process to exit, terminating it if
// it outlives the grace period.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.stdin.Close()
		c.writeMu.Unlock()
		close(c.closing)

		timer := time.NewTimer(c.GracePeriod)
		defer timer.Stop()

		select {
		case <-c.waitDone:
		case <-timer.C:
			c.logger.Debug("Credential provider (PID %d) did not exit within %s, terminating", c.PID(), c.GracePeriod)
			_ = c.Terminate()
			<-c.waitDone
		}

		if c.stopAfter != nil {
			c.stopAfter()
		}
		c.closeErr = c.exitError()
	})
	return c.closeErr
}

// exitError packages a nonzero exit. Exits we caused are not errors.
func (c *Channel) exitError() error {
	if c.waitErr == nil || c.terminated.Load() {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(c.waitErr, &exitErr) {
		return &TransportError{
			PID:      c.PID(),
			ExitCode: exitErr.ExitCode(),
			Exited:   true,
			Stderr:   c.stderr.String(),
		}
	}
	return &TransportError{Reason: "credential provider did not exit cleanly", PID: c.PID(), Err: c.waitErr}
}

// tailBuffer keeps the last limit bytes of stderr.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) WriteLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append([]byte(nil), t.buf[over:]...)
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
