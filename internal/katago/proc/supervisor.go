package proc

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
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	defaultStopGrace = 3 * time.Second
	maxLineBytes     = 8 << 20
)

type State int

const (
	StateStopped State = iota
	StateRunning
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return "stopped"
	}
}

type SupervisorOption func(*Supervisor)

// WithEnv sets extra environment variables for the engine process.
func WithEnv(env ...string) SupervisorOption {
	return func(s *Supervisor) { s.env = append(s.env, env...) }
}

func WithStopGrace(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

func WithDir(dir string) SupervisorOption {
	return func(s *Supervisor) { s.dir = dir }
}

// Supervisor owns at most one engine process and wires its stdout into a
// Correlator.
type Supervisor struct {
	corr   *Correlator
	logger *zap.Logger
	env    []string
	dir    string
	grace  time.Duration

	mu      sync.Mutex
	state   State
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	exited  chan struct{}
	gen     uint64
	lastErr error
}

func NewSupervisor(corr *Correlator, logger *zap.Logger, opts ...SupervisorOption) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{corr: corr, logger: logger, grace: defaultStopGrace}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError is the reason the process last left the running state.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// EnsureRunning starts the engine unless it is already running. It also
// re-arms a supervisor whose process died.
func (s *Supervisor) EnsureRunning(ctx context.Context, execPath string, args []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return nil
	}
	if strings.TrimSpace(execPath) == "" {
		return fmt.Errorf("engine executable path required")
	}

	cmd := exec.Command(execPath, args...)
	cmd.Dir = s.dir
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	s.logger.Info("launching engine", zap.String("path", execPath), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		s.state = StateFailed
		s.lastErr = fmt.Errorf("start engine: %w", err)
		return s.lastErr
	}

	s.gen++
	gen := s.gen
	s.cmd = cmd
	s.stdin = stdin
	s.exited = make(chan struct{})
	s.state = StateRunning
	s.lastErr = nil

	var (
		readers   sync.WaitGroup
		stdoutErr error
	)
	readers.Add(2)
	go func() {
		defer readers.Done()
		if stdoutErr = s.readStdout(stdout); stdoutErr != nil {
			// Nothing more can be correlated once the stream is broken.
			s.logger.Error("engine stdout unreadable, killing engine", zap.Error(stdoutErr))
			_ = cmd.Process.Kill()
		}
	}()
	go func() {
		defer readers.Done()
		s.readStderr(stderr)
	}()
	go s.observeExit(cmd, gen, s.exited, &readers, &stdoutErr)

	s.corr.Attach(stdin)
	return nil
}

// Stop terminates the engine and fails whatever was still waiting on it.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.state = StateStopped
		s.mu.Unlock()
		s.corr.FailAll(ErrProcessStopped)
		return nil
	}
	cmd := s.cmd
	stdin := s.stdin
	exited := s.exited
	s.gen++
	s.state = StateStopped
	s.lastErr = ErrProcessStopped
	s.cmd = nil
	s.stdin = nil
	s.mu.Unlock()

	s.corr.Detach()
	_ = stdin.Close()
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			_ = cmd.Process.Kill()
		}
	}

	select {
	case <-exited:
	case <-time.After(s.grace):
		s.logger.Warn("engine did not exit after SIGTERM, killing")
		_ = cmd.Process.Kill()
		<-exited
	}
	s.corr.FailAll(ErrProcessStopped)
	s.logger.Info("engine stopped")
	return nil
}

// Restart stops the current process, if any, and starts a new one.
func (s *Supervisor) Restart(ctx context.Context, execPath string, args []string) error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.EnsureRunning(ctx, execPath, args)
}

// readStdout feeds lines to the correlator until EOF. It returns the read
// error when the stream breaks while the process may still be alive, such
// as a line longer than maxLineBytes.
func (s *Supervisor) readStdout(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		s.corr.OnLine(sc.Bytes())
	}
	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("read engine stdout: %w", err)
	}
	return nil
}

func (s *Supervisor) readStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		s.logger.Warn("engine stderr", zap.String("line", line))
	}
}

func (s *Supervisor) observeExit(cmd *exec.Cmd, gen uint64, exited chan struct{}, readers *sync.WaitGroup, stdoutErr *error) {
	// Wait must not run before the pipes are drained.
	readers.Wait()
	err := cmd.Wait()
	close(exited)

	reason := exitReason(err)
	if *stdoutErr != nil {
		reason = (*stdoutErr).Error()
	}
	s.mu.Lock()
	current := s.gen == gen
	if current {
		s.state = StateFailed
		s.lastErr = fmt.Errorf("%w: %s", ErrProcessExited, reason)
		s.cmd = nil
		s.stdin = nil
	}
	s.mu.Unlock()
	if !current {
		return
	}

	s.logger.Error("engine exited unexpectedly", zap.Error(err))
	s.corr.Detach()
	s.corr.FailAll(ErrProcessExited)
}

func exitReason(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
