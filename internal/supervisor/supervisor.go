// Package supervisor owns the php-fpm child process: spawn, readiness,
// crash detection, stale-worker reclaim and teardown. At most one worker
// exists per sandbox; the supervisor's state machine is the single source
// of truth for its liveness.
package supervisor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mevdschee/lambdafpm/internal/metrics"
)

var (
	// ErrStartFailed means the worker could not be launched (socket dir,
	// fpm config or exec failure) or exited before its socket appeared.
	ErrStartFailed = errors.New("supervisor: worker failed to start")
	// ErrStartTimeout means the socket never appeared within the readiness window.
	ErrStartTimeout = errors.New("supervisor: worker start timeout")
	// ErrReclaimTimeout means a stale worker would not die after SIGTERM.
	ErrReclaimTimeout = errors.New("supervisor: stale worker reclaim timeout")
	// ErrCrashed means the liveness probe found the child gone.
	ErrCrashed = errors.New("supervisor: worker crashed")
	// ErrStopFailed means the socket still accepted connections after the stop grace period.
	ErrStopFailed = errors.New("supervisor: worker stop failed")
)

// State tracks the worker through its lifecycle.
type State int

const (
	StateAbsent State = iota
	StateStarting
	StateReady
	StateServing
	StateStopping
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateServing:
		return "serving"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	readinessPollInterval = 5 * time.Millisecond
	readinessTimeout      = 5 * time.Second
	reclaimPollInterval   = 5 * time.Millisecond
	reclaimTimeout        = 1 * time.Second
	stopGracePeriod       = 2 * time.Second
)

// Config carries the fixed paths and the worker binary.
type Config struct {
	SocketPath string
	PidPath    string
	ConfigPath string
	Binary     string

	// ChildOutput receives the child's stdout and stderr verbatim.
	// Defaults to os.Stderr; these lines become platform logs.
	ChildOutput io.Writer

	Logger *slog.Logger
}

// Supervisor manages the single php-fpm child of this sandbox.
type Supervisor struct {
	cfg Config
	log *slog.Logger
	met *metrics.Metrics

	cmd     *exec.Cmd
	exitCh  chan error
	exitErr error
	done    bool
	state   State

	// pidOverride is the pid path declared by the fpm config, when it
	// differs from the configured default.
	pidOverride string
}

// New creates a supervisor. Nothing is spawned until Start.
func New(cfg Config) *Supervisor {
	if cfg.Binary == "" {
		cfg.Binary = "php-fpm"
	}
	if cfg.ChildOutput == nil {
		cfg.ChildOutput = os.Stderr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{
		cfg: cfg,
		log: cfg.Logger.With("component", "supervisor"),
		met: metrics.Get(),
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return s.state
}

// SocketPath returns the unix socket the worker listens on.
func (s *Supervisor) SocketPath() string {
	return s.cfg.SocketPath
}

// Start reclaims any stale worker, spawns php-fpm and waits for its socket.
func (s *Supervisor) Start() error {
	s.state = StateStarting

	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		s.state = StateCrashed
		return fmt.Errorf("%w: create socket dir: %v", ErrStartFailed, err)
	}

	if err := s.ensureConfig(); err != nil {
		s.state = StateCrashed
		return err
	}

	if err := s.reclaim(); err != nil {
		s.state = StateCrashed
		return err
	}

	if err := s.spawn(); err != nil {
		s.state = StateCrashed
		return err
	}

	if err := s.waitReady(); err != nil {
		s.state = StateCrashed
		return err
	}

	s.state = StateReady
	s.met.WorkerStartsTotal.Inc()
	s.met.WorkerUp.Set(1)
	s.log.Info("worker ready", "pid", s.cmd.Process.Pid, "socket", s.cfg.SocketPath)
	return nil
}

func (s *Supervisor) spawn() error {
	cmd := exec.Command(s.cfg.Binary,
		"--nodaemonize",
		"--force-stderr",
		"--fpm-config", s.cfg.ConfigPath,
	)
	// Forward every byte of child output to stderr unchanged.
	cmd.Stdout = s.cfg.ChildOutput
	cmd.Stderr = s.cfg.ChildOutput
	// Own process group, so the parent pid can never be recycled into the
	// child and group-wide signals reach fpm's own pool workers.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	s.cmd = cmd
	s.exitCh = make(chan error, 1)
	s.exitErr = nil
	s.done = false
	go func() {
		s.exitCh <- cmd.Wait()
	}()

	s.log.Info("worker spawned", "pid", cmd.Process.Pid, "config", s.cfg.ConfigPath)
	return nil
}

// waitReady polls for the socket file every 5ms, up to 5s. A directory
// watcher shortcuts the wait as soon as the socket is created.
func (s *Supervisor) waitReady() error {
	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(s.cfg.SocketPath)); err == nil {
			events = watcher.Events
		}
	}

	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(readinessTimeout)
	defer deadline.Stop()

	for {
		if _, err := os.Stat(s.cfg.SocketPath); err == nil {
			return nil
		}

		select {
		case exitErr := <-s.exitCh:
			s.done = true
			s.exitErr = exitErr
			return fmt.Errorf("%w: child exited before socket appeared: %v", ErrStartFailed, exitErr)
		case <-deadline.C:
			s.kill()
			return ErrStartTimeout
		case <-ticker.C:
		case <-events:
		}
	}
}

// CheckAlive is the liveness probe run after every request. A dead child is
// fatal; the sandbox must exit so the platform replaces it.
func (s *Supervisor) CheckAlive() error {
	if s.childExited() {
		s.state = StateCrashed
		s.met.WorkerUp.Set(0)
		if s.exitErr != nil {
			return fmt.Errorf("%w: %v", ErrCrashed, s.exitErr)
		}
		return ErrCrashed
	}
	return nil
}

func (s *Supervisor) childExited() bool {
	if s.cmd == nil {
		return true
	}
	if s.done {
		return true
	}
	select {
	case err := <-s.exitCh:
		s.done = true
		s.exitErr = err
		return true
	default:
		return false
	}
}

// EnterServing marks a request in flight.
func (s *Supervisor) EnterServing() {
	if s.state == StateReady {
		s.state = StateServing
	}
}

// LeaveServing marks the request finished.
func (s *Supervisor) LeaveServing() {
	if s.state == StateServing {
		s.state = StateReady
	}
}

// Stop signals the child and waits out the grace period. Idempotent.
func (s *Supervisor) Stop() error {
	if s.cmd == nil {
		s.removeFiles()
		s.state = StateAbsent
		return nil
	}
	s.state = StateStopping

	if !s.childExited() {
		s.signal(syscall.SIGTERM)

		select {
		case err := <-s.exitCh:
			s.done = true
			s.exitErr = err
		case <-time.After(stopGracePeriod):
		}
	}

	if s.socketResolves() {
		return ErrStopFailed
	}

	s.removeFiles()
	s.cmd = nil
	s.state = StateAbsent
	s.met.WorkerUp.Set(0)
	s.log.Info("worker stopped")
	return nil
}

// signal targets the child's process group, falling back to the process
// itself when the group signal fails.
func (s *Supervisor) signal(sig syscall.Signal) {
	pid := s.cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = s.cmd.Process.Signal(sig)
	}
}

func (s *Supervisor) kill() {
	if s.cmd != nil && s.cmd.Process != nil {
		s.signal(syscall.SIGKILL)
	}
}

// socketResolves reports whether something still accepts connections on the
// worker socket.
func (s *Supervisor) socketResolves() bool {
	conn, err := net.DialTimeout("unix", s.cfg.SocketPath, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (s *Supervisor) removeFiles() {
	removeIfExists(s.cfg.SocketPath)
	removeIfExists(s.pidPath())
}

func removeIfExists(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to remove file", "path", path, "error", err)
	}
}
