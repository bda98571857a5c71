package supervisor

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperFPM is not a test: it plays the php-fpm child for the spawn
// tests. It writes its pid file, listens on the worker socket and exits on
// SIGTERM, removing both files like php-fpm does.
func TestHelperFPM(t *testing.T) {
	if os.Getenv("LAMBDAFPM_FAKE_FPM") != "1" {
		t.Skip("helper process")
	}

	socketPath := os.Getenv("LAMBDAFPM_FAKE_SOCKET")
	pidPath := os.Getenv("LAMBDAFPM_FAKE_PIDFILE")

	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		os.Exit(1)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		os.Exit(1)
	}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	<-sigChan

	listener.Close()
	os.Remove(pidPath)
	os.Exit(0)
}

// fakeFPMScript writes a wrapper that re-execs this test binary as the
// helper above, ignoring the real php-fpm flags.
func fakeFPMScript(t *testing.T, dir string) string {
	t.Helper()
	testBin, err := os.Executable()
	require.NoError(t, err)

	script := filepath.Join(dir, "php-fpm")
	content := fmt.Sprintf("#!/bin/sh\nexec %q -test.run '^TestHelperFPM$'\n", testBin)
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script
}

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	return Config{
		SocketPath:  filepath.Join(dir, "php-fpm.sock"),
		PidPath:     filepath.Join(dir, "php-fpm.pid"),
		ConfigPath:  filepath.Join(dir, "php-fpm.conf"),
		Binary:      fakeFPMScript(t, dir),
		ChildOutput: io.Discard,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestStartServeStop(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv("LAMBDAFPM_FAKE_FPM", "1")
	t.Setenv("LAMBDAFPM_FAKE_SOCKET", cfg.SocketPath)
	t.Setenv("LAMBDAFPM_FAKE_PIDFILE", cfg.PidPath)

	s := New(cfg)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Equal(t, StateReady, s.State())
	assert.FileExists(t, cfg.SocketPath)
	assert.FileExists(t, cfg.PidPath)
	require.NoError(t, s.CheckAlive())

	s.EnterServing()
	assert.Equal(t, StateServing, s.State())
	s.LeaveServing()
	assert.Equal(t, StateReady, s.State())

	require.NoError(t, s.Stop())
	assert.Equal(t, StateAbsent, s.State())
	assert.NoFileExists(t, cfg.SocketPath)

	// A generated config must point php-fpm at the right socket.
	conf, err := os.ReadFile(cfg.ConfigPath)
	require.NoError(t, err)
	assert.Contains(t, string(conf), "listen = "+cfg.SocketPath)
	assert.Contains(t, string(conf), "pid = "+cfg.PidPath)
}

func TestStartChildExitsEarly(t *testing.T) {
	cfg := testConfig(t)
	script := filepath.Join(t.TempDir(), "php-fpm")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 3\n"), 0o755))
	cfg.Binary = script

	s := New(cfg)
	err := s.Start()
	require.ErrorIs(t, err, ErrStartFailed)
	assert.Equal(t, StateCrashed, s.State())
}

func TestCheckAliveAfterCrash(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv("LAMBDAFPM_FAKE_FPM", "1")
	t.Setenv("LAMBDAFPM_FAKE_SOCKET", cfg.SocketPath)
	t.Setenv("LAMBDAFPM_FAKE_PIDFILE", cfg.PidPath)

	s := New(cfg)
	require.NoError(t, s.Start())

	// Kill the worker behind the supervisor's back.
	require.NoError(t, syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL))
	require.Eventually(t, s.childExited, time.Second, 10*time.Millisecond)

	require.ErrorIs(t, s.CheckAlive(), ErrCrashed)
	assert.Equal(t, StateCrashed, s.State())
}

func TestStopIdempotent(t *testing.T) {
	s := New(testConfig(t))
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.Equal(t, StateAbsent, s.State())
}

func TestReclaimNoPidFile(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.SocketPath, nil, 0o644))

	s := New(cfg)
	require.NoError(t, s.reclaim())
	assert.NoFileExists(t, cfg.SocketPath)
}

func TestReclaimDeadPid(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.SocketPath, nil, 0o644))

	// A pid that existed a moment ago and is certainly gone now.
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	deadPid := cmd.Process.Pid
	require.NoError(t, os.WriteFile(cfg.PidPath, []byte(strconv.Itoa(deadPid)), 0o644))

	s := New(cfg)
	require.NoError(t, s.reclaim())
	assert.NoFileExists(t, cfg.SocketPath)
	assert.NoFileExists(t, cfg.PidPath)
}

func TestReclaimSelfPid(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.SocketPath, nil, 0o644))
	require.NoError(t, os.WriteFile(cfg.PidPath, []byte(strconv.Itoa(os.Getpid())), 0o644))

	s := New(cfg)
	require.NoError(t, s.reclaim())
	assert.NoFileExists(t, cfg.SocketPath)
	assert.NoFileExists(t, cfg.PidPath)
}

func TestReclaimInvalidPid(t *testing.T) {
	tests := []string{"-5", "0", "garbage", ""}
	for _, content := range tests {
		t.Run(content, func(t *testing.T) {
			cfg := testConfig(t)
			require.NoError(t, os.WriteFile(cfg.SocketPath, nil, 0o644))
			require.NoError(t, os.WriteFile(cfg.PidPath, []byte(content), 0o644))

			s := New(cfg)
			require.NoError(t, s.reclaim())
			assert.NoFileExists(t, cfg.SocketPath)
			assert.NoFileExists(t, cfg.PidPath)
		})
	}
}

func TestReclaimLiveStaleWorker(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv("LAMBDAFPM_FAKE_FPM", "1")
	t.Setenv("LAMBDAFPM_FAKE_SOCKET", cfg.SocketPath)
	t.Setenv("LAMBDAFPM_FAKE_PIDFILE", cfg.PidPath)

	// First worker, then pretend the sandbox froze: a second supervisor
	// finds the leftovers and must terminate the first worker.
	first := New(cfg)
	require.NoError(t, first.Start())

	second := New(cfg)
	require.NoError(t, second.reclaim())
	assert.NoFileExists(t, cfg.SocketPath)
	assert.NoFileExists(t, cfg.PidPath)
	assert.Eventually(t, first.childExited, time.Second, 10*time.Millisecond)
}

func TestInspectConfigPidOverride(t *testing.T) {
	cfg := testConfig(t)
	declared := filepath.Join(filepath.Dir(cfg.PidPath), "elsewhere.pid")
	conf := fmt.Sprintf("[global]\npid = %s\n\n[www]\nlisten = %s\n", declared, cfg.SocketPath)
	require.NoError(t, os.WriteFile(cfg.ConfigPath, []byte(conf), 0o644))

	s := New(cfg)
	require.NoError(t, s.ensureConfig())
	assert.Equal(t, declared, s.pidPath())
}
