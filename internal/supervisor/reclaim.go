package supervisor

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// reclaim cleans up a worker left behind by a previously frozen sandbox.
// Invoked before spawn; an existing socket file means a previous instance
// froze mid-invocation and its php-fpm may still be running.
func (s *Supervisor) reclaim() error {
	if _, err := os.Stat(s.cfg.SocketPath); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	s.log.Warn("stale worker socket found, reclaiming", "socket", s.cfg.SocketPath)
	s.met.WorkerReclaimsTotal.Inc()

	pid, ok := s.readPidFile()
	if !ok {
		// No usable pid file: nothing to signal, just clear the leftovers.
		s.log.Info("no previous worker pid, removed stale files")
		s.removeFiles()
		return nil
	}

	if !processGroupAlive(pid) {
		s.log.Info("previous worker already gone, removed stale files", "pid", pid)
		s.removeFiles()
		return nil
	}

	if pid == os.Getpid() {
		// The kernel recycled the old worker's pid onto us. Signalling
		// would hit ourselves; the files are stale by definition.
		s.log.Info("previous worker pid was recycled to this process, removed stale files", "pid", pid)
		s.removeFiles()
		return nil
	}

	s.log.Warn("terminating stale worker", "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		// Raced with the process exiting on its own.
		s.log.Info("stale worker vanished before the signal", "pid", pid)
		s.removeFiles()
		return nil
	}

	deadline := time.Now().Add(reclaimTimeout)
	for processGroupAlive(pid) {
		if time.Now().After(deadline) {
			return ErrReclaimTimeout
		}
		time.Sleep(reclaimPollInterval)
	}

	s.log.Info("stale worker terminated", "pid", pid)
	s.removeFiles()
	return nil
}

// readPidFile returns the pid recorded by the previous worker. ok is false
// when the file is missing or its content is not a positive integer.
func (s *Supervisor) readPidFile() (pid int, ok bool) {
	data, err := os.ReadFile(s.pidPath())
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processGroupAlive probes the process group led by pid. EPERM still means
// something is alive there.
func processGroupAlive(pid int) bool {
	err := syscall.Kill(-pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
