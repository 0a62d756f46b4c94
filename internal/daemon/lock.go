package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ps "github.com/mitchellh/go-ps"
)

// ErrAlreadyRunning is returned by AcquireLock when a live daemon process
// already holds the lockfile, per spec §6's "another daemon running"
// startup-failure exit code.
var ErrAlreadyRunning = fmt.Errorf("daemon already running")

// Lock is the PID lockfile described in spec §6
// (/tmp/<app>-daemon.pid), held for the process lifetime and removed on
// clean shutdown.
type Lock struct {
	path string
}

// AcquireLock checks path for a stale or live PID, refusing to start if a
// process with that pid is still running and still looks like this
// binary. Grounded on telegram-daemon.py's check_singleton, strengthened
// per SPEC_FULL.md §2b: the Python original only does `os.kill(pid, 0)`,
// which a recycled pid can satisfy spuriously after a crash; go-ps lets us
// additionally compare the locked pid's executable name against our own,
// so a stale lockfile pointing at an unrelated process that happens to
// reuse the pid is treated as stale rather than as "still running".
func AcquireLock(path string) (*Lock, error) {
	if raw, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(raw))); perr == nil {
			if stillRunningFn(pid) {
				return nil, fmt.Errorf("%w: pid %d (%s)", ErrAlreadyRunning, pid, path)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lockfile directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("write lockfile: %w", err)
	}
	return &Lock{path: path}, nil
}

// stillRunningFn is a var so tests can stub out the "looks like this
// daemon" check without needing a live process whose executable is
// actually named cabridge.
var stillRunningFn = stillRunning

// stillRunning reports whether pid both exists and still looks like a
// cabridge daemon process, rather than a recycled pid now running
// something unrelated.
func stillRunning(pid int) bool {
	proc, err := ps.FindProcess(pid)
	if err != nil || proc == nil {
		return false
	}
	exe := strings.ToLower(proc.Executable())
	return strings.Contains(exe, "cabridge")
}

// Release unlinks the lockfile. Safe to call on a nil Lock.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	return os.Remove(l.path)
}
