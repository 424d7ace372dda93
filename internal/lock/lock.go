//go:build unix

// Package lock enforces a single daemon per lock file with an advisory flock. The
// lock dies with its process, so a file left behind by a crash is reclaimed on the
// next start.
package lock

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/logfields"
)

// Lock is a held instance lock.
type Lock struct {
	path   string
	file   *os.File
	logger *slog.Logger
}

// maxAttempts bounds how often Acquire retries after losing a race with a releasing
// holder that unlinked the file.
const maxAttempts = 5

// errReplaced means the locked inode is no longer the one linked at the lock path.
var errReplaced = errors.New("lock file replaced while locking")

// Acquire takes the lock at path and records the current PID in it. When another
// live process holds it, AlreadyRunning is returned with the holder's PID in the
// error context under "pid".
func Acquire(path string, logger *slog.Logger) (*Lock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryLock, "failed to create lock directory").
			WithContext("path", path).Build()
	}
	for attempt := 1; ; attempt++ {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryLock, "failed to open lock file").
				WithContext("path", path).Build()
		}
		l, err := acquireOpened(path, f, logger)
		if errors.Is(err, errReplaced) {
			if attempt < maxAttempts {
				logger.Debug("Lock file replaced while locking, retrying", logfields.Path(path))
				continue
			}
			return nil, ferrors.WrapError(err, ferrors.CategoryLock, "failed to lock").
				WithContext("path", path).Build()
		}
		return l, err
	}
}

// acquireOpened flocks f, which was opened from path, and takes ownership of it. f is
// closed on every error. errReplaced is returned unwrapped when the holder released
// and unlinked the file between our open and our flock.
func acquireOpened(path string, f *os.File, logger *slog.Logger) (*Lock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		pid, _ := readPID(f)
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ferrors.AlreadyRunning(fmt.Sprintf("another instance is running (pid %d)", pid)).
				WithContext("path", path).WithContext("pid", pid).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryLock, "failed to lock").
			WithContext("path", path).Build()
	}

	held, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryLock, "failed to stat lock file").
			WithContext("path", path).Build()
	}
	linked, err := os.Stat(path)
	if err != nil || !os.SameFile(held, linked) {
		_ = f.Close()
		return nil, errReplaced
	}

	l := &Lock{path: path, file: f, logger: logger}
	if err := l.writePID(os.Getpid()); err != nil {
		_ = l.Release()
		return nil, err
	}
	logger.Debug("Instance lock acquired", logfields.Path(path), logfields.PID(os.Getpid()))
	return l, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

func (l *Lock) writePID(pid int) error {
	if err := l.file.Truncate(0); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryLock, "failed to truncate lock file").Build()
	}
	if _, err := l.file.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryLock, "failed to write pid").Build()
	}
	return l.file.Sync()
}

// Release removes the lock file and drops the lock. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Unlink while still holding the lock. An instance that opened the old inode
	// notices the replacement in acquireOpened and retries on the new path.
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("Failed to remove lock file", logfields.Path(l.path), logfields.Error(err))
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Probe reports the PID recorded in the lock file and whether a live process holds
// the lock. A missing file means nothing is running.
func Probe(path string) (pid int, running bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, ferrors.WrapError(err, ferrors.CategoryLock, "failed to open lock file").
			WithContext("path", path).Build()
	}
	defer func() { _ = f.Close() }()

	pid, _ = readPID(f)
	switch err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); {
	case err == nil:
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return pid, false, nil
	case errors.Is(err, unix.EWOULDBLOCK):
		return pid, true, nil
	default:
		return pid, false, ferrors.WrapError(err, ferrors.CategoryLock, "failed to probe lock").
			WithContext("path", path).Build()
	}
}

// Signal sends sig to the process holding the lock at path.
func Signal(path string, sig unix.Signal) (int, error) {
	pid, running, err := Probe(path)
	if err != nil {
		return 0, err
	}
	if !running || pid <= 0 {
		return 0, ferrors.DaemonError("no running instance").WithContext("path", path).Build()
	}
	if err := unix.Kill(pid, sig); err != nil {
		return pid, ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to signal daemon").
			WithContext("pid", pid).Build()
	}
	return pid, nil
}

func readPID(f *os.File) (int, error) {
	data, err := io.ReadAll(io.NewSectionReader(f, 0, 64))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
