// Package pid guards against two harvester processes sharing one
// configuration.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/harvester/internal/errors"
)

const (
	pidFile = "harvester.pid"
)

// Path returns the pid file location inside dir, or inside the system temp
// directory when dir is empty.
func Path(dir string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, pidFile)
}

// Write records the current process ID. It fails with ErrAlreadyRunning
// when the file names a live process; unreadable or stale files are
// replaced.
func Write(dir string) error {
	errFactory := errors.New()
	path := Path(dir)

	if data, err := os.ReadFile(path); err == nil {
		if running(strings.TrimSpace(string(data))) {
			return errFactory.WithData(errors.ErrAlreadyRunning, path)
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func running(content string) bool {
	pid, err := strconv.Atoi(content)
	if err != nil || pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}

// Remove deletes the pid file if it exists.
func Remove(dir string) error {
	path := Path(dir)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}
