// Package logging configures the op/go-logging backend shared by every
// package in this module, mirroring the format strings and level
// plumbing the daemon it's grounded on sets up once at startup.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/op/go-logging"
)

var stdoutFormat = logging.MustStringFormatter(
	`%{color:reset}%{color}%{time:15:04:05.000} [%{shortfunc}] [%{level}] %{message}`,
)

var fileFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} [%{shortfunc}] [%{level}] %{message}`,
)

// Setup wires stdout and an optional log file as backends at the given
// level, and returns a cleanup to close the file. Pass an empty logPath
// to skip the file backend.
func Setup(level string, logPath string) (func(), error) {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: unrecognized level %q: %w", level, err)
	}

	backendStdout := logging.NewLogBackend(os.Stdout, "", 0)
	backendStdoutFormatter := logging.NewBackendFormatter(backendStdout, stdoutFormat)
	backends := []logging.Backend{backendStdoutFormatter}
	closer := func() {}

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", logPath, err)
		}
		backendFile := logging.NewLogBackend(f, "", 0)
		backendFileFormatter := logging.NewBackendFormatter(backendFile, fileFormat)
		backends = append(backends, backendFileFormatter)
		closer = func() { f.Close() }
	}

	logging.SetBackend(backends...)
	logging.SetLevel(lvl, "")
	return closer, nil
}

// MustGetLogger is a re-export so callers only need to import this
// package, not op/go-logging directly, to get a module-scoped logger.
func MustGetLogger(module string) *logging.Logger {
	return logging.MustGetLogger(module)
}

// SetOutputForTest redirects the default backend to w without formatting,
// for tests that want to assert on log output without touching stdout.
func SetOutputForTest(w io.Writer) {
	backend := logging.NewLogBackend(w, "", 0)
	logging.SetBackend(backend)
}
