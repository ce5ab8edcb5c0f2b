// Package logger provides leveled, module-scoped loggers for the client
// services and the server. It is a thin wrapper over go-logging so that
// callers never touch backend configuration.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	logging "gopkg.in/op/go-logging.v1"
)

const format = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"

var (
	initOnce sync.Once
	leveled  logging.LeveledBackend
)

func backend() logging.LeveledBackend {
	initOnce.Do(func() {
		setup(os.Stderr, "NOTICE")
	})
	return leveled
}

func setup(w io.Writer, level string) {
	base := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(base, logging.MustStringFormatter(format))
	leveled = logging.AddModuleLevel(formatted)
	lvl, err := logging.LogLevel(level)
	if err != nil {
		lvl = logging.NOTICE
	}
	leveled.SetLevel(lvl, "")
	logging.SetBackend(leveled)
}

// Configure replaces the process-wide backend. Level is one of DEBUG, INFO,
// NOTICE, WARNING, ERROR, CRITICAL (case-insensitive).
func Configure(w io.Writer, level string) error {
	if w == nil {
		w = os.Stderr
	}
	if _, err := logging.LogLevel(strings.ToUpper(level)); err != nil {
		return errors.Wrapf(err, "logger: invalid level %q", level)
	}
	initOnce.Do(func() {})
	setup(w, strings.ToUpper(level))
	return nil
}

// New returns a logger scoped to module.
func New(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(backend())
	return l
}
