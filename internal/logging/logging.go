// Package logging configures the process-wide go-logging backend.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/op/go-logging"
)

const (
	colorFormat = `%{color}%{time:15:04:05.000} %{module} ▶ %{level:.4s} %{id:03x}%{color:reset} %{message}`
	plainFormat = `%{time:15:04:05.000} %{module} ▶ %{level:.4s} %{id:03x} %{message}`
)

// Init installs a single backend writing to w at the given level. Colors are
// only emitted when w is a terminal.
func Init(level string, w io.Writer) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if w == nil {
		w = os.Stderr
	}
	format := plainFormat
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		format = colorFormat
	}
	backend := logging.NewBackendFormatter(
		logging.NewLogBackend(w, "", 0),
		logging.MustStringFormatter(format),
	)
	leveled := logging.AddModuleLevel(backend)
	leveled.SetLevel(lvl, "")
	logging.SetBackend(leveled)
	return nil
}

// For returns the logger for one module name.
func For(module string) *logging.Logger {
	return logging.MustGetLogger(module)
}

// SetModuleLevel overrides the level of one module after Init.
func SetModuleLevel(module, level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	logging.SetLevel(lvl, module)
	return nil
}

func ParseLevel(s string) (logging.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logging.DEBUG, nil
	case "info", "":
		return logging.INFO, nil
	case "notice":
		return logging.NOTICE, nil
	case "warning", "warn":
		return logging.WARNING, nil
	case "error":
		return logging.ERROR, nil
	case "critical":
		return logging.CRITICAL, nil
	}
	return logging.INFO, fmt.Errorf("logging: unknown level %q", s)
}
