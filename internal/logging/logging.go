// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerSetupParams selects level, format and destinations.
type LoggerSetupParams struct {
	LogFileName   string
	LogToStdout   bool
	LogLevel      string
	LogFormatJSON bool

	// MaxSizeMB and MaxBackups bound the rotated log files. Zero keeps
	// lumberjack's defaults (100 MB, all backups).
	MaxSizeMB  int
	MaxBackups int

	// Quiet discards output when no file is configured. The TUI sets it,
	// since stdout belongs to the terminal UI.
	Quiet bool
}

// Setup applies params to the standard logrus logger and returns a closer for
// the log file, if one was opened.
func Setup(params LoggerSetupParams) io.Closer {
	if params.LogFormatJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logrus.SetLevel(GetLevel(params.LogLevel))

	if params.LogFileName == "" {
		if params.Quiet {
			logrus.SetOutput(io.Discard)
		} else {
			logrus.SetOutput(os.Stderr)
		}
		return nopCloser{}
	}

	if !strings.HasSuffix(params.LogFileName, ".log") {
		params.LogFileName += ".log"
	}
	_ = os.MkdirAll(filepath.Dir(params.LogFileName), 0700)

	lumberJackLogger := &lumberjack.Logger{
		Filename:   params.LogFileName,
		MaxSize:    params.MaxSizeMB,
		MaxBackups: params.MaxBackups,
		LocalTime:  false,
		Compress:   true,
	}

	if params.LogToStdout && !params.Quiet {
		logrus.SetOutput(NewCombinedWriter(os.Stderr, lumberJackLogger))
	} else {
		logrus.SetOutput(lumberJackLogger)
	}
	return lumberJackLogger
}

// GetLevel parses a level name. Unknown names mean info.
func GetLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// ValidLevels lists the names GetLevel understands.
var ValidLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// CombinedWriter writes to every writer, collecting all errors.
type CombinedWriter struct {
	Writers []io.Writer
}

// NewCombinedWriter fans out to writers.
func NewCombinedWriter(writers ...io.Writer) *CombinedWriter {
	return &CombinedWriter{Writers: writers}
}

func (cw *CombinedWriter) Write(p []byte) (n int, err error) {
	for _, w := range cw.Writers {
		if _, werr := w.Write(p); werr != nil {
			err = multierr.Append(err, werr)
		}
	}
	return len(p), err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
