// Copyright 2024 The BranchFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the structured logger used throughout BranchFS,
// a thin wrapper over log/slog.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Severity levels, named the way internal/logger's current implementation
// names them rather than slog's bare Debug/Info/Warn/Error.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
)

// Logger wraps a *slog.Logger, tagging every record with a "severity" field
// using BranchFS's level names instead of slog's defaults.
type Logger struct {
	l *slog.Logger
}

// Config selects the logger's destination, format, and minimum level.
type Config struct {
	// Level is the minimum severity that will be emitted.
	Level slog.Level
	// Format is either "text" or "json". Anything else defaults to "text".
	Format string
	// Output is the destination writer. Defaults to os.Stderr if nil.
	Output io.Writer
}

// New builds a Logger per cfg.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: false,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				a.Key = "severity"
				a.Value = slog.StringValue(severityName(a.Value.Any().(slog.Level)))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}
	return &Logger{l: slog.New(handler)}
}

// NewNop returns a Logger that discards everything. Used as the default
// when a component isn't given one explicitly (e.g. in tests).
func NewNop() *Logger {
	return &Logger{l: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarning:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func (g *Logger) Trace(msg string, args ...any) { g.l.Log(context.Background(), LevelTrace, msg, args...) }
func (g *Logger) Debug(msg string, args ...any) { g.l.Debug(msg, args...) }
func (g *Logger) Info(msg string, args ...any)  { g.l.Info(msg, args...) }
func (g *Logger) Warn(msg string, args ...any)  { g.l.Warn(msg, args...) }
func (g *Logger) Error(msg string, args ...any) { g.l.Error(msg, args...) }

// With returns a Logger that prepends args to every subsequent record,
// mirroring slog.Logger.With (used to scope a logger to e.g. one mount).
func (g *Logger) With(args ...any) *Logger {
	return &Logger{l: g.l.With(args...)}
}
