package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"telprobe/internal/config"
)

const (
	ansiReset   = "\x1b[0m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
	ansiGray    = "\x1b[90m"
)

// New builds a logger from console and file sink settings.
// Params: cfg validated logging config.
// Returns: logger, close function for file sinks, or init error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	return newWithConsole(cfg, os.Stderr, isTerminal(os.Stderr))
}

// newWithConsole builds a logger with an explicit console writer.
// Params: cfg logging config; console destination; color enables ANSI line coloring.
// Returns: logger, close function, or init error.
func newWithConsole(cfg config.LogConfig, console io.Writer, color bool) (*slog.Logger, func(), error) {
	handlers := make([]slog.Handler, 0, 2)
	closers := make([]io.Closer, 0, 1)

	if cfg.Console.Enabled {
		writer := console
		if color && cfg.Console.Format != "json" {
			writer = &colorLineWriter{dst: console}
		}
		handler, err := newHandler(writer, cfg.Console)
		if err != nil {
			return nil, nil, fmt.Errorf("console sink: %w", err)
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", cfg.File.Path, err)
		}
		handler, err := newHandler(file, cfg.File)
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, file)
	}

	closeFn := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closeFn, nil
	case 1:
		return slog.New(handlers[0]), closeFn, nil
	default:
		return slog.New(fanoutHandler{handlers: handlers}), closeFn, nil
	}
}

// newHandler creates one slog handler for a sink.
// Params: dst sink writer; sink level/format options.
// Returns: handler or error on unknown level/format.
func newHandler(dst io.Writer, sink config.LogSinkConfig) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch sink.Format {
	case "json":
		return slog.NewJSONHandler(dst, opts), nil
	case "line", "":
		return slog.NewTextHandler(dst, opts), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", sink.Format)
	}
}

// parseLevel maps config level names to slog levels.
// Params: level lower-case name.
// Returns: slog level or error.
func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported level %q", level)
	}
}

// isTerminal reports whether file is attached to a character device.
// Params: file to inspect.
// Returns: true for interactive terminals.
func isTerminal(file *os.File) bool {
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

type fanoutHandler struct {
	handlers []slog.Handler
}

// Enabled reports whether any sink accepts level.
// Params: ctx request context; level record level.
// Returns: true when at least one handler is enabled.
func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards the record to every enabled sink.
// Params: ctx request context; record log record.
// Returns: joined sink errors.
func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithAttrs returns fanout over handlers with attrs attached.
// Params: attrs attributes to attach.
// Returns: derived handler.
func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		next = append(next, handler.WithAttrs(attrs))
	}
	return fanoutHandler{handlers: next}
}

// WithGroup returns fanout over handlers with group applied.
// Params: name group name.
// Returns: derived handler.
func (h fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		next = append(next, handler.WithGroup(name))
	}
	return fanoutHandler{handlers: next}
}

// colorLineWriter colors text-handler lines by level and value token type.
type colorLineWriter struct {
	dst io.Writer
}

// Write renders one log line with ANSI colors.
// Params: p one slog text line.
// Returns: len(p) and destination write error.
func (w *colorLineWriter) Write(p []byte) (int, error) {
	line := string(p)
	base := levelColor(line)
	if base == "" {
		if _, err := w.dst.Write(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	body := strings.TrimRight(line, "\n")
	newline := line[len(body):]

	var out strings.Builder
	out.Grow(len(line) + 32)
	out.WriteString(base)

	for cursor := 0; cursor < len(body); {
		eq := strings.IndexByte(body[cursor:], '=')
		if eq < 0 {
			out.WriteString(body[cursor:])
			break
		}
		out.WriteString(body[cursor : cursor+eq+1])
		cursor += eq + 1

		end := valueEnd(body, cursor)
		value := body[cursor:end]
		if color := tokenColor(value); color != "" {
			out.WriteString(color)
			out.WriteString(value)
			out.WriteString(ansiReset)
			out.WriteString(base)
		} else {
			out.WriteString(value)
		}
		cursor = end
	}

	out.WriteString(ansiReset)
	out.WriteString(newline)

	if _, err := io.WriteString(w.dst, out.String()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// levelColor selects the base color from the level attribute.
// Params: line rendered text line.
// Returns: ANSI color or empty string when level is unknown.
func levelColor(line string) string {
	switch {
	case strings.Contains(line, "level=ERROR"):
		return ansiRed
	case strings.Contains(line, "level=WARN"):
		return ansiMagenta
	case strings.Contains(line, "level=INFO"):
		return ansiBlue
	case strings.Contains(line, "level=DEBUG"):
		return ansiGray
	default:
		return ""
	}
}

// valueEnd finds the end of a value token starting at start.
// Params: body line text; start value offset.
// Returns: exclusive end offset.
func valueEnd(body string, start int) int {
	if start < len(body) && body[start] == '"' {
		for idx := start + 1; idx < len(body); idx++ {
			switch body[idx] {
			case '\\':
				idx++
			case '"':
				return idx + 1
			}
		}
		return len(body)
	}
	if space := strings.IndexByte(body[start:], ' '); space >= 0 {
		return start + space
	}
	return len(body)
}

// tokenColor classifies one value token.
// Params: value raw token text.
// Returns: ANSI color or empty string for plain tokens.
func tokenColor(value string) string {
	switch {
	case value == "":
		return ""
	case strings.HasPrefix(value, `"`):
		return ansiGreen
	case net.ParseIP(value) != nil:
		return ansiCyan
	default:
		if _, err := strconv.ParseFloat(value, 64); err == nil {
			return ansiYellow
		}
		return ""
	}
}
