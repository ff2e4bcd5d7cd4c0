package raft

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// newLogger returns an hclog logger for raft whose records are re-emitted
// through logger, so raft follows the process log level and format.
func newLogger(logger *slog.Logger) hclog.Logger {
	level := hclog.Warn
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "raft",
		Level:      level,
		Output:     slogWriter{logger: logger},
		JSONFormat: true,
	})
}

// slogWriter receives hclog JSON lines.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var fields map[string]any
		if err := json.Unmarshal(line, &fields); err != nil {
			w.logger.Info(string(line))
			continue
		}

		msg, _ := fields["@message"].(string)
		lvl, _ := fields["@level"].(string)

		var attrs []any
		if module, ok := fields["@module"].(string); ok {
			attrs = append(attrs, "module", module)
		}
		names := make([]string, 0, len(fields))
		for k := range fields {
			if !strings.HasPrefix(k, "@") {
				names = append(names, k)
			}
		}
		sort.Strings(names)
		for _, k := range names {
			attrs = append(attrs, k, fields[k])
		}

		w.logger.Log(context.Background(), toSlogLevel(lvl), msg, attrs...)
	}
	return len(p), nil
}

func toSlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
