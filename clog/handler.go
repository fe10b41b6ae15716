package clog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// clogHandler 封装 slog.Handler，提供动态级别和 Flush 能力
type clogHandler struct {
	slog.Handler
	levelVar *slog.LevelVar
	out      io.Writer
}

func newHandler(config *Config, o *options) (*clogHandler, error) {
	w := o.writer
	if w == nil {
		var err error
		if w, err = resolveWriter(config.Output); err != nil {
			return nil, err
		}
	}

	level, _ := ParseLevel(config.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level.slogLevel())

	opts := &slog.HandlerOptions{
		AddSource:   config.AddSource,
		Level:       levelVar,
		ReplaceAttr: newReplaceAttr(config.SourceRoot),
	}

	var h slog.Handler
	if strings.EqualFold(config.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &clogHandler{Handler: h, levelVar: levelVar, out: w}, nil
}

func resolveWriter(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output %s: %w", output, err)
		}
		return f, nil
	}
}

func (h *clogHandler) flush() {
	if s, ok := h.out.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

// newReplaceAttr 统一 level 文本、时间格式，并把 source 压缩为 caller=file:line
func newReplaceAttr(sourceRoot string) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.LevelKey:
			if lv, ok := a.Value.Any().(slog.Level); ok {
				a.Value = slog.StringValue(levelText(lv))
			}
		case slog.TimeKey:
			if a.Value.Kind() == slog.KindTime {
				a.Value = slog.StringValue(a.Value.Time().Format(timeFormat))
			}
		case slog.SourceKey:
			if src, ok := a.Value.Any().(*slog.Source); ok {
				return slog.String("caller", fmt.Sprintf("%s:%d", trimSourcePath(src.File, sourceRoot), src.Line))
			}
		}
		return a
	}
}

func levelText(lv slog.Level) string {
	switch {
	case lv <= slog.LevelDebug:
		return "DEBUG"
	case lv <= slog.LevelInfo:
		return "INFO"
	case lv <= slog.LevelWarn:
		return "WARN"
	case lv <= slog.LevelError:
		return "ERROR"
	default:
		return "FATAL"
	}
}

func trimSourcePath(file, root string) string {
	if root != "" {
		if rel, err := filepath.Rel(root, file); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	if idx := strings.Index(file, "fieldops/"); idx != -1 {
		return file[idx+len("fieldops/"):]
	}
	return filepath.Base(file)
}
