package logger

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"

	"github.com/fatih/color"
)

type HandlerOptions struct {
	SlogOpts slog.HandlerOptions
}

// Handler is a human-friendly console handler: colored level, compact
// timestamp, and attrs pretty-printed as JSON.
type Handler struct {
	slog.Handler
	l *log.Logger
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String() + ":"
	switch r.Level {
	case slog.LevelDebug:
		level = color.WhiteString(level)
	case slog.LevelInfo:
		level = color.GreenString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	default:
		// Unrecognized level.
		level = color.HiWhiteString(level)
	}
	timeStr := r.Time.Format("[15:04:05]")
	message := color.HiWhiteString(r.Message)
	if r.NumAttrs() == 0 {
		h.l.Println(timeStr, level, message)
		return nil
	}
	fields := make(map[string]interface{}, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})
	j, err := json.MarshalIndent(fields, "", " ")
	if err != nil {
		return err
	}
	h.l.Println(timeStr, level, message, color.WhiteString(string(j)))
	return nil
}

func NewHandler(out io.Writer, opts HandlerOptions) *Handler {
	return &Handler{
		Handler: slog.NewJSONHandler(out, &opts.SlogOpts),
		l:       log.New(out, "", 0),
	}
}
