package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/subfusc/fawatch/config"
)

// FawatchOutput holds one log handler per stream. Logs go to stderr because
// stdout carries the event lines.
type FawatchOutput struct {
	Main    slog.Handler
	Monitor slog.Handler
	HTTP    slog.Handler
}

func FancyFawatchLogger(out io.Writer, mainLevel, monitorLevel, httpLevel slog.Level) *FawatchOutput {
	return &FawatchOutput{
		Main:    NewTerminalLoggerWithName(out, mainLevel, "Mn ", Color{255, 255, 255}, Color{200, 30, 30}),
		Monitor: NewTerminalLoggerWithName(out, monitorLevel, "Mon", Color{0, 0, 0}, Color{0, 0, 255}),
		HTTP:    NewTerminalLoggerWithName(out, httpLevel, "Web", Color{0, 0, 0}, Color{255, 0, 0}),
	}
}

func UnfancyFawatchLogger(out io.Writer, mainLevel, monitorLevel, httpLevel slog.Level) *FawatchOutput {
	return &FawatchOutput{
		Main:    slog.NewTextHandler(out, &slog.HandlerOptions{AddSource: false, Level: mainLevel}).WithAttrs([]slog.Attr{slog.String("stream", "main")}),
		Monitor: slog.NewTextHandler(out, &slog.HandlerOptions{AddSource: false, Level: monitorLevel}).WithAttrs([]slog.Attr{slog.String("stream", "monitor")}),
		HTTP:    slog.NewTextHandler(out, &slog.HandlerOptions{AddSource: false, Level: httpLevel}).WithAttrs([]slog.Attr{slog.String("stream", "http")}),
	}
}

func loggerFromConfig(c *config.Config) *FawatchOutput {
	levels := []slog.Level{slog.LevelInfo, slog.LevelInfo, slog.LevelWarn}
	if c.Logger.Verbose {
		levels = []slog.Level{slog.LevelDebug, slog.LevelDebug, slog.LevelDebug}
	}
	if c.Logger.Style == "terminal" {
		return FancyFawatchLogger(os.Stderr, levels[0], levels[1], levels[2])
	}

	return UnfancyFawatchLogger(os.Stderr, levels[0], levels[1], levels[2])
}

type TerminalLogger struct {
	streamName string
	level      slog.Level
	attrs      []slog.Attr
	out        io.Writer
}

// All terminal loggers write to the same stream, so they share one lock.
var terminalMu sync.Mutex

func NewTerminalLoggerWithName(out io.Writer, level slog.Level, name string, fg Color, bg Color) *TerminalLogger {
	logger := NewTerminalLogger(out, level)
	logger.WithStreamName(name, fg, bg)
	return logger
}

func NewTerminalLogger(out io.Writer, level slog.Level) *TerminalLogger {
	return &TerminalLogger{
		level: level,
		out:   out,
	}
}

func (tl *TerminalLogger) lvlFormat(lvl slog.Level) (string, string) {
	cb := NewAnsiColorBuilder(lvl.String())
	arrow := NewAnsiColorBuilder("▶")
	switch lvl {
	case slog.LevelDebug:
		cb.Colorize(Color{0, 0, 0}, Color{255, 255, 255})
		arrow.Fg(Color{255, 255, 255})
	case slog.LevelInfo:
		cb.Colorize(Color{255, 255, 255}, Color{0, 0, 255})
		arrow.Fg(Color{0, 0, 255})
	case slog.LevelWarn:
		cb.Colorize(Color{0, 0, 0}, Color{255, 255, 0})
		arrow.Fg(Color{255, 255, 0})
	case slog.LevelError:
		cb.Colorize(Color{255, 255, 255}, Color{255, 0, 0})
		arrow.Fg(Color{255, 0, 0})
	default:
		cb.Colorize(Color{255, 255, 255}, Color{102, 51, 0})
		arrow.Fg(Color{102, 51, 0})
	}
	return cb.String(), arrow.String()
}

func (tl *TerminalLogger) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= tl.level
}

func (tl *TerminalLogger) Handle(ctx context.Context, r slog.Record) error {
	buf := bytes.NewBuffer(nil)
	ti := " " + r.Time.Format(time.DateTime+".000") + " "
	lvl, arr := tl.lvlFormat(r.Level)
	fmt.Fprintf(buf, "%s%s%s%s %s [", tl.streamName, ti, lvl, arr, r.Message)

	i := 0
	writeAttr := func(a slog.Attr) bool {
		if i > 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprintf(buf, "%s=%s", a.Key, a.Value)
		i++
		return true
	}
	for _, a := range tl.attrs {
		writeAttr(a)
	}
	r.Attrs(writeAttr)
	fmt.Fprintln(buf, "]")

	terminalMu.Lock()
	defer terminalMu.Unlock()
	n, err := tl.out.Write(buf.Bytes())
	if err != nil {
		return err
	}
	if n != buf.Len() {
		return fmt.Errorf("TerminalLogger: Unable to write entire buffer to out")
	}
	return nil
}

func (tl *TerminalLogger) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *tl
	cp.attrs = append(append([]slog.Attr{}, tl.attrs...), attrs...)
	return &cp
}

func (tl *TerminalLogger) WithGroup(name string) slog.Handler {
	// Not supported yet
	return tl
}

func (tl *TerminalLogger) WithStreamName(name string, fg Color, bg Color) {
	cb := NewAnsiColorBuilder(name)
	cb.Colorize(fg, bg)
	tl.streamName = cb.String()
}
