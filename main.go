package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/subfusc/fawatch/config"
	"github.com/subfusc/fawatch/event_format"
	"github.com/subfusc/fawatch/fanotify_watcher"
	"github.com/subfusc/fawatch/sse"
	"golang.org/x/sync/errgroup"
)

var banner = `
#####  #####  #   #  #####  #####  #####  #   #
#      #   #  #   #  #   #    #    #      #   #
####   #####  # # #  #####    #    #      #####
#      #   #  ## ##  #   #    #    #      #   #
#      #   #  #   #  #   #    #    #####  #   #
`

var info = `
GOOS:      %s
Fanotify:  v%d
Mode:      %s
HTTP:      %t
HTTP Port: %d
`

type cli struct {
	Config       string   `help:"TOML configuration file." short:"f" default:"fawatch.toml" type:"path"`
	Mode         string   `help:"Kernel reporting mode, descriptor or handle. Handle mode adds create, delete and move events."`
	CurrentMount bool     `help:"Only watch the mount of the current directory." short:"c"`
	Output       string   `help:"Write events to this file instead of stdout." short:"o" type:"path"`
	Seconds      int      `help:"Stop after this many seconds." short:"s"`
	Timestamp    bool     `help:"Prefix every event with the time it was read." short:"t"`
	IgnorePid    []int32  `help:"Drop events of this pid. Repeatable." short:"p"`
	HTTP         bool     `help:"Serve /listen (server-sent events) and /metrics." name:"http"`
	Port         int      `help:"Port of the HTTP server."`
	Verbose      bool     `help:"Log at debug level." short:"v"`
	DumpConfig   bool     `help:"Print the effective configuration and exit."`
	Paths        []string `arg:"" optional:"" help:"Files or directories to watch instead of mounts." type:"path"`
}

// apply lays the flags that were given over the configuration file.
func (p *cli) apply(c *config.Config) {
	if p.Mode != "" {
		c.Monitor.Mode = p.Mode
	}
	if p.CurrentMount {
		c.Monitor.CurrentMount = true
		c.Watch = nil
	}
	if p.Output != "" {
		c.Output.File = p.Output
	}
	if p.Seconds > 0 {
		c.Output.Seconds = p.Seconds
	}
	if p.Timestamp {
		c.Output.Timestamps = true
	}
	c.Monitor.IgnorePids = append(c.Monitor.IgnorePids, p.IgnorePid...)
	if p.HTTP {
		c.HTTP.Enable = true
	}
	if p.Port > 0 {
		c.HTTP.Port = p.Port
	}
	if p.Verbose {
		c.Logger.Verbose = true
	}
	if len(p.Paths) > 0 {
		c.Watch = make([]config.WatchConf, 0, len(p.Paths))
		for _, path := range p.Paths {
			c.Watch = append(c.Watch, config.WatchConf{Path: path, Scope: "object"})
		}
	}
}

func bannerRandomColor() string {
	fgs := make([]Color, 7)
	for i := range fgs {
		fgs[i] = Color{byte(rand.Intn(256)), byte(rand.Intn(256)), byte(rand.Intn(256))}
	}

	var b strings.Builder
	col := 0
	for _, r := range banner {
		switch {
		case r == '\n':
			col = -1
			b.WriteRune(r)
		case r == '#' && col/7 < len(fgs):
			b.WriteString(Paint(string(r), fgs[col/7]))
		default:
			b.WriteRune(r)
		}
		col++
	}
	return b.String()
}

func checkSupport(c *config.Config) {
	if !fanotify_watcher.IsSupported() {
		fmt.Fprintln(os.Stderr, "Sorry, your system is currently not supported")
		os.Exit(1)
	}

	if c.Logger.Style == "terminal" {
		fmt.Fprint(os.Stderr, bannerRandomColor())
		fmt.Fprintf(os.Stderr, info, runtime.GOOS, fanotify_watcher.FanotifyVersion(), c.Monitor.Mode, c.HTTP.Enable, c.HTTP.Port)
	}
}

// watchTargets turns the configuration into marks. Discovered mounts are
// best effort, anything the user named must succeed.
func watchTargets(c *config.Config) ([]fanotify_watcher.WatchTarget, bool, error) {
	if len(c.Watch) > 0 {
		targets := make([]fanotify_watcher.WatchTarget, 0, len(c.Watch))
		for _, w := range c.Watch {
			scope, err := fanotify_watcher.ParseScope(w.Scope)
			if err != nil {
				return nil, false, err
			}
			targets = append(targets, fanotify_watcher.WatchTarget{Path: w.Path, Scope: scope})
		}
		return targets, false, nil
	}

	if c.Monitor.CurrentMount {
		wd, err := os.Getwd()
		if err != nil {
			return nil, false, fmt.Errorf("Unable to find Working Directory: [%w]", err)
		}
		t, err := fanotify_watcher.CurrentMount(wd)
		if err != nil {
			return nil, false, err
		}
		return []fanotify_watcher.WatchTarget{t}, false, nil
	}

	targets, err := fanotify_watcher.MonitoredMounts(c.Monitor.FsTypes...)
	if err != nil {
		return nil, false, err
	}
	if len(targets) == 0 {
		return nil, false, fmt.Errorf("No mounts of type %v found to monitor", c.Monitor.FsTypes)
	}
	return targets, true, nil
}

func run(cfg *config.Config, loggers *FawatchOutput) error {
	mainSlog := slog.New(loggers.Main)
	monitorSlog := slog.New(loggers.Monitor)

	mode, err := fanotify_watcher.ParseMode(cfg.Monitor.Mode)
	if err != nil {
		return err
	}

	targets, bestEffort, err := watchTargets(cfg)
	if err != nil {
		return err
	}

	h, err := fanotify_watcher.Open(mode, targets, fanotify_watcher.Options{
		DirEvents:  cfg.Monitor.DirEvents,
		BestEffort: bestEffort,
		Logger:     monitorSlog,
	})
	if err != nil {
		return err
	}
	defer h.Close()

	out := os.Stdout
	if cfg.Output.File != "" {
		f, err := os.OpenFile(cfg.Output.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("Unable to open output: [%w]", err)
		}
		defer f.Close()
		out = f
	}

	sinks := event_format.MultiSink{
		event_format.NewLineSink(out, event_format.Formatter{Timestamps: cfg.Output.Timestamps}),
	}

	var sseServer *sse.Server
	if cfg.HTTP.Enable {
		sseServer = sse.NewServer(cfg, slog.New(loggers.HTTP))
		sinks = append(sinks, sseServer)
	}

	fw := fanotify_watcher.NewFaNotifyWatcher(cfg, h, sinks, monitorSlog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Output.Seconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Output.Seconds)*time.Second)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return fw.Start(gctx)
	})
	if sseServer != nil {
		g.Go(sseServer.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		mainSlog.Info("Shutting down")
		fw.Close()
		if sseServer != nil {
			sseServer.Close()
		}
		return nil
	})

	return g.Wait()
}

func main() {
	var params cli
	kong.Parse(&params,
		kong.Name("fawatch"),
		kong.Description("Report which processes open, read, write, create, delete and move files."),
	)

	cfg, err := config.ReadConfig(params.Config)
	switch {
	case errors.Is(err, config.ConfigNotFound):
		cfg = config.DefaultConfig()
	case err != nil:
		fmt.Fprintf(os.Stderr, "Unable to read config: %v\n", err)
		os.Exit(1)
	}

	params.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config is not complete: %v\n", err)
		os.Exit(1)
	}

	if params.DumpConfig {
		if err := cfg.Write(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	checkSupport(cfg)

	loggers := loggerFromConfig(cfg)
	slog.SetDefault(slog.New(loggers.Main))

	if err := run(cfg, loggers); err != nil {
		slog.Error("fawatch stopped", "err", err)
		os.Exit(1)
	}
}
