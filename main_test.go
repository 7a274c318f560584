package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/subfusc/fawatch/config"
	"github.com/subfusc/fawatch/fanotify_watcher"
)

func TestApplyFlags(t *testing.T) {
	c := config.DefaultConfig()
	c.Watch = []config.WatchConf{{Path: "/from/file", Scope: "mount"}}

	p := cli{
		Mode:      "handle",
		Output:    "/tmp/out",
		Seconds:   3,
		Timestamp: true,
		IgnorePid: []int32{5, 6},
		HTTP:      true,
		Port:      9000,
		Paths:     []string{"/a", "/b"},
	}
	p.apply(c)

	want := config.DefaultConfig()
	want.Monitor.Mode = "handle"
	want.Monitor.IgnorePids = []int32{5, 6}
	want.Watch = []config.WatchConf{{Path: "/a", Scope: "object"}, {Path: "/b", Scope: "object"}}
	want.Output = config.OutputConf{File: "/tmp/out", Timestamps: true, Seconds: 3}
	want.HTTP = config.HTTPConf{Enable: true, Port: 9000}

	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("apply() mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyNoFlagsKeepsConfig(t *testing.T) {
	c := config.DefaultConfig()
	c.Watch = []config.WatchConf{{Path: "/srv", Scope: "filesystem"}}
	want := config.DefaultConfig()
	want.Watch = []config.WatchConf{{Path: "/srv", Scope: "filesystem"}}

	(&cli{}).apply(c)
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("apply() changed the config (-want +got):\n%s", diff)
	}
}

func TestWatchTargetsFromConfig(t *testing.T) {
	c := config.DefaultConfig()
	c.Watch = []config.WatchConf{{Path: "/srv", Scope: "filesystem"}, {Path: "/etc/passwd"}}

	targets, bestEffort, err := watchTargets(c)
	if err != nil {
		t.Fatal(err)
	}
	want := []fanotify_watcher.WatchTarget{
		{Path: "/srv", Scope: fanotify_watcher.ScopeFilesystem},
		{Path: "/etc/passwd", Scope: fanotify_watcher.ScopeObject},
	}
	if diff := cmp.Diff(want, targets); diff != "" {
		t.Errorf("watchTargets() mismatch (-want +got):\n%s", diff)
	}
	if bestEffort {
		t.Error("explicit targets must not be best effort")
	}

	c.Watch = []config.WatchConf{{Path: "/srv", Scope: "galaxy"}}
	if _, _, err := watchTargets(c); err == nil {
		t.Error("unknown scope should fail")
	}
}

func TestTerminalLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTerminalLoggerWithName(&buf, slog.LevelInfo, "Mon", Color{0, 0, 0}, Color{0, 0, 255}))

	logger.Debug("hidden")
	logger.With("mode", "handle").Info("Watching", "target", "object:/tmp")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug record written at info level")
	}
	for _, want := range []string{"Mon", "Watching", "mode=handle", "target=object:/tmp", ansiReset} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q lacks %q", out, want)
		}
	}
	if n := strings.Count(out, "\n"); n != 1 {
		t.Errorf("got %d lines, want 1", n)
	}
}

func TestBannerKeepsShape(t *testing.T) {
	b := bannerRandomColor()
	if got, want := strings.Count(b, "\n"), strings.Count(banner, "\n"); got != want {
		t.Errorf("banner has %d lines, want %d", got, want)
	}
	if got, want := strings.Count(b, ansiReset), strings.Count(banner, "#"); got != want {
		t.Errorf("banner has %d painted cells, want %d", got, want)
	}
}
