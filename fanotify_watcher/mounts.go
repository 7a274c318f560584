package fanotify_watcher

import (
	"fmt"
	"path/filepath"

	"github.com/moby/sys/mountinfo"
)

// MonitoredMounts lists the mount points whose filesystem type is one of
// fsTypes, as mount scoped targets. A mount point shadowed by a later mount
// on the same path is listed once.
func MonitoredMounts(fsTypes ...string) ([]WatchTarget, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.FSTypeFilter(fsTypes...))
	if err != nil {
		return nil, fmt.Errorf("Unable to read mount table: [%w]", err)
	}

	seen := make(map[string]struct{}, len(mounts))
	targets := make([]WatchTarget, 0, len(mounts))
	for _, m := range mounts {
		if _, ok := seen[m.Mountpoint]; ok {
			continue
		}
		seen[m.Mountpoint] = struct{}{}
		targets = append(targets, WatchTarget{Path: m.Mountpoint, Scope: ScopeMount})
	}
	return targets, nil
}

// CurrentMount returns the mount that contains dir.
func CurrentMount(dir string) (WatchTarget, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return WatchTarget{}, fmt.Errorf("Unable to resolve %s: [%w]", dir, err)
	}

	mounts, err := mountinfo.GetMounts(mountinfo.ParentsFilter(abs))
	if err != nil {
		return WatchTarget{}, fmt.Errorf("Unable to read mount table: [%w]", err)
	}

	// The deepest parent is the mount dir lives on.
	best := ""
	for _, m := range mounts {
		if len(m.Mountpoint) > len(best) {
			best = m.Mountpoint
		}
	}
	if best == "" {
		return WatchTarget{}, fmt.Errorf("No mount contains %s: [%w]", abs, UnsupportedTarget)
	}
	return WatchTarget{Path: best, Scope: ScopeMount}, nil
}
