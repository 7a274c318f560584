// Package process_identity names the process behind an event. Names are
// looked up when asked and never cached, since pids are reused.
package process_identity

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// Unknown is returned by Name when the process cannot be looked up,
// usually because it exited before its event was read.
const Unknown = "unknown"

// Lookup returns the command name of pid. ok is false when there is no such
// process (any more) or pid is not a real process id.
func Lookup(ctx context.Context, pid int32) (name string, ok bool) {
	if pid <= 0 {
		return "", false
	}

	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", false
	}

	name, err = p.NameWithContext(ctx)
	if err != nil {
		return "", false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	return name, true
}

func Name(ctx context.Context, pid int32) string {
	if name, ok := Lookup(ctx, pid); ok {
		return name
	}
	return Unknown
}
