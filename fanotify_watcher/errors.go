package fanotify_watcher

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Startup failures. No marks means no events, so all three are fatal.
var (
	PermissionDenied  = errors.New("permission denied")
	UnsupportedTarget = errors.New("unsupported target")
	ResourceExhausted = errors.New("resource exhausted")
)

// Read loop conditions.
var (
	Interrupted   = errors.New("read interrupted")
	QueueOverflow = errors.New("kernel event queue overflowed")
	HandleClosed  = errors.New("monitor handle closed")
)

// Per event conditions. These never stop the stream.
var (
	MalformedRecord = errors.New("malformed record")
	StaleHandle     = errors.New("stale file handle")
)

type MalformedRecordError struct {
	Offset int
	Length int
	Reason string
	// Resynced is false when the rest of the buffer had to be dropped.
	Resynced bool
}

func (e *MalformedRecordError) Error() string {
	action := "skipped"
	if !e.Resynced {
		action = "buffer abandoned"
	}
	return fmt.Sprintf("malformed record at offset %d (%d bytes, %s): %s", e.Offset, e.Length, action, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error {
	return MalformedRecord
}

// errnoClass maps a syscall error from fanotify_init/fanotify_mark to the
// startup taxonomy. Anything not obviously about privilege or capacity is
// blamed on the target.
func errnoClass(err error) error {
	switch {
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return PermissionDenied
	case errors.Is(err, unix.ENOSPC), errors.Is(err, unix.ENOMEM),
		errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE):
		return ResourceExhausted
	default:
		return UnsupportedTarget
	}
}
