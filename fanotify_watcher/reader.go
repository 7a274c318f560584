package fanotify_watcher

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultBufferSize holds hundreds of records. The largest single record is
// the metadata plus a FID and a DFID_NAME record with a NAME_MAX name, well
// under 1 KiB.
const DefaultBufferSize = 64 * 1024

// MinBufferSize is the smallest buffer ReadBatch accepts. A buffer that
// cannot hold the next record makes the kernel fail the read with EINVAL.
const MinBufferSize = 4096

// ReadBatch blocks until the kernel has at least one record and copies as
// many whole records as fit into buf. It never decodes.
func (h *MonitorHandle) ReadBatch(buf []byte) (int, error) {
	if len(buf) < MinBufferSize {
		return 0, fmt.Errorf("read buffer of %d bytes is below %d", len(buf), MinBufferSize)
	}

	n, err := h.events.Read(buf)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, os.ErrClosed), errors.Is(err, io.EOF):
		return 0, HandleClosed
	case errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN):
		return 0, fmt.Errorf("%w: [%w]", Interrupted, err)
	case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE), errors.Is(err, unix.ENOMEM):
		// The kernel could not create a descriptor for the next event and
		// dropped it.
		return 0, fmt.Errorf("%w: [%w]", ResourceExhausted, err)
	default:
		return 0, fmt.Errorf("Failed to read fanotify events: [%w]", err)
	}
}
