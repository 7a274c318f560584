package fanotify_watcher

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const (
	OPEN          = unix.FAN_OPEN
	OPEN_EXEC     = unix.FAN_OPEN_EXEC
	ACCESS        = unix.FAN_ACCESS
	MODIFY        = unix.FAN_MODIFY
	CLOSE_WRITE   = unix.FAN_CLOSE_WRITE
	CLOSE_NOWRITE = unix.FAN_CLOSE_NOWRITE
	CREATE        = unix.FAN_CREATE
	DELETE        = unix.FAN_DELETE
	MOVED_FROM    = unix.FAN_MOVED_FROM
	MOVED_TO      = unix.FAN_MOVED_TO
	Q_OVERFLOW    = unix.FAN_Q_OVERFLOW

	// Events every mode can report with a descriptor attached.
	ACCESS_EVENTS = OPEN | OPEN_EXEC | ACCESS | MODIFY | CLOSE_WRITE | CLOSE_NOWRITE
	// Directory entry events need FAN_REPORT_FID and cannot be put on mount marks.
	DIRENT_EVENTS = CREATE | DELETE | MOVED_FROM | MOVED_TO
)

// RawEvent is one decoded record. It owns the descriptor in its payload, if
// any, until a PathResolver resolves it or Close is called.
type RawEvent struct {
	Mask    uint64
	Pid     int32
	Payload Payload
}

func (e RawEvent) Overflow() bool {
	return e.Mask&Q_OVERFLOW != 0
}

// Close releases the descriptor of an event that will not be resolved.
func (e RawEvent) Close() error {
	if d, ok := e.Payload.(*Descriptor); ok {
		return d.Close()
	}
	return nil
}

// Payload is one of *Descriptor, *FileHandles or NoFile.
type Payload interface {
	payload()
}

type Descriptor struct {
	fd     int
	closed atomic.Bool
}

func NewDescriptor(fd int) *Descriptor {
	return &Descriptor{fd: fd}
}

func (d *Descriptor) Fd() int {
	return d.fd
}

func (d *Descriptor) Closed() bool {
	return d.closed.Load()
}

// Close closes the descriptor the first time it is called. Later calls return
// an error wrapping os.ErrClosed and never touch the fd number again, since it
// may already belong to someone else.
func (d *Descriptor) Close() error {
	if d.closed.Swap(true) {
		return fmt.Errorf("descriptor %d: [%w]", d.fd, os.ErrClosed)
	}
	return unix.Close(d.fd)
}

func (*Descriptor) payload() {}

// FileID is a filesystem specific reference to an inode.
type FileID struct {
	Fsid   unix.Fsid
	Handle unix.FileHandle
}

// FileHandles is the payload of FAN_REPORT_FID mode. Dir and Name come from a
// DFID_NAME record, Object from a FID record. At least one is set.
type FileHandles struct {
	Dir    *FileID
	Name   string
	Object *FileID
}

func (*FileHandles) payload() {}

// NoFile is the payload of records that do not identify a file: queue
// overflows, or events whose descriptor the kernel failed to create.
type NoFile struct {
	// Errno is set when the kernel reported a descriptor creation error
	// instead of a descriptor.
	Errno unix.Errno
}

func (NoFile) payload() {}
