package fanotify_watcher

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/subfusc/fawatch/event_format"
	"golang.org/x/sys/unix"
)

type Severity int

const (
	SeverityResolved Severity = iota
	// SeverityDeleted means the file was unlinked before it was resolved.
	SeverityDeleted
	// SeverityUnavailable means no path could be found at all.
	SeverityUnavailable
)

func (s Severity) String() string {
	switch s {
	case SeverityResolved:
		return "resolved"
	case SeverityDeleted:
		return "deleted"
	case SeverityUnavailable:
		return "unavailable"
	default:
		return "Severity(" + strconv.Itoa(int(s)) + ")"
	}
}

// Suffix the kernel adds to /proc/self/fd links of unlinked dentries.
const deletedSuffix = " (deleted)"

type mountTable interface {
	withMount(fsid unix.Fsid, fn func(mountFd int) error) error
}

type PathResolver struct {
	mounts mountTable
	procFd string
}

func NewPathResolver(h *MonitorHandle) *PathResolver {
	return &PathResolver{mounts: h, procFd: "/proc/self/fd"}
}

// Resolve turns the payload of ev into a path and releases the descriptor it
// carries. The returned path is always printable: failures degrade it to
// event_format.DeletedPath or event_format.UnknownPath, and cause says why.
func (pr *PathResolver) Resolve(ev RawEvent) (p string, sev Severity, cause error) {
	switch payload := ev.Payload.(type) {
	case *Descriptor:
		return pr.resolveDescriptor(payload)
	case *FileHandles:
		return pr.resolveHandles(payload)
	case NoFile:
		if payload.Errno != 0 {
			return event_format.UnknownPath, SeverityUnavailable, fmt.Errorf("kernel could not open the file: [%w]", payload.Errno)
		}
		return event_format.UnknownPath, SeverityUnavailable, nil
	default:
		return event_format.UnknownPath, SeverityUnavailable, fmt.Errorf("unknown payload %T", ev.Payload)
	}
}

func (pr *PathResolver) resolveDescriptor(d *Descriptor) (p string, sev Severity, cause error) {
	if d.Closed() {
		return event_format.UnknownPath, SeverityUnavailable, fmt.Errorf("descriptor %d already released: [%w]", d.Fd(), os.ErrClosed)
	}
	defer func() {
		if err := d.Close(); err != nil && cause == nil {
			cause = err
		}
	}()

	var st unix.Stat_t
	if err := unix.Fstat(d.Fd(), &st); err != nil {
		return event_format.UnknownPath, SeverityUnavailable, fmt.Errorf("fstat descriptor %d: [%w]", d.Fd(), err)
	}
	if st.Nlink == 0 {
		return event_format.DeletedPath, SeverityDeleted, nil
	}

	p, err := pr.readFdLink(d.Fd())
	if err != nil {
		return event_format.UnknownPath, SeverityUnavailable, err
	}
	if unlinkedName(p, &st) {
		return event_format.DeletedPath, SeverityDeleted, nil
	}
	return p, SeverityResolved, nil
}

// unlinkedName reports whether p is the kernel's name for a dentry that was
// unlinked after the file was opened. The inode may still have other links,
// so nlink alone cannot tell. A file really named "x (deleted)" still stats
// to the same inode.
func unlinkedName(p string, st *unix.Stat_t) bool {
	if !strings.HasSuffix(p, deletedSuffix) {
		return false
	}
	var cur unix.Stat_t
	if err := unix.Stat(p, &cur); err != nil {
		return true
	}
	return cur.Dev != st.Dev || cur.Ino != st.Ino
}

func (pr *PathResolver) resolveHandles(fh *FileHandles) (string, Severity, error) {
	var causes []error

	if fh.Dir != nil {
		dir, err := pr.openHandle(fh.Dir)
		if err == nil {
			if fh.Name == "" || fh.Name == "." {
				return dir, SeverityResolved, nil
			}
			return path.Join(dir, fh.Name), SeverityResolved, nil
		}
		causes = append(causes, err)
	}

	if fh.Object != nil {
		obj, err := pr.openHandle(fh.Object)
		if err == nil {
			return obj, SeverityResolved, nil
		}
		causes = append(causes, err)
	}

	return event_format.UnknownPath, SeverityUnavailable, errors.Join(causes...)
}

func (pr *PathResolver) openHandle(id *FileID) (string, error) {
	var p string
	err := pr.mounts.withMount(id.Fsid, func(mountFd int) error {
		fd, err := unix.OpenByHandleAt(mountFd, id.Handle, unix.O_PATH|unix.O_CLOEXEC)
		switch {
		case errors.Is(err, unix.ESTALE), errors.Is(err, unix.ENOENT):
			return fmt.Errorf("open by handle: %w: [%w]", StaleHandle, err)
		case err != nil:
			return fmt.Errorf("open by handle: [%w]", err)
		}
		defer unix.Close(fd)

		p, err = pr.readFdLink(fd)
		return err
	})
	return p, err
}

func (pr *PathResolver) readFdLink(fd int) (string, error) {
	p, err := os.Readlink(pr.procFd + "/" + strconv.Itoa(fd))
	if err != nil {
		return "", fmt.Errorf("Unable to read link of descriptor %d: [%w]", fd, err)
	}
	return p, nil
}
