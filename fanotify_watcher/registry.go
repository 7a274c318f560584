package fanotify_watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

type Mode int

const (
	// ModeDescriptor gets an open descriptor with every event. Only access
	// events are available.
	ModeDescriptor Mode = iota
	// ModeFileHandle gets file handles (FAN_REPORT_FID|FAN_REPORT_DFID_NAME)
	// and adds create, delete and move events.
	ModeFileHandle
)

func (m Mode) String() string {
	switch m {
	case ModeDescriptor:
		return "descriptor"
	case ModeFileHandle:
		return "handle"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "descriptor", "fd":
		return ModeDescriptor, nil
	case "handle", "fid":
		return ModeFileHandle, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

type Scope int

const (
	ScopeObject Scope = iota
	ScopeMount
	ScopeFilesystem
)

func (s Scope) String() string {
	switch s {
	case ScopeObject:
		return "object"
	case ScopeMount:
		return "mount"
	case ScopeFilesystem:
		return "filesystem"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(s) {
	case "", "object", "path":
		return ScopeObject, nil
	case "mount":
		return ScopeMount, nil
	case "filesystem", "fs":
		return ScopeFilesystem, nil
	default:
		return 0, fmt.Errorf("unknown scope %q", s)
	}
}

type WatchTarget struct {
	Path  string
	Scope Scope
}

func (t WatchTarget) String() string {
	return fmt.Sprintf("%s:%s", t.Scope, t.Path)
}

type Options struct {
	// DirEvents adds FAN_ONDIR so directories are reported as well.
	DirEvents bool
	// BestEffort logs and skips targets that fail to mark. Open still fails
	// when no target could be marked.
	BestEffort bool
	Logger     *slog.Logger

	skipPrivilegeCheck bool
}

// MonitorHandle is the fanotify group of this process together with the
// marks put on it. In file handle mode it also keeps one directory descriptor
// per watched filesystem, which open_by_handle_at needs.
type MonitorHandle struct {
	mode   Mode
	fanFd  int
	events *os.File
	mask   uint64
	logger *slog.Logger

	skipPrivilegeCheck bool
	marks              map[WatchTarget]struct{}
	openDir            func(dir string) (int, error)

	mu     sync.RWMutex
	mounts map[unix.Fsid]int
	closed bool

	closeOnce sync.Once
	closeErr  error
}

func initFlags(mode Mode) uint {
	// FAN_NONBLOCK lets os.File park reads on the runtime poller, so Close
	// from another goroutine wakes a pending read.
	flags := uint(unix.FAN_CLASS_NOTIF | unix.FAN_CLOEXEC | unix.FAN_NONBLOCK)
	if mode == ModeFileHandle {
		flags |= unix.FAN_REPORT_FID | unix.FAN_REPORT_DFID_NAME
	}
	return flags
}

func eventMask(mode Mode, dirEvents bool) uint64 {
	mask := uint64(ACCESS_EVENTS)
	if mode == ModeFileHandle {
		mask |= DIRENT_EVENTS
	}
	if dirEvents {
		mask |= unix.FAN_ONDIR
	}
	return mask
}

// Open creates the fanotify group and marks every target. The returned
// handle must be closed by the caller.
func Open(mode Mode, targets []WatchTarget, opts Options) (*MonitorHandle, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fd, err := unix.FanotifyInit(initFlags(mode), unix.O_RDONLY|unix.O_LARGEFILE|unix.O_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("Failed to init fanotify in %s mode (%w): [%w]", mode, errnoClass(err), err)
	}

	h := &MonitorHandle{
		mode:               mode,
		fanFd:              fd,
		events:             os.NewFile(uintptr(fd), "fanotify"),
		mask:               eventMask(mode, opts.DirEvents),
		logger:             logger,
		skipPrivilegeCheck: opts.skipPrivilegeCheck,
		marks:              make(map[WatchTarget]struct{}),
		openDir:            openDirectory,
		mounts:             make(map[unix.Fsid]int),
	}

	for _, t := range targets {
		if err := h.Mark(t); err != nil {
			if !opts.BestEffort {
				h.Close()
				return nil, err
			}
			logger.Warn("Skipping target", "target", t, "err", err)
		}
	}

	if len(h.marks) == 0 {
		h.Close()
		return nil, fmt.Errorf("No target could be marked: [%w]", UnsupportedTarget)
	}

	if mode == ModeFileHandle && !h.skipPrivilegeCheck && !CapabilityDacReadSearch() {
		logger.Warn("Missing CAP_DAC_READ_SEARCH, file handles cannot be resolved to paths")
	}

	return h, nil
}

func (h *MonitorHandle) Mode() Mode {
	return h.mode
}

// Marks returns the registered targets.
func (h *MonitorHandle) Marks() []WatchTarget {
	rval := make([]WatchTarget, 0, len(h.marks))
	for t := range h.marks {
		rval = append(rval, t)
	}
	return rval
}

// Mark registers one target. Marking a target that is already registered is a
// no-op.
func (h *MonitorHandle) Mark(t WatchTarget) error {
	abs, err := filepath.Abs(t.Path)
	if err != nil {
		return fmt.Errorf("Unable to resolve %s (%w): [%w]", t.Path, UnsupportedTarget, err)
	}
	t.Path = abs

	if _, seen := h.marks[t]; seen {
		h.logger.Debug("Target already marked", "target", t)
		return nil
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("Unable to watch %s (%w): [%w]", abs, UnsupportedTarget, err)
	}

	flags := uint(unix.FAN_MARK_ADD)
	mask := h.mask

	switch t.Scope {
	case ScopeObject:
		if fi.IsDir() {
			mask |= unix.FAN_EVENT_ON_CHILD
		} else {
			// The kernel refuses directory entry events on non directories.
			mask &^= DIRENT_EVENTS | unix.FAN_ONDIR
		}
	case ScopeMount:
		mounted, err := mountinfo.Mounted(abs)
		if err != nil {
			return fmt.Errorf("Unable to check mount %s (%w): [%w]", abs, UnsupportedTarget, err)
		}
		if !mounted {
			return fmt.Errorf("%s is not a mount point: [%w]", abs, UnsupportedTarget)
		}
		if h.mode == ModeFileHandle {
			// Mount marks cannot carry directory entry events.
			flags |= unix.FAN_MARK_FILESYSTEM
		} else {
			flags |= unix.FAN_MARK_MOUNT
		}
	case ScopeFilesystem:
		flags |= unix.FAN_MARK_FILESYSTEM
	default:
		return fmt.Errorf("Unknown scope %v: [%w]", t.Scope, UnsupportedTarget)
	}

	if t.Scope != ScopeObject && !h.skipPrivilegeCheck && !CapabilitySysAdmin() {
		return fmt.Errorf("%s marks need CAP_SYS_ADMIN: [%w]", t.Scope, PermissionDenied)
	}

	// No kernel mark without a mount descriptor to open its handles.
	if h.mode == ModeFileHandle {
		dir := abs
		if !fi.IsDir() {
			dir = filepath.Dir(abs)
		}
		if err := h.addMount(dir); err != nil {
			return err
		}
	}

	if err := unix.FanotifyMark(h.fanFd, flags, mask, unix.AT_FDCWD, abs); err != nil {
		return fmt.Errorf("Unable to mark %s (%w): [%w]", t, errnoClass(err), err)
	}

	h.marks[t] = struct{}{}
	h.logger.Info("Watching", "target", t, "mask", FanotifyEventMetadata{Mask: mask}.MaskToDebugString())
	return nil
}

func openDirectory(dir string) (int, error) {
	return unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
}

// addMount keeps a descriptor on the filesystem of dir, keyed by its fsid,
// unless one is already held.
func (h *MonitorHandle) addMount(dir string) error {
	fd, err := h.openDir(dir)
	if err != nil {
		return fmt.Errorf("Unable to open %s (%w): [%w]", dir, errnoClass(err), err)
	}

	var st unix.Statfs_t
	if err := unix.Fstatfs(fd, &st); err != nil {
		unix.Close(fd)
		return fmt.Errorf("Unable to statfs %s (%w): [%w]", dir, UnsupportedTarget, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.mounts[st.Fsid]; ok {
		unix.Close(fd)
		return nil
	}
	h.mounts[st.Fsid] = fd
	return nil
}

// withMount runs fn with the descriptor of the filesystem identified by fsid.
// The descriptor stays valid for the duration of fn even if Close runs
// concurrently.
func (h *MonitorHandle) withMount(fsid unix.Fsid, fn func(mountFd int) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return HandleClosed
	}
	fd, ok := h.mounts[fsid]
	if !ok {
		return fmt.Errorf("no watched filesystem with fsid %v: [%w]", fsid.Val, StaleHandle)
	}
	return fn(fd)
}

// Close releases the fanotify group, its marks and the mount descriptors. It
// is safe to call from another goroutine while ReadBatch is blocked, and
// safe to call more than once.
func (h *MonitorHandle) Close() error {
	h.closeOnce.Do(func() {
		errs := []error{h.events.Close()}

		h.mu.Lock()
		h.closed = true
		for fsid, fd := range h.mounts {
			errs = append(errs, unix.Close(fd))
			delete(h.mounts, fsid)
		}
		h.mu.Unlock()

		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}
