package fanotify_watcher

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/subfusc/fawatch/event_format"
	"golang.org/x/sys/unix"
)

// record builds one fanotify event record the way the kernel lays it out.
func record(mask uint64, fd, pid int32, info ...[]byte) []byte {
	infoLen := 0
	for _, i := range info {
		infoLen += len(i)
	}

	buf := make([]byte, sizeofFanotifyEventMetadata, sizeofFanotifyEventMetadata+infoLen)
	binary.NativeEndian.PutUint32(buf[0:4], uint32(sizeofFanotifyEventMetadata+infoLen))
	buf[4] = unix.FANOTIFY_METADATA_VERSION
	binary.NativeEndian.PutUint16(buf[6:8], uint16(sizeofFanotifyEventMetadata))
	binary.NativeEndian.PutUint64(buf[8:16], mask)
	binary.NativeEndian.PutUint32(buf[16:20], uint32(fd))
	binary.NativeEndian.PutUint32(buf[20:24], uint32(pid))
	for _, i := range info {
		buf = append(buf, i...)
	}
	return buf
}

// fidInfo builds a FID, DFID or DFID_NAME info record, padded to 4 bytes.
func fidInfo(infoType uint8, fsid [2]int32, handleType int32, handle []byte, name string) []byte {
	l := sizeofFanotifyEventInfoHeader + sizeofFsid + sizeofFileHandleHeader + len(handle)
	if infoType == unix.FAN_EVENT_INFO_TYPE_DFID_NAME {
		l += len(name) + 1
	}
	l = (l + 3) &^ 3

	b := make([]byte, l)
	b[0] = infoType
	binary.NativeEndian.PutUint16(b[2:4], uint16(l))
	binary.NativeEndian.PutUint32(b[4:8], uint32(fsid[0]))
	binary.NativeEndian.PutUint32(b[8:12], uint32(fsid[1]))
	binary.NativeEndian.PutUint32(b[12:16], uint32(len(handle)))
	binary.NativeEndian.PutUint32(b[16:20], uint32(handleType))
	copy(b[20:], handle)
	copy(b[20+len(handle):], name)
	return b
}

func concat(records ...[]byte) []byte {
	var buf []byte
	for _, r := range records {
		buf = append(buf, r...)
	}
	return buf
}

func fdOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// openFd opens a fresh descriptor on path that the test hands to the decoder.
func openFd(t *testing.T, path string) int32 {
	t.Helper()
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	return int32(fd)
}

func tempFile(t *testing.T, name string) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("fawatch"), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func countFds(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("no procfs: %v", err)
	}
	return len(entries)
}

type fakeMounts struct {
	err error
	fd  int
}

func (fm fakeMounts) withMount(fsid unix.Fsid, fn func(mountFd int) error) error {
	if fm.err != nil {
		return fm.err
	}
	return fn(fm.fd)
}

type recordingSink struct {
	mu  sync.Mutex
	got []event_format.ResolvedEvent
	err error
}

func (rs *recordingSink) Emit(ev event_format.ResolvedEvent) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.got = append(rs.got, ev)
	return rs.err
}

func (rs *recordingSink) events() []event_format.ResolvedEvent {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]event_format.ResolvedEvent(nil), rs.got...)
}

// waitFor polls until cond holds for the recorded events.
func (rs *recordingSink) waitFor(t *testing.T, cond func([]event_format.ResolvedEvent) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond(rs.events()) {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, got %+v", rs.events())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func requireSysAdmin(t *testing.T) {
	t.Helper()
	if !CapabilitySysAdmin() {
		t.Skip("needs CAP_SYS_ADMIN")
	}
}
