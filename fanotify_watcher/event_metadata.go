package fanotify_watcher

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"
)

type FanotifyEventMetadata unix.FanotifyEventMetadata

var sizeofFanotifyEventMetadata = int(unsafe.Sizeof(FanotifyEventMetadata{}))

// readMetadata decodes the fixed header at the start of buf. The caller
// guarantees len(buf) >= sizeofFanotifyEventMetadata.
func readMetadata(buf []byte) FanotifyEventMetadata {
	return FanotifyEventMetadata{
		Event_len:    binary.NativeEndian.Uint32(buf[0:4]),
		Vers:         buf[4],
		Reserved:     buf[5],
		Metadata_len: binary.NativeEndian.Uint16(buf[6:8]),
		Mask:         binary.NativeEndian.Uint64(buf[8:16]),
		Fd:           int32(binary.NativeEndian.Uint32(buf[16:20])),
		Pid:          int32(binary.NativeEndian.Uint32(buf[20:24])),
	}
}

var debugMaskNames = []struct {
	mask uint64
	name string
}{
	{unix.FAN_ACCESS, "ACCESS"},
	{unix.FAN_MODIFY, "MODIFY"},
	{unix.FAN_ATTRIB, "ATTRIB"},
	{unix.FAN_CLOSE_WRITE, "CLOSE_WRITE"},
	{unix.FAN_CLOSE_NOWRITE, "CLOSE_NOWRITE"},
	{unix.FAN_OPEN, "OPEN"},
	{unix.FAN_MOVED_FROM, "MOVED_FROM"},
	{unix.FAN_MOVED_TO, "MOVED_TO"},
	{unix.FAN_CREATE, "CREATE"},
	{unix.FAN_DELETE, "DELETE"},
	{unix.FAN_DELETE_SELF, "DELETE_SELF"},
	{unix.FAN_MOVE_SELF, "MOVE_SELF"},
	{unix.FAN_OPEN_EXEC, "OPEN_EXEC"},
	{unix.FAN_Q_OVERFLOW, "Q_OVERFLOW"},
	{unix.FAN_ONDIR, "ON_DIR"},
}

// MaskToDebugString names every known bit of the mask, lowest bit first.
func (fem FanotifyEventMetadata) MaskToDebugString() []string {
	rval := make([]string, 0, 2)
	for _, m := range debugMaskNames {
		if fem.Mask&m.mask != 0 {
			rval = append(rval, m.name)
		}
	}
	return rval
}
