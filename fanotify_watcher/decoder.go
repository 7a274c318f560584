package fanotify_watcher

import (
	"fmt"
	"iter"

	"golang.org/x/sys/unix"
)

// Decode walks a buffer filled by ReadBatch and yields its records in the
// order the kernel wrote them. A record is trusted only as far as its
// event_len: when that is out of range there is no way to find the next
// header, so a *MalformedRecordError is yielded and the rest of the buffer is
// dropped. Records with a usable length but bad content are reported and
// skipped, and their descriptor is closed.
//
// Descriptors of records that were never yielded because the consumer stopped
// early are closed before Decode returns.
func Decode(buf []byte) iter.Seq2[RawEvent, error] {
	return func(yield func(RawEvent, error) bool) {
		off := 0
		for off < len(buf) {
			rest := buf[off:]
			if len(rest) < sizeofFanotifyEventMetadata {
				yield(RawEvent{}, &MalformedRecordError{
					Offset: off,
					Length: len(rest),
					Reason: fmt.Sprintf("%d trailing bytes, shorter than a metadata header", len(rest)),
				})
				return
			}

			meta := readMetadata(rest)
			if int(meta.Event_len) < sizeofFanotifyEventMetadata || int(meta.Event_len) > len(rest) {
				yield(RawEvent{}, &MalformedRecordError{
					Offset: off,
					Length: len(rest),
					Reason: fmt.Sprintf("event_len %d outside [%d, %d]", meta.Event_len, sizeofFanotifyEventMetadata, len(rest)),
				})
				return
			}

			rec := rest[:meta.Event_len]
			start := off
			off += int(meta.Event_len)

			ev, err := decodeRecord(rec, meta)
			if err != nil {
				// An unknown version may not keep fd where we look for it.
				if meta.Vers == unix.FANOTIFY_METADATA_VERSION {
					closeFd(meta.Fd)
				}
				err = &MalformedRecordError{Offset: start, Length: len(rec), Reason: err.Error(), Resynced: true}
				if !yield(RawEvent{}, err) {
					closeRemaining(buf[off:])
					return
				}
				continue
			}

			if !yield(ev, nil) {
				closeRemaining(buf[off:])
				return
			}
		}
	}
}

func decodeRecord(rec []byte, meta FanotifyEventMetadata) (RawEvent, error) {
	if meta.Vers != unix.FANOTIFY_METADATA_VERSION {
		return RawEvent{}, fmt.Errorf("metadata version %d, expected %d", meta.Vers, unix.FANOTIFY_METADATA_VERSION)
	}
	if int(meta.Metadata_len) < sizeofFanotifyEventMetadata || int(meta.Metadata_len) > len(rec) {
		return RawEvent{}, fmt.Errorf("metadata_len %d outside [%d, %d]", meta.Metadata_len, sizeofFanotifyEventMetadata, len(rec))
	}

	ev := RawEvent{Mask: meta.Mask, Pid: meta.Pid}

	if meta.Fd >= 0 {
		ev.Payload = NewDescriptor(int(meta.Fd))
		return ev, nil
	}

	handles, err := decodeEventInfo(rec[meta.Metadata_len:])
	if err != nil {
		return RawEvent{}, err
	}

	switch {
	case handles != nil:
		ev.Payload = handles
	case meta.Fd == unix.FAN_NOFD:
		ev.Payload = NoFile{}
	default:
		// FAN_REPORT_FD_ERROR puts -errno in place of the descriptor.
		ev.Payload = NoFile{Errno: unix.Errno(-meta.Fd)}
	}
	return ev, nil
}

// decodeEventInfo walks the info records that follow the metadata and
// collects the file identifiers. It returns nil when there are none.
func decodeEventInfo(info []byte) (*FileHandles, error) {
	var handles *FileHandles
	for pos := 0; pos < len(info); {
		hdr, fid, err := parseEventInfo(info[pos:])
		if err != nil {
			return nil, err
		}
		pos += int(hdr.Len)
		if fid == nil {
			continue
		}

		if handles == nil {
			handles = &FileHandles{}
		}
		id := fid.FileID
		switch hdr.InfoType {
		case unix.FAN_EVENT_INFO_TYPE_FID:
			handles.Object = &id
		case unix.FAN_EVENT_INFO_TYPE_DFID:
			handles.Dir = &id
		case unix.FAN_EVENT_INFO_TYPE_DFID_NAME:
			handles.Dir = &id
			handles.Name = fid.Name
		}
	}
	return handles, nil
}

// closeRemaining closes the descriptors of every well formed record left in
// buf. It stops at the first record it cannot trust.
func closeRemaining(buf []byte) {
	for off := 0; len(buf)-off >= sizeofFanotifyEventMetadata; {
		meta := readMetadata(buf[off:])
		if int(meta.Event_len) < sizeofFanotifyEventMetadata || int(meta.Event_len) > len(buf)-off {
			return
		}
		if meta.Vers == unix.FANOTIFY_METADATA_VERSION {
			closeFd(meta.Fd)
		}
		off += int(meta.Event_len)
	}
}

func closeFd(fd int32) {
	if fd >= 0 {
		unix.Close(int(fd))
	}
}
