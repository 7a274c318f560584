package fanotify_watcher

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	sizeofFanotifyEventInfoHeader = 4
	sizeofFsid                    = 8
	sizeofFileHandleHeader        = 8
)

type FanotifyEventInfoHeader struct {
	InfoType uint8
	Pad      uint8
	Len      uint16
}

type FanotifyEventInfoFid struct {
	Hdr    FanotifyEventInfoHeader
	FileID FileID
	// Name is only set for FAN_EVENT_INFO_TYPE_DFID_NAME.
	Name string
}

func (feih FanotifyEventInfoHeader) InfoTypeToString() string {
	switch feih.InfoType {
	case unix.FAN_EVENT_INFO_TYPE_FID:
		return "EVENT_INFO_TYPE_FID"
	case unix.FAN_EVENT_INFO_TYPE_DFID:
		return "EVENT_INFO_TYPE_DFID"
	case unix.FAN_EVENT_INFO_TYPE_DFID_NAME:
		return "EVENT_INFO_TYPE_DFID_NAME"
	case unix.FAN_EVENT_INFO_TYPE_PIDFD:
		return "EVENT_INFO_TYPE_PIDFD"
	default:
		return fmt.Sprintf("EVENT_INFO_TYPE(%d)", feih.InfoType)
	}
}

func (feih FanotifyEventInfoHeader) isFid() bool {
	switch feih.InfoType {
	case unix.FAN_EVENT_INFO_TYPE_FID, unix.FAN_EVENT_INFO_TYPE_DFID, unix.FAN_EVENT_INFO_TYPE_DFID_NAME:
		return true
	}
	return false
}

// parseEventInfo decodes the info record at the start of buf, where buf runs
// to the end of the enclosing event. Non FID records (pidfd, error) come back
// with a nil fid and are skipped by the caller using hdr.Len.
func parseEventInfo(buf []byte) (FanotifyEventInfoHeader, *FanotifyEventInfoFid, error) {
	var hdr FanotifyEventInfoHeader
	if len(buf) < sizeofFanotifyEventInfoHeader {
		return hdr, nil, fmt.Errorf("info header truncated (%d bytes left)", len(buf))
	}

	hdr = FanotifyEventInfoHeader{
		InfoType: buf[0],
		Pad:      buf[1],
		Len:      binary.NativeEndian.Uint16(buf[2:4]),
	}
	if int(hdr.Len) < sizeofFanotifyEventInfoHeader || int(hdr.Len) > len(buf) {
		return hdr, nil, fmt.Errorf("info record length %d out of range (%d bytes left)", hdr.Len, len(buf))
	}
	if !hdr.isFid() {
		return hdr, nil, nil
	}

	rec := buf[:hdr.Len]
	fsidPos := sizeofFanotifyEventInfoHeader
	fileHandlePos := fsidPos + sizeofFsid
	if len(rec) < fileHandlePos+sizeofFileHandleHeader {
		return hdr, nil, fmt.Errorf("%s record too short for a file handle (%d bytes)", hdr.InfoTypeToString(), hdr.Len)
	}

	var fsid unix.Fsid
	fsid.Val[0] = int32(binary.NativeEndian.Uint32(rec[fsidPos : fsidPos+4]))
	fsid.Val[1] = int32(binary.NativeEndian.Uint32(rec[fsidPos+4 : fsidPos+8]))

	handleBytes := binary.NativeEndian.Uint32(rec[fileHandlePos : fileHandlePos+4])
	handleType := int32(binary.NativeEndian.Uint32(rec[fileHandlePos+4 : fileHandlePos+8]))
	handleStart := fileHandlePos + sizeofFileHandleHeader
	if uint64(handleBytes) > uint64(len(rec)-handleStart) {
		return hdr, nil, fmt.Errorf("file handle of %d bytes overruns %s record (%d bytes)", handleBytes, hdr.InfoTypeToString(), hdr.Len)
	}
	nameStart := handleStart + int(handleBytes)

	// NewFileHandle keeps the slice, so hand it a copy that outlives buf.
	handle := make([]byte, handleBytes)
	copy(handle, rec[handleStart:nameStart])

	fid := &FanotifyEventInfoFid{
		Hdr: hdr,
		FileID: FileID{
			Fsid:   fsid,
			Handle: unix.NewFileHandle(handleType, handle),
		},
	}

	if hdr.InfoType == unix.FAN_EVENT_INFO_TYPE_DFID_NAME {
		end := bytes.IndexByte(rec[nameStart:], 0)
		if end < 0 {
			return hdr, nil, fmt.Errorf("DFID_NAME record without NUL terminated name")
		}
		fid.Name = string(rec[nameStart : nameStart+end])
	}

	return hdr, fid, nil
}
