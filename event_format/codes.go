package event_format

import "golang.org/x/sys/unix"

type EventCode byte

const (
	CodeOpen      EventCode = 'O'
	CodeExec      EventCode = 'X'
	CodeRead      EventCode = 'R'
	CodeWrite     EventCode = 'W'
	CodeClose     EventCode = 'C'
	CodeCreate    EventCode = '+'
	CodeDelete    EventCode = 'D'
	CodeMovedFrom EventCode = '<'
	CodeMovedTo   EventCode = '>'
)

// NoCode is printed in place of the codes when none apply.
const NoCode = "?"

// codeOrder is the output order of the codes. A record whose mask carries
// several bits prints one code per matching row, top to bottom, and each
// code at most once.
var codeOrder = []struct {
	mask uint64
	code EventCode
}{
	{unix.FAN_OPEN, CodeOpen},
	{unix.FAN_OPEN_EXEC, CodeExec},
	{unix.FAN_ACCESS, CodeRead},
	{unix.FAN_MODIFY, CodeWrite},
	{unix.FAN_CLOSE_WRITE | unix.FAN_CLOSE_NOWRITE, CodeClose},
	{unix.FAN_CREATE, CodeCreate},
	{unix.FAN_DELETE | unix.FAN_DELETE_SELF, CodeDelete},
	{unix.FAN_MOVED_FROM, CodeMovedFrom},
	{unix.FAN_MOVED_TO, CodeMovedTo},
}

// Classify maps a fanotify mask to its codes. Bits without a code are
// ignored, so the result may be empty.
func Classify(mask uint64) []EventCode {
	rval := make([]EventCode, 0, 2)
	for _, row := range codeOrder {
		if mask&row.mask != 0 {
			rval = append(rval, row.code)
		}
	}
	return rval
}

func CodeString(codes []EventCode) string {
	if len(codes) == 0 {
		return NoCode
	}
	buf := make([]byte, len(codes))
	for i, c := range codes {
		buf[i] = byte(c)
	}
	return string(buf)
}

func (c EventCode) String() string {
	return string(rune(c))
}
