package event_format

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		mask uint64
		want string
	}{
		{"open", unix.FAN_OPEN, "O"},
		{"exec", unix.FAN_OPEN_EXEC, "X"},
		{"read", unix.FAN_ACCESS, "R"},
		{"write", unix.FAN_MODIFY, "W"},
		{"close write", unix.FAN_CLOSE_WRITE, "C"},
		{"close nowrite", unix.FAN_CLOSE_NOWRITE, "C"},
		{"both closes print once", unix.FAN_CLOSE_WRITE | unix.FAN_CLOSE_NOWRITE, "C"},
		{"create", unix.FAN_CREATE, "+"},
		{"delete", unix.FAN_DELETE, "D"},
		{"delete self", unix.FAN_DELETE_SELF, "D"},
		{"moved from", unix.FAN_MOVED_FROM, "<"},
		{"moved to", unix.FAN_MOVED_TO, ">"},
		{"open and exec", unix.FAN_OPEN | unix.FAN_OPEN_EXEC, "OX"},
		{"write then close", unix.FAN_MODIFY | unix.FAN_CLOSE_WRITE, "WC"},
		{"order ignores bit order", unix.FAN_MOVED_TO | unix.FAN_OPEN | unix.FAN_ACCESS, "OR>"},
		{"unknown bits only", unix.FAN_ATTRIB | unix.FAN_ONDIR, "?"},
		{"zero", 0, "?"},
		{"unknown bits are dropped", unix.FAN_ATTRIB | unix.FAN_MODIFY, "W"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeString(Classify(tt.mask)); got != tt.want {
				t.Errorf("CodeString(Classify(%#x)) = %q, want %q", tt.mask, got, tt.want)
			}
		})
	}
}

func TestClassifyIsTotalAndDeterministic(t *testing.T) {
	for bit := 0; bit < 64; bit++ {
		mask := uint64(1) << bit
		first := Classify(mask)
		second := Classify(mask)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Fatalf("Classify(%#x) not deterministic (-first +second):\n%s", mask, diff)
		}
		if len(first) > 1 {
			t.Errorf("Classify(%#x) = %v, a single bit maps to at most one code", mask, first)
		}
	}

	all := Classify(^uint64(0))
	want := []EventCode{CodeOpen, CodeExec, CodeRead, CodeWrite, CodeClose, CodeCreate, CodeDelete, CodeMovedFrom, CodeMovedTo}
	if diff := cmp.Diff(want, all); diff != "" {
		t.Errorf("Classify(all bits) mismatch (-want +got):\n%s", diff)
	}
}

func TestEventCodeString(t *testing.T) {
	if got := CodeMovedFrom.String(); got != "<" {
		t.Errorf("CodeMovedFrom.String() = %q", got)
	}
	if got := CodeString(nil); got != NoCode {
		t.Errorf("CodeString(nil) = %q, want %q", got, NoCode)
	}
}
