package event_format

import (
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Placeholders for fields that could not be resolved.
const (
	UnknownName = "unknown"
	UnknownPath = "[unknown]"
	DeletedPath = "[deleted]"
)

const timestampLayout = "15:04:05.000000"

type ResolvedEvent struct {
	Name  string
	Pid   int32
	Codes []EventCode
	Path  string
	When  time.Time
}

type Formatter struct {
	Timestamps bool
}

// Format renders ev as "name(pid): CODES PATH", without a trailing newline.
func (f Formatter) Format(ev ResolvedEvent) string {
	var b strings.Builder
	b.Grow(len(ev.Name) + len(ev.Path) + 32)

	if f.Timestamps {
		b.WriteString(ev.When.Format(timestampLayout))
		b.WriteByte(' ')
	}

	name := ev.Name
	if name == "" {
		name = UnknownName
	}
	writeEscaped(&b, name)
	b.WriteByte('(')
	b.WriteString(strconv.FormatInt(int64(ev.Pid), 10))
	b.WriteString("): ")
	b.WriteString(CodeString(ev.Codes))
	b.WriteByte(' ')

	p := ev.Path
	if p == "" {
		p = UnknownPath
	}
	writeEscaped(&b, p)

	return b.String()
}

// Escape replaces bytes that are not valid UTF-8, and control characters, by
// \xNN so a line can never be split or corrupted by a file name. A literal
// backslash becomes \\, so every escaped name decodes to exactly one original.
func Escape(s string) string {
	var b strings.Builder
	writeEscaped(&b, s)
	return b.String()
}

func writeEscaped(b *strings.Builder, s string) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == utf8.RuneError && size <= 1:
			writeHexByte(b, s[i])
		case unicode.IsControl(r):
			for j := i; j < i+size; j++ {
				writeHexByte(b, s[j])
			}
		default:
			b.WriteString(s[i : i+size])
		}
		i += size
	}
}

func writeHexByte(b *strings.Builder, c byte) {
	const hex = "0123456789abcdef"
	b.WriteString(`\x`)
	b.WriteByte(hex[c>>4])
	b.WriteByte(hex[c&0xf])
}
