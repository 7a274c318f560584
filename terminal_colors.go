package main

import (
	"fmt"
	"strings"
)

type Color [3]byte

const ansiReset = "\x1b[0m"

func (c Color) EscSequence(fg bool) string {
	if fg {
		return fmt.Sprintf("\x1b[38;2;%d;%d;%dm", c[0], c[1], c[2])
	}
	return fmt.Sprintf("\x1b[48;2;%d;%d;%dm", c[0], c[1], c[2])
}

type AnsiColorBuilder struct {
	fg      *Color
	bg      *Color
	content string
}

func NewAnsiColorBuilder(text string) *AnsiColorBuilder {
	return &AnsiColorBuilder{content: text}
}

func (acb *AnsiColorBuilder) String() string {
	var b strings.Builder
	if acb.fg != nil {
		b.WriteString(acb.fg.EscSequence(true))
	}
	if acb.bg != nil {
		b.WriteString(acb.bg.EscSequence(false))
	}
	b.WriteString(acb.content)
	b.WriteString(ansiReset)
	return b.String()
}

func (acb *AnsiColorBuilder) Colorize(fg Color, bg Color) {
	acb.Fg(fg)
	acb.Bg(bg)
}

func (acb *AnsiColorBuilder) Fg(c Color) {
	acb.fg = &c
}

func (acb *AnsiColorBuilder) Bg(c Color) {
	acb.bg = &c
}

// Paint is the foreground only shorthand.
func Paint(text string, fg Color) string {
	cb := NewAnsiColorBuilder(text)
	cb.Fg(fg)
	return cb.String()
}
