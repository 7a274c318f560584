package event_format

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

type Sink interface {
	Emit(ev ResolvedEvent) error
}

// LineSink writes one formatted line per event. Each line goes out in a
// single Write under a lock, so concurrent emitters never interleave.
type LineSink struct {
	mu  sync.Mutex
	out io.Writer
	fmt Formatter
}

func NewLineSink(out io.Writer, f Formatter) *LineSink {
	return &LineSink{out: out, fmt: f}
}

func (ls *LineSink) Emit(ev ResolvedEvent) error {
	line := ls.fmt.Format(ev) + "\n"

	ls.mu.Lock()
	defer ls.mu.Unlock()
	n, err := io.WriteString(ls.out, line)
	if err != nil {
		return fmt.Errorf("Unable to write event line: [%w]", err)
	}
	if n != len(line) {
		return fmt.Errorf("Unable to write entire event line (%d of %d bytes): [%w]", n, len(line), io.ErrShortWrite)
	}
	return nil
}

// MultiSink emits to every sink and joins their errors.
type MultiSink []Sink

func (ms MultiSink) Emit(ev ResolvedEvent) error {
	var errs []error
	for _, s := range ms {
		if err := s.Emit(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
