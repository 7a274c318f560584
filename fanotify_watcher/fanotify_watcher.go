package fanotify_watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/subfusc/fawatch/config"
	"github.com/subfusc/fawatch/event_format"
	"github.com/subfusc/fawatch/metrics"
	"github.com/subfusc/fawatch/process_identity"
	"golang.org/x/time/rate"
)

type NameLookup func(ctx context.Context, pid int32) string

// FaNotifyWatcher runs the read loop of one MonitorHandle: read a batch,
// decode it, resolve every record and hand it to the sink, in kernel order.
type FaNotifyWatcher struct {
	handle     *MonitorHandle
	resolver   *PathResolver
	sink       event_format.Sink
	logger     *slog.Logger
	lookupName NameLookup
	ignorePids map[int32]struct{}
	bufferSize int
	now        func() time.Time

	// Per record warnings are rate limited, the counters are not.
	warnLimit *rate.Limiter
}

func NewFaNotifyWatcher(c *config.Config, h *MonitorHandle, sink event_format.Sink, logger *slog.Logger) *FaNotifyWatcher {
	ignore := make(map[int32]struct{}, len(c.Monitor.IgnorePids)+1)
	for _, pid := range c.Monitor.IgnorePids {
		ignore[pid] = struct{}{}
	}
	if c.Monitor.IgnoreSelf {
		ignore[int32(os.Getpid())] = struct{}{}
	}

	bufferSize := c.Monitor.BufferSize
	if bufferSize < MinBufferSize {
		bufferSize = DefaultBufferSize
	}

	return &FaNotifyWatcher{
		handle:     h,
		resolver:   NewPathResolver(h),
		sink:       sink,
		logger:     logger,
		lookupName: process_identity.Name,
		ignorePids: ignore,
		bufferSize: bufferSize,
		now:        time.Now,
		warnLimit:  rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Start reads until the handle is closed, which is a clean stop and returns
// nil. Any other error returned means the handle is unusable.
func (fw *FaNotifyWatcher) Start(ctx context.Context) error {
	fw.logger.Info("Starting fanotify watcher", "mode", fw.handle.Mode(), "marks", len(fw.handle.marks))
	buf := make([]byte, fw.bufferSize)

	for {
		n, err := fw.handle.ReadBatch(buf)
		switch {
		case errors.Is(err, HandleClosed):
			fw.logger.Info("Monitor handle closed, stopping")
			return nil
		case errors.Is(err, Interrupted):
			metrics.ReadErrorsTotal.WithLabelValues("interrupted").Inc()
			continue
		case errors.Is(err, ResourceExhausted):
			metrics.ReadErrorsTotal.WithLabelValues("resource_exhausted").Inc()
			fw.warn("Kernel could not create an event descriptor, event lost", "err", err)
			continue
		case err != nil:
			return err
		}

		if err := fw.handleBatch(ctx, buf[:n]); err != nil {
			return err
		}
	}
}

// Close stops Start from another goroutine.
func (fw *FaNotifyWatcher) Close() error {
	return fw.handle.Close()
}

func (fw *FaNotifyWatcher) handleBatch(ctx context.Context, data []byte) error {
	for ev, err := range Decode(data) {
		if err != nil {
			var mre *MalformedRecordError
			result := "skipped"
			if errors.As(err, &mre) && !mre.Resynced {
				result = "abandoned"
			}
			metrics.MalformedRecordsTotal.WithLabelValues(result).Inc()
			fw.warn("Malformed fanotify record", "err", err)
			continue
		}

		if err := fw.handleEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (fw *FaNotifyWatcher) handleEvent(ctx context.Context, ev RawEvent) error {
	if ev.Overflow() {
		ev.Close()
		metrics.QueueOverflowsTotal.Inc()
		fw.logger.Warn("Events were lost", "err", QueueOverflow)
		return nil
	}

	if _, ignored := fw.ignorePids[ev.Pid]; ignored {
		ev.Close()
		metrics.IgnoredEventsTotal.Inc()
		return nil
	}

	name := fw.lookupName(ctx, ev.Pid)
	path, sev, cause := fw.resolver.Resolve(ev)
	switch {
	case sev != SeverityResolved:
		metrics.UnresolvedPathsTotal.WithLabelValues(sev.String()).Inc()
		if cause != nil {
			fw.warn("Path unavailable", "pid", ev.Pid, "severity", sev, "err", cause)
		}
	case cause != nil:
		fw.logger.Debug("Path resolved with errors", "pid", ev.Pid, "path", path, "err", cause)
	}

	resolved := event_format.ResolvedEvent{
		Name:  name,
		Pid:   ev.Pid,
		Codes: event_format.Classify(ev.Mask),
		Path:  path,
		When:  fw.now(),
	}
	fw.logger.Debug("Inbound fanotify event", "pid", ev.Pid, "mask", FanotifyEventMetadata{Mask: ev.Mask}.MaskToDebugString(), "path", path)

	metrics.EventsTotal.Inc()
	if err := fw.sink.Emit(resolved); err != nil {
		return fmt.Errorf("Unable to emit event: [%w]", err)
	}
	return nil
}

func (fw *FaNotifyWatcher) warn(msg string, args ...any) {
	if fw.warnLimit.Allow() {
		fw.logger.Warn(msg, args...)
	}
}
