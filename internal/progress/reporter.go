package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"camarc/internal/camarc"

	"golang.org/x/term"
)

// HubReporter publishes job progress to websocket clients through a Hub.
type HubReporter struct {
	hub   *Hub
	idgen camarc.IDGenerator
	clock camarc.Clock
}

var _ camarc.ProgressReporter = (*HubReporter)(nil)

func NewHubReporter(hub *Hub, idgen camarc.IDGenerator, clock camarc.Clock) *HubReporter {
	return &HubReporter{hub: hub, idgen: idgen, clock: clock}
}

func (r *HubReporter) Begin(ctx context.Context, query string, initial camarc.Progress) (camarc.ProgressHandle, error) {
	h := camarc.ProgressHandle(r.idgen.New())
	err := r.hub.BroadcastEvent(Event{
		Handle:    h,
		Kind:      EventBegin,
		Query:     query,
		Completed: initial.Completed,
		Total:     initial.Total,
		Text:      initial.String(),
		At:        r.clock.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return h, nil
}

func (r *HubReporter) Notify(ctx context.Context, h camarc.ProgressHandle, p camarc.Progress) {
	r.hub.BroadcastEvent(Event{
		Handle:    h,
		Kind:      EventProgress,
		Completed: p.Completed,
		Total:     p.Total,
		Text:      p.String(),
		At:        r.clock.Now().UTC(),
	})
}

func (r *HubReporter) Finish(ctx context.Context, h camarc.ProgressHandle, o camarc.Outcome) {
	ev := Event{
		Handle:  h,
		Kind:    EventFinish,
		Text:    o.String(),
		Entries: o.Entries,
		Skipped: o.Skipped,
		At:      r.clock.Now().UTC(),
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
	}
	r.hub.BroadcastEvent(ev)
}

// LogReporter writes job progress to a Logger.
type LogReporter struct {
	logger camarc.Logger
	idgen  camarc.IDGenerator
}

var _ camarc.ProgressReporter = (*LogReporter)(nil)

func NewLogReporter(logger camarc.Logger, idgen camarc.IDGenerator) *LogReporter {
	return &LogReporter{logger: logger, idgen: idgen}
}

func (r *LogReporter) Begin(ctx context.Context, query string, initial camarc.Progress) (camarc.ProgressHandle, error) {
	h := camarc.ProgressHandle(r.idgen.New())
	r.logger.Info(initial.String(), "handle", h, "query", query)
	return h, nil
}

func (r *LogReporter) Notify(ctx context.Context, h camarc.ProgressHandle, p camarc.Progress) {
	r.logger.Debug(p.String(), "handle", h)
}

func (r *LogReporter) Finish(ctx context.Context, h camarc.ProgressHandle, o camarc.Outcome) {
	if o.Err != nil {
		r.logger.Warn(o.String(), "handle", h)
		return
	}
	r.logger.Info(o.String(), "handle", h, "skipped", len(o.Skipped))
}

// TerminalReporter renders one job at a time to a writer. On an interactive
// terminal the progress line is rewritten in place.
type TerminalReporter struct {
	mu          sync.Mutex
	w           io.Writer
	interactive bool
}

var _ camarc.ProgressReporter = (*TerminalReporter)(nil)

// NewTerminalReporter writes to w. In-place updates are used when w is a
// terminal.
func NewTerminalReporter(w io.Writer) *TerminalReporter {
	interactive := false
	if f, ok := w.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &TerminalReporter{w: w, interactive: interactive}
}

func (r *TerminalReporter) Begin(ctx context.Context, query string, initial camarc.Progress) (camarc.ProgressHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "Archiving %q\n", query)
	r.line(initial.String())
	return "terminal", nil
}

func (r *TerminalReporter) Notify(ctx context.Context, h camarc.ProgressHandle, p camarc.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line(p.String())
}

func (r *TerminalReporter) Finish(ctx context.Context, h camarc.ProgressHandle, o camarc.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.interactive {
		fmt.Fprint(r.w, "\n")
	}
	fmt.Fprintln(r.w, o.String())
}

func (r *TerminalReporter) line(text string) {
	if r.interactive {
		fmt.Fprintf(r.w, "\r\033[K%s", text)
		return
	}
	fmt.Fprintln(r.w, text)
}

// Multi fans every call out to several reporters. Begin fails if any
// reporter fails to begin; reporters that had already begun are finished
// with the error.
type Multi struct {
	reporters []camarc.ProgressReporter

	mu      sync.Mutex
	next    int
	handles map[camarc.ProgressHandle][]camarc.ProgressHandle
}

var _ camarc.ProgressReporter = (*Multi)(nil)

func NewMulti(reporters ...camarc.ProgressReporter) *Multi {
	return &Multi{
		reporters: reporters,
		handles:   make(map[camarc.ProgressHandle][]camarc.ProgressHandle),
	}
}

func (m *Multi) Begin(ctx context.Context, query string, initial camarc.Progress) (camarc.ProgressHandle, error) {
	children := make([]camarc.ProgressHandle, 0, len(m.reporters))
	for i, r := range m.reporters {
		h, err := r.Begin(ctx, query, initial)
		if err != nil {
			err = fmt.Errorf("starting progress report: %w", err)
			for j := 0; j < i; j++ {
				m.reporters[j].Finish(ctx, children[j], camarc.Outcome{Err: err})
			}
			return "", err
		}
		children = append(children, h)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	handle := camarc.ProgressHandle(fmt.Sprintf("multi-%d:%s", m.next, joinHandles(children)))
	m.handles[handle] = children
	return handle, nil
}

func (m *Multi) Notify(ctx context.Context, h camarc.ProgressHandle, p camarc.Progress) {
	children, ok := m.lookup(h)
	if !ok {
		return
	}
	for i, r := range m.reporters {
		r.Notify(ctx, children[i], p)
	}
}

func (m *Multi) Finish(ctx context.Context, h camarc.ProgressHandle, o camarc.Outcome) {
	m.mu.Lock()
	children, ok := m.handles[h]
	delete(m.handles, h)
	m.mu.Unlock()
	if !ok {
		return
	}
	for i, r := range m.reporters {
		r.Finish(ctx, children[i], o)
	}
}

func (m *Multi) lookup(h camarc.ProgressHandle) ([]camarc.ProgressHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	children, ok := m.handles[h]
	return children, ok
}

func joinHandles(hs []camarc.ProgressHandle) string {
	parts := make([]string, len(hs))
	for i, h := range hs {
		parts[i] = string(h)
	}
	return strings.Join(parts, ",")
}
