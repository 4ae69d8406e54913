package render

import (
	"bytes"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mukovnin/psfiles/internal/aggregate"
	"github.com/mukovnin/psfiles/internal/column"
	"github.com/mukovnin/psfiles/internal/event"
)

const (
	fixedHeaderHeight = 3
	minPathColWidth   = 10

	sizeColWidth   = 10
	countColWidth  = 8
	specColWidth   = 6
	threadColWidth = 9
	timeColWidth   = 10
)

// Recorder receives every ingested event; implemented by the session
// recorder. A nil Recorder disables recording.
type Recorder interface {
	Record(event.Event)
}

// Renderer consumes the tracer's event stream on its own goroutine, feeds
// the aggregator and draws frames on ticks, on explicit requests, and one
// final time when the stream ends.
type Renderer struct {
	agg      *aggregate.Aggregator
	sink     Sink
	interval time.Duration
	requests chan struct{}
	pid      int
	cmdline  string
}

func New(agg *aggregate.Aggregator, sink Sink, interval time.Duration) *Renderer {
	return &Renderer{
		agg:      agg,
		sink:     sink,
		interval: interval,
		requests: make(chan struct{}, 1),
	}
}

// SetProcessInfo installs the tracee identity shown in the frame header.
func (r *Renderer) SetProcessInfo(pid int, cmdline string) {
	r.pid = pid
	r.cmdline = cmdline
}

// RequestUpdate schedules an immediate redraw. Duplicate requests coalesce.
func (r *Renderer) RequestUpdate() {
	select {
	case r.requests <- struct{}{}:
	default:
	}
}

// PageDown scrolls the terminal viewport forward and redraws. No-op on file
// sinks and at the end of the list.
func (r *Renderer) PageDown() {
	ts, ok := r.sink.(*TerminalSink)
	if !ok {
		return
	}
	if ts.PageDown(r.agg.FilteredCount(), r.headerHeight()) {
		r.RequestUpdate()
	}
}

// PageUp scrolls the terminal viewport back and redraws.
func (r *Renderer) PageUp() {
	ts, ok := r.sink.(*TerminalSink)
	if !ok {
		return
	}
	if ts.PageUp(r.headerHeight()) {
		r.RequestUpdate()
	}
}

func (r *Renderer) headerHeight() int {
	h := fixedHeaderHeight
	if r.sink.ShowHints() {
		h++
	}
	return h
}

// Run blocks until the event stream is closed, then flushes a final frame.
func (r *Renderer) Run(events <-chan event.Event, rec Recorder) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				r.Frame()
				return
			}
			r.agg.Ingest(ev)
			if rec != nil {
				rec.Record(ev)
			}
		case <-ticker.C:
			r.Frame()
		case <-r.requests:
			r.Frame()
		}
	}
}

// Frame draws one snapshot of the aggregator to the sink. Render failures
// are logged and swallowed; a bad frame must not take the monitor down.
func (r *Renderer) Frame() {
	r.agg.Snapshot(func(v aggregate.View) {
		var b bytes.Buffer
		r.compose(&b, v)
		if err := r.sink.Clear(); err != nil {
			log.Warnf("clear sink: %v", err)
			return
		}
		if _, err := b.WriteTo(r.sink.Writer()); err != nil {
			log.Warnf("write frame: %v", err)
		}
	})
}

func (r *Renderer) compose(b *bytes.Buffer, v aggregate.View) {
	width := r.sink.Width()

	fmt.Fprintf(b, "PID: %d\n", r.pid)
	fmt.Fprintf(b, "Command line: %s\n", TruncateRight(r.cmdline, maxInt(width-14, 0)))

	if r.sink.ShowHints() {
		order := "+"
		if v.Reverse {
			order = "-"
		}
		fmt.Fprintf(b, "sort: %s%s  files: %d/%d  keys: Q quit  S order  P pgup  N pgdn  0-9 column\n",
			v.SortColumn, order, v.FilteredCount, len(v.Entries))
	}

	otherWidth := 2*sizeColWidth + 4*countColWidth + specColWidth + threadColWidth + timeColWidth
	if width < otherWidth+minPathColWidth {
		b.WriteString("[insufficient width]\n")
		return
	}
	pathWidth := v.MaxPathWidth
	if pathWidth < len(column.Path.String()) {
		pathWidth = len(column.Path.String())
	}
	if max := width - otherWidth; pathWidth > max {
		pathWidth = max
	}

	fmt.Fprintf(b, "%-*s%*s%*s%*s%*s%*s%*s%*s%*s%*s\n",
		pathWidth, column.Path.String(),
		sizeColWidth, column.WriteSize.String(),
		sizeColWidth, column.ReadSize.String(),
		countColWidth, column.WriteCount.String(),
		countColWidth, column.ReadCount.String(),
		countColWidth, column.OpenCount.String(),
		countColWidth, column.CloseCount.String(),
		specColWidth, column.Special.String(),
		threadColWidth, column.LastThread.String(),
		timeColWidth, column.LastAccess.String())

	begin, end := r.sink.VisibleRange(v.FilteredCount, r.headerHeight())
	if begin < 0 {
		begin = 0
	}
	for i := begin; i < end && i < v.FilteredCount; i++ {
		e := v.Entries[i]
		fmt.Fprintf(b, "%-*s%*s%*s%*d%*d%*d%*d%*s%*d%*s\n",
			pathWidth, TruncateLeft(e.Path, pathWidth),
			sizeColWidth, FormatSize(e.WriteBytes),
			sizeColWidth, FormatSize(e.ReadBytes),
			countColWidth, e.WriteCount,
			countColWidth, e.ReadCount,
			countColWidth, e.OpenCount,
			countColWidth, e.CloseCount,
			specColWidth, specialFlags(e),
			threadColWidth, e.LastTID,
			timeColWidth, FormatClock(e.LastAccess))
	}
}

func specialFlags(e *aggregate.Entry) string {
	var s []byte
	if e.Mapped {
		s = append(s, 'm')
	}
	if e.Renamed {
		s = append(s, 'r')
	}
	if e.Unlinked {
		s = append(s, 'u')
	}
	if len(s) == 0 {
		return "-"
	}
	return string(s)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
