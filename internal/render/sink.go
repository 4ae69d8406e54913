package render

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Sink is where rendered frames go. The terminal variant owns a viewport
// with scroll state; the file variant renders everything, every frame.
type Sink interface {
	// Clear prepares the target for a fresh frame.
	Clear() error
	// Width is the usable line width in cells; unbounded sinks report a
	// very large value.
	Width() int
	// VisibleRange maps the filtered row count and header height to the
	// half-open row interval to draw.
	VisibleRange(count, headerHeight int) (int, int)
	// ShowHints reports whether the key-hint line should be drawn.
	ShowHints() bool
	Writer() io.Writer
	Close() error
}

// TerminalSink renders to stdout with ANSI cursor-home/clear sequences and
// honours scrolling. Window size is cached and refreshed on demand from the
// SIGWINCH handler path.
type TerminalSink struct {
	mu          sync.Mutex
	cols, rows  int
	scrollDelta int
}

func NewTerminalSink() *TerminalSink {
	s := &TerminalSink{}
	s.UpdateSize()
	return s
}

// UpdateSize refreshes the cached window dimensions. One row is reserved so
// the cursor never pushes the frame up.
func (s *TerminalSink) UpdateSize() {
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		log.Warnf("get window size: %v", err)
		return
	}
	s.mu.Lock()
	s.cols = int(ws.Col)
	s.rows = 0
	if ws.Row > 0 {
		s.rows = int(ws.Row) - 1
	}
	s.mu.Unlock()
}

func (s *TerminalSink) Clear() error {
	_, err := io.WriteString(os.Stdout, "\033[H\033[J")
	return err
}

func (s *TerminalSink) Width() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols
}

func (s *TerminalSink) rowsNow() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

func (s *TerminalSink) VisibleRange(count, headerHeight int) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	begin := s.scrollDelta
	end := begin + s.rows - headerHeight
	if end > count {
		end = count
	}
	if begin > end {
		begin = end
	}
	return begin, end
}

func (s *TerminalSink) ShowHints() bool { return true }

func (s *TerminalSink) Writer() io.Writer { return os.Stdout }

func (s *TerminalSink) Close() error { return nil }

// PageDown advances the window towards the end of the filtered list, at most
// one viewport height, never past the last row.
func (s *TerminalSink) PageDown(count, headerHeight int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows <= headerHeight {
		return false
	}
	visible := s.rows + s.scrollDelta
	total := count + headerHeight
	if visible >= total {
		return false
	}
	step := s.rows - headerHeight
	if rest := total - visible; rest < step {
		step = rest
	}
	s.scrollDelta += step
	return step > 0
}

// PageUp moves the window back towards the beginning, at most one viewport
// height, never before the first row.
func (s *TerminalSink) PageUp(headerHeight int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows <= headerHeight {
		return false
	}
	step := s.rows - headerHeight
	if s.scrollDelta < step {
		step = s.scrollDelta
	}
	if step == 0 {
		return false
	}
	s.scrollDelta -= step
	return true
}

// FileSink truncates and rewrites its file from offset 0 on every frame, so
// the file always holds exactly one table.
type FileSink struct {
	f *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Clear() error {
	if err := s.f.Truncate(0); err != nil {
		return err
	}
	_, err := s.f.Seek(0, io.SeekStart)
	return err
}

func (s *FileSink) Width() int { return math.MaxInt32 }

func (s *FileSink) VisibleRange(count, headerHeight int) (int, int) {
	return 0, count
}

func (s *FileSink) ShowHints() bool { return false }

func (s *FileSink) Writer() io.Writer { return s.f }

func (s *FileSink) Close() error { return s.f.Close() }
