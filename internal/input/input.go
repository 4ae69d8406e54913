//go:build linux

package input

import (
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Command is a decoded key press.
type Command int

const (
	Quit Command = iota
	SortOrder
	SortColumn // argument carries the column index
	PageUp
	PageDown
)

// Callback receives decoded commands. The argument is only meaningful for
// SortColumn.
type Callback func(cmd Command, arg int)

// Input switches the controlling terminal to raw single-key mode and decodes
// key presses on its own goroutine. Close restores the terminal and joins
// the goroutine.
type Input struct {
	cb      Callback
	orig    unix.Termios
	stop    chan struct{}
	done    sync.WaitGroup
	restore bool
}

func New(cb Callback) (*Input, error) {
	in := &Input{cb: cb, stop: make(chan struct{})}

	term, err := unix.IoctlGetTermios(int(os.Stdin.Fd()), unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("get terminal attributes: %w", err)
	}
	in.orig = *term

	raw := *term
	raw.Lflag &^= unix.ICANON | unix.ECHO
	// Byte-at-a-time reads with a short timeout, so the reader goroutine can
	// notice shutdown without a pending read holding it forever.
	raw.Cc[unix.VMIN] = 0
	raw.Cc[unix.VTIME] = 1
	if err := unix.IoctlSetTermios(int(os.Stdin.Fd()), unix.TCSETS, &raw); err != nil {
		return nil, fmt.Errorf("set terminal attributes: %w", err)
	}
	in.restore = true

	in.done.Add(1)
	go in.loop()
	return in, nil
}

func (in *Input) loop() {
	defer in.done.Done()
	var buf [1]byte
	for {
		select {
		case <-in.stop:
			return
		default:
		}
		n, err := unix.Read(int(os.Stdin.Fd()), buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			log.Warnf("read stdin: %v", err)
			return
		}
		if n == 0 {
			continue
		}
		if cmd, arg, ok := decodeKey(buf[0]); ok {
			in.cb(cmd, arg)
		}
	}
}

func decodeKey(ch byte) (Command, int, bool) {
	switch {
	case ch == 'q' || ch == 'Q':
		return Quit, 0, true
	case ch == 's' || ch == 'S':
		return SortOrder, 0, true
	case ch == 'p' || ch == 'P':
		return PageUp, 0, true
	case ch == 'n' || ch == 'N':
		return PageDown, 0, true
	case ch >= '0' && ch <= '9':
		return SortColumn, int(ch - '0'), true
	}
	return 0, 0, false
}

// Close restores the original terminal mode and stops the reader.
func (in *Input) Close() {
	close(in.stop)
	in.done.Wait()
	if in.restore {
		if err := unix.IoctlSetTermios(int(os.Stdin.Fd()), unix.TCSETS, &in.orig); err != nil {
			log.Warnf("restore terminal attributes: %v", err)
		}
	}
}
