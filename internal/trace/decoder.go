package trace

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/mukovnin/psfiles/internal/event"
)

// opcode classifies the syscalls the decoder cares about. The nr→opcode
// table lives in the per-architecture files; everything else emits nothing.
type opcode int

const (
	opNone opcode = iota
	opRead
	opWrite
	opOpen
	opClose
	opMap
	opRename   // legacy rename(2): both paths relative to AT_FDCWD
	opRenameAt // renameat/renameat2
	opUnlink   // legacy unlink(2)
	opUnlinkAt
)

var (
	ErrPhase   = errors.New("unexpected syscall phase")
	ErrNoFrame = errors.New("exit trap without in-flight frame")
)

type fdResolver interface {
	FD(fd int) string
	At(dirfd int, rel string) string
}

// stringReader reads a NUL-terminated string from the tracee's memory.
type stringReader func(tid int, addr uint64) string

// frame is the in-flight syscall of one thread, captured at the entry trap.
// A tid has at most one frame at a time.
type frame struct {
	nr        uint64
	args      [6]uint64
	closePath string
	hasClose  bool
}

// Decoder pairs syscall entry and exit traps per tid and turns completed
// syscalls into events. The close path is resolved at entry because the
// descriptor is gone by the time the exit trap arrives.
type Decoder struct {
	res     fdResolver
	readStr stringReader
	frames  map[int]*frame
}

func NewDecoder(res fdResolver, readStr stringReader) *Decoder {
	return &Decoder{
		res:     res,
		readStr: readStr,
		frames:  make(map[int]*frame),
	}
}

// InFlight reports whether tid has an unmatched entry trap. The register
// fallback uses this to tell entry and exit stops apart.
func (d *Decoder) InFlight(tid int) bool {
	_, ok := d.frames[tid]
	return ok
}

// Forget drops any in-flight frame of tid.
func (d *Decoder) Forget(tid int) {
	delete(d.frames, tid)
}

// Entry records the entry trap of tid. A second entry without an
// intervening exit is an error; the caller is expected to drop the frame.
func (d *Decoder) Entry(tid int, nr uint64, args [6]uint64) error {
	if _, ok := d.frames[tid]; ok {
		return ErrPhase
	}
	fr := &frame{nr: nr, args: args}
	if syscallOps[nr] == opClose {
		fr.closePath = d.res.FD(argFd(args[0]))
		fr.hasClose = true
	}
	d.frames[tid] = fr
	return nil
}

// Exit consumes the in-flight frame of tid and decodes it against the return
// value. Failed syscalls emit nothing, except close, whose path was already
// snapshot at entry.
func (d *Decoder) Exit(tid int, rval int64) (event.Event, bool, error) {
	fr, ok := d.frames[tid]
	if !ok {
		return event.Event{}, false, ErrNoFrame
	}
	delete(d.frames, tid)

	op := syscallOps[fr.nr]
	if op == opClose {
		if !fr.hasClose {
			return event.Event{}, false, nil
		}
		return event.Event{TID: tid, Op: event.Close, Path: fr.closePath}, true, nil
	}
	if op == opNone || rval < 0 {
		return event.Event{}, false, nil
	}

	switch op {
	case opRead:
		return event.Event{TID: tid, Op: event.Read, Path: d.res.FD(argFd(fr.args[0])), Bytes: uint64(rval)}, true, nil
	case opWrite:
		return event.Event{TID: tid, Op: event.Write, Path: d.res.FD(argFd(fr.args[0])), Bytes: uint64(rval)}, true, nil
	case opOpen:
		return event.Event{TID: tid, Op: event.Open, Path: d.res.FD(int(rval))}, true, nil
	case opMap:
		if fr.args[3]&unix.MAP_ANONYMOUS != 0 {
			return event.Event{}, false, nil
		}
		return event.Event{TID: tid, Op: event.Map, Path: d.res.FD(argFd(fr.args[4]))}, true, nil
	case opRename:
		from := d.res.At(unix.AT_FDCWD, d.readStr(tid, fr.args[0]))
		to := d.res.At(unix.AT_FDCWD, d.readStr(tid, fr.args[1]))
		return event.Event{TID: tid, Op: event.Rename, Path: from, NewPath: to}, true, nil
	case opRenameAt:
		from := d.res.At(argFd(fr.args[0]), d.readStr(tid, fr.args[1]))
		to := d.res.At(argFd(fr.args[2]), d.readStr(tid, fr.args[3]))
		return event.Event{TID: tid, Op: event.Rename, Path: from, NewPath: to}, true, nil
	case opUnlink:
		path := d.res.At(unix.AT_FDCWD, d.readStr(tid, fr.args[0]))
		return event.Event{TID: tid, Op: event.Unlink, Path: path}, true, nil
	case opUnlinkAt:
		path := d.res.At(argFd(fr.args[0]), d.readStr(tid, fr.args[1]))
		return event.Event{TID: tid, Op: event.Unlink, Path: path}, true, nil
	}
	return event.Event{}, false, nil
}

// argFd interprets a raw syscall argument as a descriptor. Descriptors are
// passed as 32-bit signed values (AT_FDCWD is -100), so the truncation is
// deliberate.
func argFd(arg uint64) int {
	return int(int32(arg))
}
