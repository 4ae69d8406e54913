//go:build linux

package trace

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/mukovnin/psfiles/internal/event"
)

// fakeResolver resolves descriptors from a fixed table, the way the real
// resolver walks /proc.
type fakeResolver struct {
	fds map[int]string
	cwd string
}

func (f fakeResolver) FD(fd int) string {
	if fd < 0 {
		return "*INVALID FD*"
	}
	if p, ok := f.fds[fd]; ok {
		return p
	}
	return "*INVALID FD*"
}

func (f fakeResolver) At(dirfd int, rel string) string {
	if rel == "" || rel[0] == '/' {
		return rel
	}
	if dirfd == unix.AT_FDCWD {
		return f.cwd + "/" + rel
	}
	return f.FD(dirfd) + "/" + rel
}

func newTestDecoder(strings map[uint64]string) *Decoder {
	res := fakeResolver{
		fds: map[int]string{3: "/tmp/file", 4: "/tmp/dir"},
		cwd: "/home/user",
	}
	return NewDecoder(res, func(tid int, addr uint64) string {
		return strings[addr]
	})
}

func TestDecodeReadWrite(t *testing.T) {
	d := newTestDecoder(nil)

	if err := d.Entry(100, unix.SYS_READ, [6]uint64{3, 0xdead, 128}); err != nil {
		t.Fatal(err)
	}
	ev, ok, err := d.Exit(100, 42)
	if err != nil || !ok {
		t.Fatalf("exit: ok=%v err=%v", ok, err)
	}
	if ev.Op != event.Read || ev.Path != "/tmp/file" || ev.Bytes != 42 || ev.TID != 100 {
		t.Fatalf("read event = %+v", ev)
	}

	if err := d.Entry(100, unix.SYS_WRITE, [6]uint64{3, 0, 10}); err != nil {
		t.Fatal(err)
	}
	ev, ok, _ = d.Exit(100, 10)
	if !ok || ev.Op != event.Write || ev.Bytes != 10 {
		t.Fatalf("write event = %+v", ev)
	}
}

func TestDecodeFailedSyscallSuppressed(t *testing.T) {
	d := newTestDecoder(nil)
	if err := d.Entry(1, unix.SYS_READ, [6]uint64{3}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := d.Exit(1, -int64(unix.EBADF)); ok {
		t.Fatalf("failed read must not emit")
	}
}

func TestDecodeOpenAt(t *testing.T) {
	d := newTestDecoder(nil)
	if err := d.Entry(1, unix.SYS_OPENAT, [6]uint64{uint64(0xffffffffffffff9c), 0xbeef, 0}); err != nil {
		t.Fatal(err)
	}
	ev, ok, _ := d.Exit(1, 3)
	if !ok || ev.Op != event.Open || ev.Path != "/tmp/file" {
		t.Fatalf("open event = %+v", ev)
	}
}

func TestDecodeCloseSnapshotsAtEntry(t *testing.T) {
	d := newTestDecoder(nil)
	if err := d.Entry(1, unix.SYS_CLOSE, [6]uint64{3}); err != nil {
		t.Fatal(err)
	}
	// Close emits even on failure: the path was captured before the fd died.
	ev, ok, _ := d.Exit(1, -int64(unix.EBADF))
	if !ok || ev.Op != event.Close || ev.Path != "/tmp/file" {
		t.Fatalf("close event = %+v", ev)
	}
}

func TestDecodeMmap(t *testing.T) {
	d := newTestDecoder(nil)

	// Anonymous mapping: no event.
	args := [6]uint64{0, 4096, 0, unix.MAP_ANONYMOUS | unix.MAP_PRIVATE, ^uint64(0), 0}
	if err := d.Entry(1, unix.SYS_MMAP, args); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := d.Exit(1, 0x7f0000000000); ok {
		t.Fatalf("anonymous mmap must not emit")
	}

	// File-backed mapping.
	args = [6]uint64{0, 4096, 0, unix.MAP_PRIVATE, 3, 0}
	if err := d.Entry(1, unix.SYS_MMAP, args); err != nil {
		t.Fatal(err)
	}
	ev, ok, _ := d.Exit(1, 0x7f0000000000)
	if !ok || ev.Op != event.Map || ev.Path != "/tmp/file" {
		t.Fatalf("mmap event = %+v", ev)
	}
}

func TestDecodeRenameAt(t *testing.T) {
	strings := map[uint64]string{
		0x1000: "old.txt",
		0x2000: "new.txt",
	}
	d := newTestDecoder(strings)
	atCwd := uint64(0xffffffffffffff9c) // AT_FDCWD as a raw argument
	if err := d.Entry(1, unix.SYS_RENAMEAT, [6]uint64{atCwd, 0x1000, 4, 0x2000}); err != nil {
		t.Fatal(err)
	}
	ev, ok, _ := d.Exit(1, 0)
	if !ok || ev.Op != event.Rename {
		t.Fatalf("rename event = %+v", ev)
	}
	if ev.Path != "/home/user/old.txt" || ev.NewPath != "/tmp/dir/new.txt" {
		t.Fatalf("rename paths = %q -> %q", ev.Path, ev.NewPath)
	}
}

func TestDecodeUnlinkAt(t *testing.T) {
	d := newTestDecoder(map[uint64]string{0x3000: "/tmp/gone"})
	if err := d.Entry(1, unix.SYS_UNLINKAT, [6]uint64{uint64(0xffffffffffffff9c), 0x3000, 0}); err != nil {
		t.Fatal(err)
	}
	ev, ok, _ := d.Exit(1, 0)
	if !ok || ev.Op != event.Unlink || ev.Path != "/tmp/gone" {
		t.Fatalf("unlink event = %+v", ev)
	}
}

func TestDecodePhaseErrors(t *testing.T) {
	d := newTestDecoder(nil)
	if err := d.Entry(5, unix.SYS_READ, [6]uint64{3}); err != nil {
		t.Fatal(err)
	}
	if err := d.Entry(5, unix.SYS_READ, [6]uint64{3}); err != ErrPhase {
		t.Fatalf("duplicate entry err = %v, want ErrPhase", err)
	}
	d.Forget(5)
	if _, _, err := d.Exit(5, 0); err != ErrNoFrame {
		t.Fatalf("orphan exit err = %v, want ErrNoFrame", err)
	}
}

func TestDecodePerTidIsolation(t *testing.T) {
	d := newTestDecoder(nil)
	for tid := 1; tid <= 3; tid++ {
		if err := d.Entry(tid, unix.SYS_READ, [6]uint64{3, 0, uint64(tid)}); err != nil {
			t.Fatal(err)
		}
	}
	for tid := 3; tid >= 1; tid-- {
		ev, ok, err := d.Exit(tid, int64(tid))
		if err != nil || !ok {
			t.Fatalf("tid %d exit: %v", tid, err)
		}
		if ev.TID != tid || ev.Bytes != uint64(tid) {
			t.Fatalf("tid %d event = %+v", tid, ev)
		}
	}
	if d.InFlight(1) || d.InFlight(2) || d.InFlight(3) {
		t.Fatalf("frames must be consumed")
	}
}

func TestDecodeUninterestingSyscall(t *testing.T) {
	d := newTestDecoder(nil)
	if err := d.Entry(1, unix.SYS_GETPID, [6]uint64{}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := d.Exit(1, 1234); ok {
		t.Fatalf("getpid must not emit")
	}
}
