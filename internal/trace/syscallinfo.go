//go:build linux

package trace

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// PTRACE_GET_SYSCALL_INFO (Linux 5.3+). Queried with the raw request number
// and a local mirror of struct ptrace_syscall_info so older headers are not
// required.
const ptraceGetSyscallInfo = 0x420e

const (
	syscallInfoNone = iota
	syscallInfoEntry
	syscallInfoExit
	syscallInfoSeccomp
)

type syscallInfo struct {
	Op   uint8
	_    [3]byte
	Arch uint32
	IP   uint64
	SP   uint64
	// Union payload: entry is {nr, args[6]}, exit is {rval, is_error}.
	U [7]uint64
}

func (si *syscallInfo) entryNr() uint64 {
	return si.U[0]
}

func (si *syscallInfo) entryArgs() [6]uint64 {
	var a [6]uint64
	copy(a[:], si.U[1:7])
	return a
}

func (si *syscallInfo) exitRval() int64 {
	return int64(si.U[0])
}

func getSyscallInfo(tid int, si *syscallInfo) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_PTRACE,
		ptraceGetSyscallInfo,
		uintptr(tid),
		unsafe.Sizeof(*si),
		uintptr(unsafe.Pointer(si)),
		0, 0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// syscallInfoSupported reports whether the kernel knows the request at all,
// as opposed to a per-tid failure.
func syscallInfoSupported(err error) bool {
	switch err {
	case unix.EIO, unix.EINVAL, unix.ENOSYS:
		return false
	}
	return true
}
