//go:build linux && arm64

package trace

import "golang.org/x/sys/unix"

// The generic arm64 table has no open/creat/rename/unlink; everything goes
// through the *at entry points.
var syscallOps = map[uint64]opcode{
	unix.SYS_READ:    opRead,
	unix.SYS_READV:   opRead,
	unix.SYS_PREADV:  opRead,
	unix.SYS_PREADV2: opRead,
	unix.SYS_PREAD64: opRead,

	unix.SYS_WRITE:    opWrite,
	unix.SYS_WRITEV:   opWrite,
	unix.SYS_PWRITEV:  opWrite,
	unix.SYS_PWRITEV2: opWrite,
	unix.SYS_PWRITE64: opWrite,

	unix.SYS_OPENAT:  opOpen,
	unix.SYS_OPENAT2: opOpen,

	unix.SYS_CLOSE: opClose,
	unix.SYS_MMAP:  opMap,

	unix.SYS_RENAMEAT:  opRenameAt,
	unix.SYS_RENAMEAT2: opRenameAt,

	unix.SYS_UNLINKAT: opUnlinkAt,
}

// https://man7.org/linux/man-pages/man2/syscall.2.html
//   arm64: args in x0..x5, number in w8, result in x0.

func regsSyscallNr(regs *unix.PtraceRegs) uint64 {
	return regs.Regs[8]
}

func regsArgs(regs *unix.PtraceRegs) [6]uint64 {
	return [6]uint64{regs.Regs[0], regs.Regs[1], regs.Regs[2], regs.Regs[3], regs.Regs[4], regs.Regs[5]}
}

func regsRet(regs *unix.PtraceRegs) int64 {
	return int64(regs.Regs[0])
}
