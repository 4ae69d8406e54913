//go:build linux && amd64

package trace

import "golang.org/x/sys/unix"

// x86-64 keeps the legacy non-at entry points alongside the *at family.
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

	unix.SYS_CREAT:   opOpen,
	unix.SYS_OPEN:    opOpen,
	unix.SYS_OPENAT:  opOpen,
	unix.SYS_OPENAT2: opOpen,

	unix.SYS_CLOSE: opClose,
	unix.SYS_MMAP:  opMap,

	unix.SYS_RENAME:    opRename,
	unix.SYS_RENAMEAT:  opRenameAt,
	unix.SYS_RENAMEAT2: opRenameAt,

	unix.SYS_UNLINK:   opUnlink,
	unix.SYS_UNLINKAT: opUnlinkAt,
}

// https://man7.org/linux/man-pages/man2/syscall.2.html
//   x86-64: args in rdi rsi rdx r10 r8 r9, number in rax, result in rax.

func regsSyscallNr(regs *unix.PtraceRegs) uint64 {
	return regs.Orig_rax
}

func regsArgs(regs *unix.PtraceRegs) [6]uint64 {
	return [6]uint64{regs.Rdi, regs.Rsi, regs.Rdx, regs.R10, regs.R8, regs.R9}
}

func regsRet(regs *unix.PtraceRegs) int64 {
	return int64(regs.Rax)
}
