//go:build linux

package trace

import (
	"bytes"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const pageSize = 4096

// readTraceeString reads a NUL-terminated string of at most PATH_MAX bytes
// from the tracee's address space. process_vm_readv is tried first; chunks
// never cross a page boundary so a partially mapped tail does not fail the
// whole read. Falls back to word-sized PTRACE_PEEKDATA.
func readTraceeString(tid int, addr uint64) string {
	if addr == 0 {
		return ""
	}
	if s, ok := readStringVM(tid, addr); ok {
		return s
	}
	return peekString(tid, addr)
}

func readStringVM(tid int, addr uint64) (string, bool) {
	var out []byte
	var chunk [256]byte
	pos := addr
	for len(out) < unix.PathMax {
		n := len(chunk)
		if rest := int(pageSize - pos%pageSize); rest < n {
			n = rest
		}
		if rest := unix.PathMax - len(out); rest < n {
			n = rest
		}
		local := []unix.Iovec{{Base: &chunk[0]}}
		local[0].SetLen(n)
		remote := []unix.RemoteIovec{{Base: uintptr(pos), Len: n}}
		m, err := unix.ProcessVMReadv(tid, local, remote, 0)
		if err != nil {
			if len(out) == 0 {
				return "", false
			}
			break
		}
		if m <= 0 {
			break
		}
		if i := bytes.IndexByte(chunk[:m], 0); i >= 0 {
			return string(append(out, chunk[:i]...)), true
		}
		out = append(out, chunk[:m]...)
		pos += uint64(m)
		if m < n {
			break
		}
	}
	return string(out), true
}

func peekString(tid int, addr uint64) string {
	var out []byte
	var word [8]byte
	pos := uintptr(addr)
	for len(out) < unix.PathMax {
		n, err := unix.PtracePeekData(tid, pos, word[:])
		if err != nil || n == 0 {
			if len(out) == 0 {
				log.Warnf("peek data tid %d: %v", tid, err)
				return ""
			}
			break
		}
		if i := bytes.IndexByte(word[:n], 0); i >= 0 {
			return string(append(out, word[:i]...))
		}
		out = append(out, word[:n]...)
		pos += uintptr(n)
	}
	if len(out) > unix.PathMax {
		out = out[:unix.PathMax]
	}
	return string(out)
}
