package pathres

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Sentinel paths returned for descriptors that cannot be resolved to a
// filesystem path. They are path-shaped so downstream code treats them
// uniformly.
const (
	InvalidFD = "*INVALID FD*"
	Stdin     = "*STDIN*"
	Stdout    = "*STDOUT*"
	Stderr    = "*STDERR*"
)

const deletedSuffix = " (deleted)"

// Resolver maps descriptors and dirfd-relative paths of one tracee process
// to absolute paths via procfs.
type Resolver struct {
	pid int
}

func New(pid int) Resolver {
	return Resolver{pid: pid}
}

func (r Resolver) readLink(link string) string {
	out, err := os.Readlink(link)
	if err != nil {
		log.Warnf("readlink %s: %v", link, err)
		return InvalidFD
	}
	if strings.HasSuffix(out, deletedSuffix) {
		stripped := strings.TrimSuffix(out, deletedSuffix)
		if _, err := os.Lstat(stripped); err != nil {
			out = stripped
		}
	}
	return out
}

// FD resolves a file descriptor of the tracee. Descriptors 0..2 map to the
// standard stream sentinels, negative ones to the invalid sentinel.
func (r Resolver) FD(fd int) string {
	switch {
	case fd < 0:
		return InvalidFD
	case fd == 0:
		return Stdin
	case fd == 1:
		return Stdout
	case fd == 2:
		return Stderr
	}
	return r.readLink(fmt.Sprintf("/proc/%d/fd/%d", r.pid, fd))
}

// At resolves a path relative to a directory descriptor, the way the *at
// syscall family does. Absolute and empty paths are returned as-is.
func (r Resolver) At(dirfd int, rel string) string {
	if rel == "" || rel[0] == '/' {
		return rel
	}
	var dir string
	if dirfd == unix.AT_FDCWD {
		dir = r.readLink(fmt.Sprintf("/proc/%d/cwd", r.pid))
	} else {
		dir = r.FD(dirfd)
	}
	if dir == "" {
		return rel
	}
	return strings.TrimSuffix(dir, "/") + "/" + rel
}

var (
	currentSeg = regexp.MustCompile(`/\./`)
	parentSeg  = regexp.MustCompile(`/[^/.]+/\.\./`)
)

// Normalize collapses /./ and /<seg>/../ sequences until a fixpoint is
// reached. It is idempotent.
func Normalize(path string) string {
	s := path
	for {
		n := currentSeg.ReplaceAllString(s, "/")
		n = parentSeg.ReplaceAllString(n, "/")
		if n == s {
			return s
		}
		s = n
	}
}
