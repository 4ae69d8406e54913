//go:build linux

package trace

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/tevino/abool"
	"golang.org/x/sys/unix"

	"github.com/mukovnin/psfiles/internal/event"
	"github.com/mukovnin/psfiles/internal/pathres"
)

// Mode says how the tracer acquired its tracee.
type Mode int

const (
	ModeAttached Mode = iota
	ModeSpawned
)

const ptOptions = unix.PTRACE_O_TRACESYSGOOD |
	unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACEEXEC

const sysGoodBit = 0x80

// Tracer drives the ptrace syscall-stop loop for one tracee process and all
// of its threads and descendants. All ptrace calls happen on the single
// OS-locked goroutine running Run; the only cross-thread interactions are
// the termination flag and Interrupt.
type Tracer struct {
	mode     Mode
	mainPid  int
	cmdline  string
	argv     []string
	cmd      *exec.Cmd
	res      pathres.Resolver
	dec      *Decoder
	out      chan<- event.Event
	term     *abool.AtomicBool
	attached map[int]struct{}

	infoProbed     bool
	useSyscallInfo bool
}

// NewAttach prepares a tracer for an already running process.
func NewAttach(pid int, out chan<- event.Event, term *abool.AtomicBool) *Tracer {
	return newTracer(ModeAttached, pid, nil, out, term)
}

// NewSpawn prepares a tracer that starts argv under trace.
func NewSpawn(argv []string, out chan<- event.Event, term *abool.AtomicBool) *Tracer {
	return newTracer(ModeSpawned, 0, argv, out, term)
}

func newTracer(mode Mode, pid int, argv []string, out chan<- event.Event, term *abool.AtomicBool) *Tracer {
	t := &Tracer{
		mode:     mode,
		mainPid:  pid,
		argv:     argv,
		out:      out,
		term:     term,
		attached: make(map[int]struct{}),
	}
	return t
}

func (t *Tracer) Pid() int { return t.mainPid }

func (t *Tracer) Cmdline() string { return t.cmdline }

// Interrupt wakes the tracer out of waitpid so it notices the termination
// flag. In spawn mode the tracee is terminated outright; in attach mode the
// main thread is stopped, which surfaces as a stop the loop observes.
func (t *Tracer) Interrupt() {
	if t.mainPid <= 0 {
		return
	}
	if t.mode == ModeSpawned {
		if err := unix.Kill(t.mainPid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			log.Warnf("kill tracee %d: %v", t.mainPid, err)
		}
		return
	}
	if err := unix.Tgkill(t.mainPid, t.mainPid, unix.SIGSTOP); err != nil && !errors.Is(err, unix.ESRCH) {
		log.Warnf("tgkill %d: %v", t.mainPid, err)
	}
}

// Run attaches or spawns, reports the startup outcome on ready, then loops
// until the tracee is gone or termination is requested. The event channel is
// closed on the way out, after teardown.
func (t *Tracer) Run(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.out)

	var err error
	if t.mode == ModeAttached {
		err = t.attach()
	} else {
		err = t.spawn()
	}
	ready <- err
	if err != nil {
		return
	}
	defer t.teardown()

	t.loop()
}

func (t *Tracer) attach() error {
	tids, err := procThreads(t.mainPid)
	if err != nil {
		return fmt.Errorf("list threads of %d: %w", t.mainPid, err)
	}
	if len(tids) == 0 {
		return fmt.Errorf("process %d has no threads", t.mainPid)
	}
	t.cmdline = readCmdline(t.mainPid)
	t.res = pathres.New(t.mainPid)
	t.dec = NewDecoder(t.res, readTraceeString)

	for _, tid := range tids {
		if err := t.attachOne(tid); err != nil {
			t.detachAll()
			return err
		}
	}
	log.Infof("attached to pid %d (%d threads)", t.mainPid, len(tids))
	return nil
}

func (t *Tracer) attachOne(tid int) error {
	if err := unix.PtraceAttach(tid); err != nil {
		return fmt.Errorf("attach tid %d: %w", tid, err)
	}
	t.attached[tid] = struct{}{}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(tid, &ws, 0, nil); err != nil {
		return fmt.Errorf("wait tid %d: %w", tid, err)
	}
	if err := unix.PtraceSetOptions(tid, ptOptions); err != nil {
		return fmt.Errorf("set options tid %d: %w", tid, err)
	}
	if err := unix.PtraceSyscall(tid, 0); err != nil {
		return fmt.Errorf("restart tid %d: %w", tid, err)
	}
	return nil
}

func (t *Tracer) spawn() error {
	cmd := exec.Command(t.argv[0], t.argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.argv[0], err)
	}

	// The child stops with SIGTRAP before its first instruction; Wait
	// returns once that stop is reported.
	err := cmd.Wait()
	var ee *exec.ExitError
	if err != nil && !errors.As(err, &ee) {
		return fmt.Errorf("wait %s: %w", t.argv[0], err)
	}
	ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	if !ok || !ws.Stopped() {
		return fmt.Errorf("%s exited before tracing began", t.argv[0])
	}

	t.cmd = cmd
	t.mainPid = cmd.Process.Pid
	t.cmdline = readCmdline(t.mainPid)
	if t.cmdline == "" {
		t.cmdline = strings.Join(t.argv, " ")
	}
	t.res = pathres.New(t.mainPid)
	t.dec = NewDecoder(t.res, readTraceeString)

	if err := unix.PtraceSetOptions(t.mainPid, ptOptions); err != nil {
		return fmt.Errorf("set options pid %d: %w", t.mainPid, err)
	}
	if err := unix.PtraceSyscall(t.mainPid, 0); err != nil {
		return fmt.Errorf("restart pid %d: %w", t.mainPid, err)
	}
	t.attached[t.mainPid] = struct{}{}
	log.Infof("spawned %s (pid %d)", t.argv[0], t.mainPid)
	return nil
}

func (t *Tracer) loop() {
	for {
		if t.term.IsSet() {
			log.Info("termination requested")
			return
		}

		var ws unix.WaitStatus
		tid, err := unix.Wait4(-1, &ws, unix.WALL, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD:
			log.Info("tracee exited")
			return
		case err != nil:
			log.Errorf("waitpid: %v", err)
			return
		}

		switch {
		case ws.Exited() || ws.Signaled():
			delete(t.attached, tid)
			t.dec.Forget(tid)
			if t.mode == ModeSpawned && len(t.attached) == 0 {
				log.Info("all tracee threads exited")
				return
			}

		case ws.Stopped():
			sig := ws.StopSignal()
			switch {
			case sig == unix.SIGTRAP|sysGoodBit:
				t.handleSyscallStop(tid)
				t.restart(tid, 0)
			case sig == unix.SIGTRAP && ws.TrapCause() > 0:
				t.handleEventStop(tid, ws.TrapCause())
				t.restart(tid, 0)
			case sig == unix.SIGTRAP:
				t.restart(tid, 0)
			default:
				t.restart(tid, sig)
			}
		}
	}
}

func (t *Tracer) restart(tid int, sig unix.Signal) {
	if err := unix.PtraceSyscall(tid, int(sig)); err != nil {
		// The tid may be gone already; drop it and keep tracing the rest.
		log.Warnf("restart tid %d: %v", tid, err)
		delete(t.attached, tid)
		t.dec.Forget(tid)
	}
}

func (t *Tracer) handleEventStop(tid, cause int) {
	switch cause {
	case unix.PTRACE_EVENT_CLONE, unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK:
		newTid, err := unix.PtraceGetEventMsg(tid)
		if err != nil {
			log.Warnf("get event msg tid %d: %v", tid, err)
			return
		}
		// The kernel attaches the new task for us.
		t.attached[int(newTid)] = struct{}{}
		log.Debugf("new task %d from %d", newTid, tid)
	case unix.PTRACE_EVENT_EXEC:
		t.dec.Forget(tid)
	}
}

func (t *Tracer) handleSyscallStop(tid int) {
	if _, ok := t.attached[tid]; !ok {
		t.attached[tid] = struct{}{}
	}

	if !t.infoProbed {
		var si syscallInfo
		err := getSyscallInfo(tid, &si)
		t.infoProbed = true
		t.useSyscallInfo = err == nil || syscallInfoSupported(err)
		if !t.useSyscallInfo {
			log.Warn("PTRACE_GET_SYSCALL_INFO unavailable, falling back to registers")
		}
	}

	if t.useSyscallInfo {
		t.handleWithSyscallInfo(tid)
	} else {
		t.handleWithRegs(tid)
	}
}

func (t *Tracer) handleWithSyscallInfo(tid int) {
	var si syscallInfo
	if err := getSyscallInfo(tid, &si); err != nil {
		log.Warnf("get syscall info tid %d: %v", tid, err)
		t.dec.Forget(tid)
		return
	}
	switch si.Op {
	case syscallInfoEntry:
		if err := t.dec.Entry(tid, si.entryNr(), si.entryArgs()); err != nil {
			log.Warnf("tid %d: %v", tid, err)
			t.dec.Forget(tid)
		}
	case syscallInfoExit:
		t.finish(tid, si.exitRval())
	}
}

func (t *Tracer) handleWithRegs(tid int) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		log.Warnf("get regs tid %d: %v", tid, err)
		t.dec.Forget(tid)
		return
	}
	if !t.dec.InFlight(tid) {
		if err := t.dec.Entry(tid, regsSyscallNr(&regs), regsArgs(&regs)); err != nil {
			log.Warnf("tid %d: %v", tid, err)
			t.dec.Forget(tid)
		}
		return
	}
	t.finish(tid, regsRet(&regs))
}

func (t *Tracer) finish(tid int, rval int64) {
	ev, ok, err := t.dec.Exit(tid, rval)
	if err != nil {
		log.Warnf("tid %d: %v", tid, err)
		return
	}
	if !ok {
		return
	}
	ev.Path = pathres.Normalize(ev.Path)
	ev.NewPath = pathres.Normalize(ev.NewPath)
	t.out <- ev
}

func (t *Tracer) teardown() {
	if t.mode == ModeSpawned {
		if err := unix.Kill(t.mainPid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			log.Warnf("terminate tracee %d: %v", t.mainPid, err)
		} else {
			log.Infof("sent SIGTERM to tracee %d", t.mainPid)
		}
		return
	}
	if err := t.detachAll(); err != nil {
		log.Warnf("detach: %v", err)
	}
}

// detachAll stops, detaches and resumes every known tid. A dead tid must
// not keep the rest attached, so failures are collected instead of aborting.
func (t *Tracer) detachAll() error {
	var result *multierror.Error
	n := 0
	for tid := range t.attached {
		if err := t.detachOne(tid); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		n++
	}
	t.attached = make(map[int]struct{})
	log.Infof("detached from pid %d (%d threads)", t.mainPid, n)
	return result.ErrorOrNil()
}

func (t *Tracer) detachOne(tid int) error {
	if err := unix.Tgkill(t.mainPid, tid, unix.SIGSTOP); err != nil {
		return fmt.Errorf("stop tid %d: %w", tid, err)
	}
	var ws unix.WaitStatus
	_, _ = unix.Wait4(tid, &ws, 0, nil)
	if err := unix.PtraceDetach(tid); err != nil {
		return fmt.Errorf("detach tid %d: %w", tid, err)
	}
	if err := unix.Tgkill(t.mainPid, tid, unix.SIGCONT); err != nil {
		return fmt.Errorf("resume tid %d: %w", tid, err)
	}
	return nil
}

// procThreads lists the thread ids of pid.
func procThreads(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, err
	}
	tids := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	return tids, nil
}

// readCmdline returns the tracee's command line with argument separators
// rewritten to spaces.
func readCmdline(pid int) string {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return ""
	}
	s := strings.ReplaceAll(string(b), "\x00", " ")
	return strings.TrimRight(s, " ")
}
