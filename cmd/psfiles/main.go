//go:build linux

// Command psfiles is a top-like monitor of the file activity of a single
// process: it traces every fd-centric syscall of the target and renders
// per-path counters as a sortable, scrollable table.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tevino/abool"
	"golang.org/x/sys/unix"

	"github.com/mukovnin/psfiles/internal/aggregate"
	"github.com/mukovnin/psfiles/internal/args"
	"github.com/mukovnin/psfiles/internal/column"
	"github.com/mukovnin/psfiles/internal/event"
	"github.com/mukovnin/psfiles/internal/input"
	"github.com/mukovnin/psfiles/internal/record"
	"github.com/mukovnin/psfiles/internal/render"
	"github.com/mukovnin/psfiles/internal/trace"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	prog := filepath.Base(os.Args[0])

	opts, err := args.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n\n", prog, err)
		args.Usage(os.Stderr, prog)
		return 1
	}

	log.SetOutput(os.Stderr)
	log.SetLevel(log.WarnLevel)
	if opts.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	term := abool.New()
	events := make(chan event.Event, 8192)

	var tr *trace.Tracer
	if opts.PID > 0 {
		tr = trace.NewAttach(opts.PID, events, term)
	} else {
		tr = trace.NewSpawn(opts.Cmdline, events, term)
	}

	ready := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr.Run(ready)
	}()
	if err := <-ready; err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", prog, err)
		return 1
	}

	quit := func() {
		term.Set()
		tr.Interrupt()
	}

	var sink render.Sink
	var termSink *render.TerminalSink
	if opts.Output != "" {
		fileSink, err := render.NewFileSink(opts.Output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", prog, err)
			quit()
			go func() {
				for range events {
				}
			}()
			wg.Wait()
			return 1
		}
		sink = fileSink
	} else {
		termSink = render.NewTerminalSink()
		sink = termSink
	}
	defer sink.Close()

	agg := aggregate.New()
	if opts.Filter != "" {
		agg.SetFilter(opts.Filter)
	}
	agg.SetSortColumn(opts.Sort)
	if opts.Reverse {
		agg.ToggleOrder()
	}

	rend := render.New(agg, sink, time.Duration(opts.Delay)*time.Second)
	rend.SetProcessInfo(tr.Pid(), tr.Cmdline())

	var rec render.Recorder
	var sess *record.Session
	if opts.Record != "" {
		sess, err = record.Open(opts.Record, tr.Pid(), tr.Cmdline())
		if err != nil {
			log.Warnf("session recording disabled: %v", err)
		} else {
			rec = sess
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	if termSink != nil {
		signal.Notify(sigCh, unix.SIGWINCH)
	}
	var sigWg sync.WaitGroup
	sigWg.Add(1)
	go func() {
		defer sigWg.Done()
		for sig := range sigCh {
			if sig == unix.SIGWINCH {
				termSink.UpdateSize()
				rend.RequestUpdate()
				continue
			}
			quit()
		}
	}()

	if termSink != nil {
		in, err := input.New(func(cmd input.Command, arg int) {
			switch cmd {
			case input.Quit:
				quit()
			case input.SortOrder:
				agg.ToggleOrder()
				rend.RequestUpdate()
			case input.SortColumn:
				if agg.SetSortColumn(column.Column(arg)) {
					rend.RequestUpdate()
				}
			case input.PageUp:
				rend.PageUp()
			case input.PageDown:
				rend.PageDown()
			}
		})
		if err != nil {
			log.Warnf("keyboard input disabled: %v", err)
		} else {
			defer in.Close()
		}
	}

	// The renderer owns the aggregation loop: it drains the tracer's events
	// and flushes a final frame once the stream ends.
	rend.Run(events, rec)
	wg.Wait()

	signal.Stop(sigCh)
	close(sigCh)
	sigWg.Wait()

	if sess != nil {
		if err := sess.Close(); err != nil {
			log.Warnf("finalize recording: %v", err)
		}
	}
	return 0
}
