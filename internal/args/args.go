package args

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mukovnin/psfiles/internal/column"
)

// Options is the parsed command line.
type Options struct {
	Output  string
	Sort    column.Column
	Reverse bool
	Filter  string
	Delay   uint
	PID     int
	Cmdline []string
	Record  string
	Verbose bool
}

// Parse decodes argv (without the program name). Everything after
// -c/--cmdline belongs to the tracee verbatim, so that part is split off
// before the flag package sees the rest.
func Parse(argv []string) (*Options, error) {
	flagArgs := argv
	var cmdline []string
	for i, a := range argv {
		if a == "-c" || a == "--cmdline" {
			flagArgs = argv[:i]
			cmdline = argv[i+1:]
			break
		}
	}

	opts := &Options{Sort: column.Path, Delay: 1}
	var sortSpec string

	fs := flag.NewFlagSet("psfiles", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.Output, "o", "", "")
	fs.StringVar(&opts.Output, "output", "", "")
	fs.StringVar(&sortSpec, "s", "", "")
	fs.StringVar(&sortSpec, "sort", "", "")
	fs.StringVar(&opts.Filter, "f", "", "")
	fs.StringVar(&opts.Filter, "filter", "", "")
	fs.UintVar(&opts.Delay, "d", 1, "")
	fs.UintVar(&opts.Delay, "delay", 1, "")
	fs.IntVar(&opts.PID, "p", 0, "")
	fs.IntVar(&opts.PID, "pid", 0, "")
	fs.StringVar(&opts.Record, "r", "", "")
	fs.StringVar(&opts.Record, "record", "", "")
	fs.BoolVar(&opts.Verbose, "v", false, "")
	fs.BoolVar(&opts.Verbose, "verbose", false, "")

	if err := fs.Parse(flagArgs); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	if sortSpec != "" {
		s := sortSpec
		if strings.HasSuffix(s, "-") {
			s = strings.TrimSuffix(s, "-")
			opts.Reverse = true
		}
		col, ok := column.FromString(s)
		if !ok {
			return nil, fmt.Errorf("unknown column name: %s", sortSpec)
		}
		opts.Sort = col
	}

	if opts.Delay == 0 {
		return nil, fmt.Errorf("invalid --delay option: must be a positive integer")
	}
	if opts.PID < 0 || opts.PID == os.Getpid() {
		return nil, fmt.Errorf("invalid --pid option: must be a positive integer not equal to current pid")
	}
	if cmdline != nil && len(cmdline) == 0 {
		return nil, fmt.Errorf("--cmdline requires a command")
	}
	if (opts.PID > 0) == (len(cmdline) > 0) {
		return nil, fmt.Errorf("one and only one of --pid and --cmdline options should be specified")
	}
	opts.Cmdline = cmdline
	return opts, nil
}

// Usage prints the option summary.
func Usage(w io.Writer, prog string) {
	fmt.Fprintf(w, "Usage:\n%s [-osfdrv] -p PID | -c CMDLINE ARGS...\n", prog)
	fmt.Fprintf(w, "%-28s%s\n", "-o, --output FILE", "write the table to FILE instead of the terminal")
	fmt.Fprintf(w, "%-28s%s\n", "-s, --sort COLUMN[-]", "sort column, trailing '-' reverses the order")
	fmt.Fprintf(w, "%-28s%s\n", "-f, --filter GLOB", "show only paths matching GLOB")
	fmt.Fprintf(w, "%-28s%s\n", "-d, --delay SECONDS", "refresh interval (default 1)")
	fmt.Fprintf(w, "%-28s%s\n", "-p, --pid PID", "attach to a running process")
	fmt.Fprintf(w, "%-28s%s\n", "-c, --cmdline CMD ARGS...", "spawn CMD under trace (consumes the rest)")
	fmt.Fprintf(w, "%-28s%s\n", "-r, --record DIR", "record the session into DIR")
	fmt.Fprintf(w, "%-28s%s\n", "-v, --verbose", "debug logging")
	fmt.Fprintf(w, "Column names: %s\n", strings.Join(column.Names(), " "))
}
