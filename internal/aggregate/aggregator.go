package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/mukovnin/psfiles/internal/column"
	"github.com/mukovnin/psfiles/internal/event"
)

// Entry accumulates the per-path counters. Entries are created on the first
// event referencing a path and live for the rest of the run; only the
// aggregator mutates them.
type Entry struct {
	Path       string
	WriteBytes uint64
	ReadBytes  uint64
	WriteCount uint64
	ReadCount  uint64
	OpenCount  uint64
	CloseCount uint64
	Mapped     bool
	Renamed    bool
	Unlinked   bool
	LastTID    int
	LastAccess time.Time
	Filtered   bool

	seq int // insertion order, secondary sort key
}

// SpecialRank orders entries by their special flags for the spec column.
func (e *Entry) SpecialRank() int {
	r := 0
	if e.Mapped {
		r |= 4
	}
	if e.Renamed {
		r |= 2
	}
	if e.Unlinked {
		r |= 1
	}
	return r
}

// View is the read-only snapshot handed to a renderer. It is only valid for
// the duration of the Snapshot callback.
type View struct {
	Entries       []*Entry
	FilteredCount int
	MaxPathWidth  int
	SortColumn    column.Column
	Reverse       bool
	Filter        string
}

// Aggregator owns the path table. Events are ingested one at a time from the
// worker goroutine; snapshot queries sort lazily when the table changed. The
// sort/filter parameters live under their own lock so controller commands do
// not contend with event ingest, and the filtered count has a dedicated lock
// so it can be read cheaply for the hint line.
type Aggregator struct {
	mu      sync.Mutex
	entries []*Entry
	index   map[string]*Entry
	changed bool

	paramMu sync.Mutex
	sortCol column.Column
	reverse bool
	filter  string

	countMu       sync.Mutex
	filteredCount int

	maxPathWidth int
	now          func() time.Time
}

func New() *Aggregator {
	return &Aggregator{
		index:   make(map[string]*Entry),
		sortCol: column.Path,
		now:     time.Now,
	}
}

func (a *Aggregator) getOrCreate(path, filter string) *Entry {
	if e, ok := a.index[path]; ok {
		return e
	}
	e := &Entry{
		Path:     path,
		Filtered: matchFilter(filter, path),
		seq:      len(a.entries),
	}
	a.entries = append(a.entries, e)
	a.index[path] = e
	return e
}

func matchFilter(filter, path string) bool {
	if filter == "" {
		return true
	}
	return Match(filter, path)
}

// Ingest applies one event to the table. Events whose path is neither
// absolute nor a sentinel are dropped.
func (a *Aggregator) Ingest(ev event.Event) {
	if ev.Path == "" || (ev.Path[0] != '/' && ev.Path[0] != '*') {
		return
	}

	a.paramMu.Lock()
	filter := a.filter
	a.paramMu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	e := a.getOrCreate(ev.Path, filter)
	switch ev.Op {
	case event.Open:
		e.OpenCount++
	case event.Close:
		e.CloseCount++
	case event.Read:
		e.ReadCount++
		e.ReadBytes += ev.Bytes
	case event.Write:
		e.WriteCount++
		e.WriteBytes += ev.Bytes
	case event.Map:
		e.Mapped = true
	case event.Unlink:
		e.Unlinked = true
	case event.Rename:
		e.Renamed = true
		e.LastTID = ev.TID
		e.LastAccess = a.now()
		if ev.NewPath != "" {
			dst := a.getOrCreate(ev.NewPath, filter)
			a.merge(e, dst)
		}
		a.changed = true
		return
	}
	e.LastTID = ev.TID
	e.LastAccess = a.now()
	a.changed = true
}

// merge adds the source counters into the destination. The source entry is
// retained unchanged so rename history stays visible; a later reopen of the
// source path therefore accumulates on top of the old counters.
func (a *Aggregator) merge(src, dst *Entry) {
	dst.OpenCount += src.OpenCount
	dst.CloseCount += src.CloseCount
	dst.ReadCount += src.ReadCount
	dst.WriteCount += src.WriteCount
	dst.ReadBytes += src.ReadBytes
	dst.WriteBytes += src.WriteBytes
	dst.Mapped = dst.Mapped || src.Mapped
	dst.Unlinked = dst.Unlinked || src.Unlinked
	dst.LastTID = src.LastTID
	dst.LastAccess = src.LastAccess
}

// SetSortColumn selects the sort key and reports whether it changed.
func (a *Aggregator) SetSortColumn(c column.Column) bool {
	if !c.Valid() {
		return false
	}
	a.paramMu.Lock()
	changed := a.sortCol != c
	a.sortCol = c
	a.paramMu.Unlock()
	if changed {
		a.markChanged()
	}
	return changed
}

func (a *Aggregator) ToggleOrder() {
	a.paramMu.Lock()
	a.reverse = !a.reverse
	a.paramMu.Unlock()
	a.markChanged()
}

// SetFilter installs a new glob and re-evaluates every entry against it.
func (a *Aggregator) SetFilter(glob string) {
	a.paramMu.Lock()
	a.filter = glob
	a.paramMu.Unlock()

	a.mu.Lock()
	for _, e := range a.entries {
		e.Filtered = matchFilter(glob, e.Path)
	}
	a.changed = true
	a.mu.Unlock()
}

func (a *Aggregator) markChanged() {
	a.mu.Lock()
	a.changed = true
	a.mu.Unlock()
}

func (a *Aggregator) SortState() (column.Column, bool) {
	a.paramMu.Lock()
	defer a.paramMu.Unlock()
	return a.sortCol, a.reverse
}

// FilteredCount returns the number of entries matching the current filter as
// of the last snapshot.
func (a *Aggregator) FilteredCount() int {
	a.countMu.Lock()
	defer a.countMu.Unlock()
	return a.filteredCount
}

// Snapshot sorts the table if it changed since the last call and runs f with
// a view of it. The table lock is held for the duration of f.
func (a *Aggregator) Snapshot(f func(View)) {
	sortCol, reverse := a.SortState()
	a.paramMu.Lock()
	filter := a.filter
	a.paramMu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.changed {
		a.sortLocked(sortCol, reverse)
		count, width := 0, 0
		for _, e := range a.entries {
			if e.Filtered {
				count++
			}
			if n := len(e.Path); n > width {
				width = n
			}
		}
		a.maxPathWidth = width
		a.countMu.Lock()
		a.filteredCount = count
		a.countMu.Unlock()
		a.changed = false
	}

	f(View{
		Entries:       a.entries,
		FilteredCount: a.filteredCountLocked(),
		MaxPathWidth:  a.maxPathWidth,
		SortColumn:    sortCol,
		Reverse:       reverse,
		Filter:        filter,
	})
}

func (a *Aggregator) filteredCountLocked() int {
	a.countMu.Lock()
	defer a.countMu.Unlock()
	return a.filteredCount
}

// sortLocked stable-sorts the table: filtered-in entries first, then the
// chosen column, with insertion order (seq) as the tie-breaker.
func (a *Aggregator) sortLocked(col column.Column, reverse bool) {
	less := func(f, s *Entry) bool {
		switch col {
		case column.Path:
			return f.Path < s.Path
		case column.WriteSize:
			return f.WriteBytes < s.WriteBytes
		case column.ReadSize:
			return f.ReadBytes < s.ReadBytes
		case column.WriteCount:
			return f.WriteCount < s.WriteCount
		case column.ReadCount:
			return f.ReadCount < s.ReadCount
		case column.OpenCount:
			return f.OpenCount < s.OpenCount
		case column.CloseCount:
			return f.CloseCount < s.CloseCount
		case column.Special:
			return f.SpecialRank() < s.SpecialRank()
		case column.LastThread:
			return f.LastTID < s.LastTID
		case column.LastAccess:
			return f.LastAccess.Before(s.LastAccess)
		}
		return false
	}
	sort.SliceStable(a.entries, func(i, j int) bool {
		ei, ej := a.entries[i], a.entries[j]
		if ei.Filtered != ej.Filtered {
			return ei.Filtered
		}
		fi, fj := ei, ej
		if reverse {
			fi, fj = fj, fi
		}
		if less(fi, fj) {
			return true
		}
		if less(fj, fi) {
			return false
		}
		return ei.seq < ej.seq
	})
}
