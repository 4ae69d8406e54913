//go:build linux

package record

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"github.com/mukovnin/psfiles/internal/event"
)

// Meta describes one recorded session.
type Meta struct {
	SessionID string `json:"session_id"`
	PID       int    `json:"pid"`
	Command   string `json:"command"`
	StartTS   int64  `json:"start_ts"`
	EndTS     int64  `json:"end_ts,omitempty"`
	Version   int    `json:"version"`
}

type line struct {
	Seq     int64  `json:"seq"`
	TS      int64  `json:"ts"` // unix nanos
	TID     int    `json:"tid"`
	Op      string `json:"op"`
	Path    string `json:"path"`
	Bytes   uint64 `json:"bytes,omitempty"`
	NewPath string `json:"new_path,omitempty"`
}

// Session appends every event to events.jsonl and mirrors it into a sqlite
// index for ad-hoc querying after the run. A recording failure disables the
// recorder with a warning; it never takes the monitor down.
type Session struct {
	mu     sync.Mutex
	dir    string
	meta   Meta
	f      *os.File
	w      *bufio.Writer
	db     *sql.DB
	ins    *sql.Stmt
	seq    int64
	broken bool
}

// Open creates the session directory and its files.
func Open(dir string, pid int, cmdline string) (*Session, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	s := &Session{
		dir: dir,
		meta: Meta{
			SessionID: uuid.NewString(),
			PID:       pid,
			Command:   cmdline,
			StartTS:   time.Now().UTC().UnixNano(),
			Version:   1,
		},
	}

	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open events log: %w", err)
	}
	s.f = f
	s.w = bufio.NewWriterSize(f, 256*1024)

	if err := s.openIndex(); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := s.writeMeta(); err != nil {
		_ = s.db.Close()
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) openIndex() error {
	path := filepath.Join(s.dir, "index.sqlite")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`CREATE TABLE IF NOT EXISTS events(
			seq INTEGER PRIMARY KEY,
			ts INTEGER,
			tid INTEGER,
			op TEXT,
			path TEXT,
			bytes INTEGER,
			new_path TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_path ON events(path);`,
		`CREATE INDEX IF NOT EXISTS idx_events_op ON events(op);`,
		`PRAGMA user_version=1;`,
	}
	for _, st := range stmts {
		if _, err := db.Exec(st); err != nil {
			_ = db.Close()
			return fmt.Errorf("sqlite init: %w", err)
		}
	}

	ins, err := db.Prepare(`INSERT INTO events(seq, ts, tid, op, path, bytes, new_path) VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("prepare insert: %w", err)
	}
	s.db = db
	s.ins = ins
	return nil
}

func (s *Session) writeMeta() error {
	b, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.dir, "meta.json.tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return os.Rename(tmp, filepath.Join(s.dir, "meta.json"))
}

// Record appends one event. Safe for concurrent use.
func (s *Session) Record(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return
	}
	s.seq++
	l := line{
		Seq:     s.seq,
		TS:      time.Now().UTC().UnixNano(),
		TID:     ev.TID,
		Op:      ev.Op.String(),
		Path:    ev.Path,
		Bytes:   ev.Bytes,
		NewPath: ev.NewPath,
	}
	if err := s.append(l); err != nil {
		log.Warnf("recording disabled: %v", err)
		s.broken = true
	}
}

func (s *Session) append(l line) error {
	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	if _, err := s.ins.Exec(l.Seq, l.TS, l.TID, l.Op, l.Path, l.Bytes, l.NewPath); err != nil {
		return fmt.Errorf("index event: %w", err)
	}
	return nil
}

// Close flushes the log, finalizes the metadata and closes the index.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ret error
	if err := s.w.Flush(); err != nil {
		ret = err
	}
	if err := s.f.Close(); err != nil && ret == nil {
		ret = err
	}
	if err := s.ins.Close(); err != nil && ret == nil {
		ret = err
	}
	if err := s.db.Close(); err != nil && ret == nil {
		ret = err
	}
	s.meta.EndTS = time.Now().UTC().UnixNano()
	if err := s.writeMeta(); err != nil && ret == nil {
		ret = err
	}
	return ret
}
