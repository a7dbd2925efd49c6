package index

import (
	"bufio"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/fsutil"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// Entry is one manifest row: a segment's relative path, its reftime span,
// last modification time, and a content checksum used by maintenance to
// detect TO_RESCAN.
type Entry struct {
	RelPath    string
	MinReftime types.Time
	MaxReftime types.Time
	MTime      time.Time
	Checksum   string
}

// Manifest is the dataset-level index of segments. Two physical encodings
// are supported: plain text (simple/ondisk2 datasets historically wrote a
// flat file) and SQLite (the form the rest of this port prefers for new
// datasets). The text encoding does not store Entry.Checksum (see
// TextManifest); otherwise both behave alike. Both share this interface so
// internal/dataset and internal/maintenance never care which one backs a
// given dataset.
type Manifest interface {
	Entries() ([]Entry, error)
	Get(relpath string) (Entry, bool, error)
	Put(e Entry) error
	Remove(relpath string) error
	Flush() error
	Close() error
}

// --- SQLite manifest
// -------------------------------------------------------

// SQLiteManifest is the SQLite-backed manifest encoding.
type SQLiteManifest struct {
	db *sql.DB
}

// OpenSQLiteManifest opens (creating the schema if absent) the manifest at
// path.
func OpenSQLiteManifest(path string) (*SQLiteManifest, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("index: open manifest %q: %w", path, err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS segments (
		relpath TEXT PRIMARY KEY,
		min_reftime TEXT NOT NULL,
		max_reftime TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		checksum TEXT
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("index: create manifest schema: %w", err)
	}
	return &SQLiteManifest{db: db}, nil
}

func (m *SQLiteManifest) Entries() ([]Entry, error) {
	rows, err := m.db.Query(`SELECT relpath, min_reftime, max_reftime, mtime, checksum FROM segments ORDER BY relpath`)
	if err != nil {
		return nil, fmt.Errorf("index: manifest entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanManifestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanManifestRow(row scanner) (Entry, error) {
	var relpath, minRT, maxRT string
	var mtimeUnix int64
	var checksum sql.NullString
	if err := row.Scan(&relpath, &minRT, &maxRT, &mtimeUnix, &checksum); err != nil {
		return Entry{}, fmt.Errorf("index: scan manifest row: %w", err)
	}
	min, err := parseSQLTime(minRT)
	if err != nil {
		return Entry{}, err
	}
	max, err := parseSQLTime(maxRT)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		RelPath:    relpath,
		MinReftime: min,
		MaxReftime: max,
		MTime:      time.Unix(mtimeUnix, 0).UTC(),
		Checksum:   checksum.String,
	}, nil
}

func parseSQLTime(s string) (types.Time, error) {
	if s == "9999-12-31 23:59:59" {
		return types.Time{}, nil
	}
	var y, mo, d, h, mi, se int
	if _, err := fmt.Sscanf(s, "%04d-%02d-%02d %02d:%02d:%02d", &y, &mo, &d, &h, &mi, &se); err != nil {
		return types.Time{}, fmt.Errorf("index: parse reftime %q: %w", s, err)
	}
	return types.Time{Year: uint16(y), Month: uint8(mo), Day: uint8(d), Hour: uint8(h), Minute: uint8(mi), Second: uint8(se)}, nil
}

func (m *SQLiteManifest) Get(relpath string) (Entry, bool, error) {
	row := m.db.QueryRow(`SELECT relpath, min_reftime, max_reftime, mtime, checksum FROM segments WHERE relpath = ?`, relpath)
	e, err := scanManifestRow(row)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	// database/sql wraps ErrNoRows inside Scan, not returned directly by
	// QueryRow, so check the wrapped form too.
	if err != nil && strings.Contains(err.Error(), sql.ErrNoRows.Error()) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (m *SQLiteManifest) Put(e Entry) error {
	_, err := m.db.Exec(`INSERT INTO segments(relpath, min_reftime, max_reftime, mtime, checksum)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(relpath) DO UPDATE SET min_reftime=excluded.min_reftime,
			max_reftime=excluded.max_reftime, mtime=excluded.mtime, checksum=excluded.checksum`,
		e.RelPath, e.MinReftime.SQLText(), e.MaxReftime.SQLText(), e.MTime.Unix(), e.Checksum)
	if err != nil {
		return fmt.Errorf("index: manifest put %q: %w", e.RelPath, err)
	}
	return nil
}

func (m *SQLiteManifest) Remove(relpath string) error {
	if _, err := m.db.Exec(`DELETE FROM segments WHERE relpath = ?`, relpath); err != nil {
		return fmt.Errorf("index: manifest remove %q: %w", relpath, err)
	}
	return nil
}

// Flush is a no-op for the SQLite encoding: every Put/Remove commits
// immediately.
func (m *SQLiteManifest) Flush() error { return nil }

func (m *SQLiteManifest) Close() error { return m.db.Close() }

// --- Text manifest
// ----------------------------------------------------------

// TextManifest is the plain-text manifest encoding: one line per segment,
// tab-separated, rewritten atomically on Flush rather than appended in
// place, since the whole manifest is small enough to rewrite wholesale on
// every flush.
//
// A line holds relpath, min reftime, max reftime and mtime only. Entry.Checksum
// is kept in memory after Put but is not written by Flush, so it reads back
// empty once the manifest is reopened.
type TextManifest struct {
	path    string
	entries map[string]Entry
	dirty   bool
}

// OpenTextManifest loads (or creates, if absent) the text manifest at path.
func OpenTextManifest(path string) (*TextManifest, error) {
	m := &TextManifest{path: path, entries: make(map[string]Entry)}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("index: open manifest %q: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := parseManifestLine(line)
		if err != nil {
			return nil, fmt.Errorf("index: parse manifest %q: %w", path, err)
		}
		m.entries[e.RelPath] = e
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("index: read manifest %q: %w", path, err)
	}
	return m, nil
}

func parseManifestLine(line string) (Entry, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 4 {
		return Entry{}, fmt.Errorf("expected 4 tab-separated fields, got %d", len(fields))
	}
	min, err := parseSQLTime(fields[1])
	if err != nil {
		return Entry{}, err
	}
	max, err := parseSQLTime(fields[2])
	if err != nil {
		return Entry{}, err
	}
	mtimeUnix, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parse mtime: %w", err)
	}
	return Entry{RelPath: fields[0], MinReftime: min, MaxReftime: max, MTime: time.Unix(mtimeUnix, 0).UTC()}, nil
}

func (m *TextManifest) Entries() ([]Entry, error) {
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out, nil
}

func (m *TextManifest) Get(relpath string) (Entry, bool, error) {
	e, ok := m.entries[relpath]
	return e, ok, nil
}

func (m *TextManifest) Put(e Entry) error {
	m.entries[e.RelPath] = e
	m.dirty = true
	return nil
}

func (m *TextManifest) Remove(relpath string) error {
	delete(m.entries, relpath)
	m.dirty = true
	return nil
}

// Flush rewrites the whole manifest file atomically.
func (m *TextManifest) Flush() error {
	if !m.dirty {
		return nil
	}
	entries, _ := m.Entries()

	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s\t%s\t%s\t%d\n", e.RelPath, e.MinReftime.SQLText(), e.MaxReftime.SQLText(), e.MTime.Unix())
	}
	if err := fsutil.WriteFileAtomic(m.path, []byte(sb.String())); err != nil {
		return fmt.Errorf("index: flush manifest %q: %w", m.path, err)
	}
	m.dirty = false
	return nil
}

func (m *TextManifest) Close() error { return m.Flush() }
