// Package index implements the per-segment SQLite index (iseg) and the
// dataset-level manifest: the queryable side tables that sit next to the
// append-only data segments.
package index

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// Row is one md table entry: enough to resolve a hit back to its byte extent
// and reftime without decoding the full metadata. The caller combines Offset
// with the segment's `.metadata` sidecar, which lists records in offset
// order, to recover the full Metadata.
type Row struct {
	ID        int64
	Offset    int64
	Size      int64
	Reftime   string // SQLText form, 'YYYY-MM-DD HH:MM:SS'
	UniqueKey sql.NullString
}

// Segment is one segment's `<seg>.index` SQLite file. Schema:
//
//	attrs(code, id, payload)  -- interning table: one stable id per
//	                             distinct attribute payload seen in this
//	                             segment, shared by every attribute code
//	md(id, offset, size, notes, reftime, unique_key, c_<code>...)
//
// Opened with synchronous=OFF, journal_mode=MEMORY and read_uncommitted=1:
// readers may observe rows whose surrounding write has not committed, which
// is safe because data bytes are always flushed before their row is inserted
// and a rollback removes the row again.
type Segment struct {
	db           *sql.DB
	indexedCodes []types.Code
	uniqueCodes  []types.Code

	attrNextID map[types.Code]int64
}

// OpenSegment opens the iseg index at path, creating the schema on first
// open.
func OpenSegment(path string, indexedCodes, uniqueCodes []types.Code) (*Segment, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("index: open %q: %w", path, err)
	}
	for _, pragma := range []string{
		`PRAGMA synchronous = OFF`,
		`PRAGMA journal_mode = MEMORY`,
		`PRAGMA read_uncommitted = 1`,
		`PRAGMA busy_timeout = 3600000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("index: %s: %w", pragma, err)
		}
	}
	s := &Segment{db: db, indexedCodes: indexedCodes, uniqueCodes: uniqueCodes, attrNextID: make(map[types.Code]int64)}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Segment) ensureSchema() error {
	var cols []string
	for _, code := range s.indexedCodes {
		cols = append(cols, fmt.Sprintf("%s INTEGER", columnName(code)))
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS attrs (
			code INTEGER NOT NULL,
			id INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY(code, id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS attrs_payload ON attrs(code, payload)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS md (
			id INTEGER PRIMARY KEY,
			offset INTEGER NOT NULL,
			size INTEGER NOT NULL,
			notes BLOB,
			reftime TEXT NOT NULL,
			unique_key TEXT,
			%s
			UNIQUE(unique_key)
		)`, joinColsTrailingComma(cols)),
		`CREATE INDEX IF NOT EXISTS md_offset ON md(offset)`,
		`CREATE INDEX IF NOT EXISTS md_reftime ON md(reftime)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("index: create schema: %w", err)
		}
	}
	return nil
}

func joinColsTrailingComma(cols []string) string {
	if len(cols) == 0 {
		return ""
	}
	return strings.Join(cols, ",\n\t\t\t") + ",\n\t\t\t"
}

// columnName renders an attribute code as a SQL column name; hyphens in code
// names (assigned-dataset) aren't valid bare identifiers.
func columnName(code types.Code) string {
	return "c_" + strings.ReplaceAll(code.String(), "-", "_")
}

// internAttr returns the stable id for item's encoded payload under code,
// interning a new row the first time this exact payload is seen in this
// segment's index.
func (s *Segment) internAttr(code types.Code, item types.Item) (int64, error) {
	payload := item.EncodePayload()

	var id int64
	err := s.db.QueryRow(`SELECT id FROM attrs WHERE code = ? AND payload = ?`, int(code), payload).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("index: lookup attr: %w", err)
	}

	next, ok := s.attrNextID[code]
	if !ok {
		if err := s.db.QueryRow(`SELECT COALESCE(MAX(id), -1) FROM attrs WHERE code = ?`, int(code)).Scan(&next); err != nil {
			return 0, fmt.Errorf("index: max attr id: %w", err)
		}
	}
	next++
	if _, err := s.db.Exec(`INSERT INTO attrs(code, id, payload) VALUES (?, ?, ?)`, int(code), next, payload); err != nil {
		return 0, fmt.Errorf("index: intern attr: %w", err)
	}
	s.attrNextID[code] = next
	return next, nil
}

// LookupAttrIDs resolves each item in values to its interned id under code,
// skipping values never seen in this segment (they simply cannot match any
// row). This backs the matcher contract's "IN-clause over ids obtained by
// looking up the OR-list in the interning table".
func (s *Segment) LookupAttrIDs(code types.Code, values []types.Item) ([]int64, error) {
	var ids []int64
	for _, v := range values {
		var id int64
		err := s.db.QueryRow(`SELECT id FROM attrs WHERE code = ? AND payload = ?`, int(code), v.EncodePayload()).Scan(&id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("index: lookup attr ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ColumnName exposes columnName to the query package, which needs it to
// build SQL fragments for indexed codes.
func ColumnName(code types.Code) string { return columnName(code) }

// insertArgs is a (column, value) pair built up while assembling an INSERT
// statement, kept ordered since database/sql binds positionally.
type insertArgs struct {
	cols []string
	vals []any
}

func (a *insertArgs) add(col string, val any) {
	a.cols = append(a.cols, col)
	a.vals = append(a.vals, val)
}

// MDEntry is the subset of a Metadata the index cares about: its source
// extent, reftime, notes, and attribute values, kept decoupled from
// internal/metadata so index has no import-cycle risk with the package that
// will eventually call it (internal/dataset glues the two).
type MDEntry struct {
	Offset    int64
	Size      int64
	NotesBlob []byte
	Reftime   string // SQLText
	Attrs     map[types.Code]types.Item
	UniqueKey string
	HasUnique bool
}

// Insert adds one row for e, interning every configured indexed attribute
// code present on e.Attrs. A unique-key collision (when the dataset
// configures a non-empty `unique` set) is reported as
// errs.ErrDuplicateInsert, letting the writer route the message to the
// `duplicates` or `error` dataset.
func (s *Segment) Insert(e MDEntry) (int64, error) {
	args := insertArgs{}
	args.add("offset", e.Offset)
	args.add("size", e.Size)
	args.add("notes", e.NotesBlob)
	args.add("reftime", e.Reftime)
	if e.HasUnique {
		args.add("unique_key", e.UniqueKey)
	} else {
		args.add("unique_key", nil)
	}

	for _, code := range s.indexedCodes {
		var attrID any
		if item, ok := e.Attrs[code]; ok {
			id, err := s.internAttr(code, item)
			if err != nil {
				return 0, err
			}
			attrID = id
		}
		args.add(columnName(code), attrID)
	}

	placeholders := strings.Repeat("?,", len(args.cols))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf("INSERT INTO md (%s) VALUES (%s)", strings.Join(args.cols, ","), placeholders)

	res, err := s.db.Exec(query, args.vals...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("index: %w", errs.ErrDuplicateInsert)
		}
		return 0, fmt.Errorf("index: insert: %w", err)
	}
	return res.LastInsertId()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if ok := asSqliteErr(err, &sqliteErr); ok {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func asSqliteErr(err error, target *sqlite3.Error) bool {
	se, ok := err.(sqlite3.Error)
	if ok {
		*target = se
	}
	return ok
}

// GetByUniqueKey returns the row holding key's unique projection, used by
// the replace-on-duplicate path to find the record a new append supersedes.
func (s *Segment) GetByUniqueKey(key string) (Row, bool, error) {
	row := s.db.QueryRow(`SELECT id, offset, size, reftime, unique_key FROM md WHERE unique_key = ?`, key)
	var r Row
	err := row.Scan(&r.ID, &r.Offset, &r.Size, &r.Reftime, &r.UniqueKey)
	if err == sql.ErrNoRows {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("index: lookup unique key: %w", err)
	}
	return r, true, nil
}

// DeleteByOffset removes the row at offset, used by the dataset writer to
// drop a replaced record's row and to undo an insert whose append failed.
func (s *Segment) DeleteByOffset(offset int64) error {
	_, err := s.db.Exec(`DELETE FROM md WHERE offset = ?`, offset)
	if err != nil {
		return fmt.Errorf("index: delete offset %d: %w", offset, err)
	}
	return nil
}

// DeleteAll clears every row, used before a full TO_RESCAN re-insert.
func (s *Segment) DeleteAll() error {
	if _, err := s.db.Exec(`DELETE FROM md`); err != nil {
		return fmt.Errorf("index: delete all: %w", err)
	}
	return nil
}

// Rows returns every row in offset order, the same order a segment's data
// and its `.metadata` sidecar keep.
func (s *Segment) Rows() ([]Row, error) {
	return s.query("")
}

// Query runs whereSQL against the md table, in offset order.
func (s *Segment) Query(whereSQL string, args []any) ([]Row, error) {
	rows, err := s.db.Query(s.selectSQL(whereSQL), args...)
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}
	return scanRows(rows)
}

func (s *Segment) query(whereSQL string) ([]Row, error) {
	rows, err := s.db.Query(s.selectSQL(whereSQL))
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}
	return scanRows(rows)
}

func (s *Segment) selectSQL(whereSQL string) string {
	q := "SELECT id, offset, size, reftime, unique_key FROM md"
	if whereSQL != "" {
		q += " WHERE " + whereSQL
	}
	q += " ORDER BY offset"
	return q
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Offset, &r.Size, &r.Reftime, &r.UniqueKey); err != nil {
			return nil, fmt.Errorf("index: scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of indexed rows.
func (s *Segment) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM md`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return n, nil
}

// Close closes the underlying SQLite handle.
func (s *Segment) Close() error {
	return s.db.Close()
}
