package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"emberfall/server/internal/event"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS frames (
	frame INTEGER PRIMARY KEY,
	event_count INTEGER NOT NULL,
	appended_at_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS frame_events (
	frame INTEGER NOT NULL,
	idx INTEGER NOT NULL,
	record_frame INTEGER NOT NULL,
	type_id INTEGER NOT NULL,
	priority INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	source INTEGER NOT NULL,
	target INTEGER NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (frame, idx),
	FOREIGN KEY (frame) REFERENCES frames(frame)
);
`

// SQLite persists the ledger to a single database file, one row per
// frame plus one row per record keyed by (frame, idx) so the realized
// dispatch order survives byte-for-byte.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a ledger database at path and
// applies the schema. WAL keeps the dispatcher's appends from stalling
// concurrent readers such as ledgerctl.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger: sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Append implements Ledger. The frame row and its event rows commit in
// one transaction so a crash never leaves a half-written frame behind.
func (s *SQLite) Append(frame uint64, events []event.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("ledger: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT INTO frames (frame, event_count, appended_at_ms) VALUES (?, ?, ?)`,
		int64(frame), len(events), time.Now().UTC().UnixMilli(),
	); err != nil {
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("%w: frame %d", ErrDuplicateFrame, frame)
		}
		return fmt.Errorf("ledger: insert frame %d: %w", frame, err)
	}

	if len(events) > 0 {
		stmt, err := tx.Prepare(
			`INSERT INTO frame_events (frame, idx, record_frame, type_id, priority, seq, source, target, payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return fmt.Errorf("ledger: prepare event insert: %w", err)
		}
		defer stmt.Close()
		for i := range events {
			rec := &events[i]
			if _, err := stmt.Exec(
				int64(frame), i, int64(rec.Frame),
				int64(rec.TypeID), int64(rec.Priority), int64(rec.Seq),
				int64(rec.Source), int64(rec.Target),
				rec.PayloadBytes(),
			); err != nil {
				return fmt.Errorf("ledger: insert frame %d event %d: %w", frame, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit frame %d: %w", frame, err)
	}
	return nil
}

// LoadRange implements Ledger.
func (s *SQLite) LoadRange(start, end uint64) ([]Entry, error) {
	if start > end {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, start, end)
	}
	frameRows, err := s.db.Query(
		`SELECT frame, event_count FROM frames WHERE frame BETWEEN ? AND ? ORDER BY frame`,
		int64(start), int64(end),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: query frames: %w", err)
	}
	defer frameRows.Close()

	var entries []Entry
	index := make(map[uint64]int)
	for frameRows.Next() {
		var frame int64
		var count int
		if err := frameRows.Scan(&frame, &count); err != nil {
			return nil, fmt.Errorf("ledger: scan frame row: %w", err)
		}
		index[uint64(frame)] = len(entries)
		entries = append(entries, Entry{Frame: uint64(frame), Events: make([]event.Record, 0, count)})
	}
	if err := frameRows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate frames: %w", err)
	}

	eventRows, err := s.db.Query(
		`SELECT frame, record_frame, type_id, priority, seq, source, target, payload
		 FROM frame_events WHERE frame BETWEEN ? AND ? ORDER BY frame, idx`,
		int64(start), int64(end),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: query events: %w", err)
	}
	defer eventRows.Close()
	for eventRows.Next() {
		var frame, recordFrame, typeID, priority, seq, source, target int64
		var payload []byte
		if err := eventRows.Scan(&frame, &recordFrame, &typeID, &priority, &seq, &source, &target, &payload); err != nil {
			return nil, fmt.Errorf("ledger: scan event row: %w", err)
		}
		at, ok := index[uint64(frame)]
		if !ok {
			return nil, fmt.Errorf("ledger: orphan event row for frame %d", frame)
		}
		rec := event.Record{
			TypeID:   uint16(typeID),
			Priority: event.Priority(priority),
			Seq:      uint32(seq),
			Frame:    uint64(recordFrame),
			Source:   event.EntityID(source),
			Target:   event.EntityID(target),
		}
		if err := rec.SetPayload(payload); err != nil {
			return nil, fmt.Errorf("ledger: frame %d payload: %w", frame, err)
		}
		entries[at].Events = append(entries[at].Events, rec)
	}
	if err := eventRows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate events: %w", err)
	}
	return entries, nil
}

// VerifyContiguous implements Ledger.
func (s *SQLite) VerifyContiguous(start, end uint64) ([]uint64, error) {
	if start > end {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, start, end)
	}
	rows, err := s.db.Query(
		`SELECT frame FROM frames WHERE frame BETWEEN ? AND ? ORDER BY frame`,
		int64(start), int64(end),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: query frames: %w", err)
	}
	defer rows.Close()
	var present []uint64
	for rows.Next() {
		var frame int64
		if err := rows.Scan(&frame); err != nil {
			return nil, fmt.Errorf("ledger: scan frame row: %w", err)
		}
		present = append(present, uint64(frame))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate frames: %w", err)
	}
	return missingInRange(start, end, present), nil
}

// Bounds implements Ledger.
func (s *SQLite) Bounds() (uint64, uint64, bool, error) {
	var first, last sql.NullInt64
	err := s.db.QueryRow(`SELECT MIN(frame), MAX(frame) FROM frames`).Scan(&first, &last)
	if err != nil {
		return 0, 0, false, fmt.Errorf("ledger: query bounds: %w", err)
	}
	if !first.Valid || !last.Valid {
		return 0, 0, false, nil
	}
	return uint64(first.Int64), uint64(last.Int64), true, nil
}

// Close implements Ledger.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}
