package sealcap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Import SQLite driver for database/sql
)

type sqliteStore struct{ db *sql.DB }

// OpenSQLiteStore opens/creates a SQLite DB and ensures schema + PRAGMAs.
func OpenSQLiteStore(dsn string) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	st := &sqliteStore{db: db}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA wal_autocheckpoint=1000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS seals (
  seq         INTEGER PRIMARY KEY,
  captured_at INTEGER NOT NULL,
  source      INTEGER NOT NULL,
  value       INTEGER NOT NULL,
  mono        INTEGER NOT NULL,
  session     INTEGER NOT NULL,
  crc16       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tail (
  id      INTEGER PRIMARY KEY CHECK(id=1),
  seq     INTEGER NOT NULL,
  mono    INTEGER NOT NULL,
  session INTEGER NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// Append stores one entry and updates the tail state in one transaction.
func (s *sqliteStore) Append(e Entry, tail TailState) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM seals`).Scan(&maxSeq.Int64); err != nil {
		return err
	}
	if uint64(maxSeq.Int64) != e.Seq-1 {
		return fmt.Errorf("non-contiguous append: have %d, got %d", maxSeq.Int64, e.Seq)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO seals(seq, captured_at, source, value, mono, session, crc16) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		e.Seq, e.CapturedAt, e.Source, e.Record.Value, e.Record.Mono, e.Record.Session, e.Record.CRC16); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tail(id, seq, mono, session) VALUES(1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET seq=excluded.seq, mono=excluded.mono, session=excluded.session`,
		tail.Seq, tail.Mono, tail.Session); err != nil {
		return err
	}

	return tx.Commit()
}

// Iter returns a channel that streams entries starting from startSeq in
// ascending order.
func (s *sqliteStore) Iter(startSeq uint64) (<-chan Entry, func() error, error) {
	ctx, cancel := context.WithCancel(context.Background())
	query := `SELECT seq, captured_at, source, value, mono, session, crc16 FROM seals WHERE seq >= ? ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, query, startSeq)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	out := make(chan Entry, 64)
	go func() {
		defer close(out)
		defer rows.Close()
		defer cancel()
		for rows.Next() {
			var seq uint64
			var capturedAt int64
			var source, session uint8
			var value, mono uint32
			var crc16 uint16
			if err := rows.Scan(&seq, &capturedAt, &source, &value, &mono, &session, &crc16); err != nil {
				return
			}
			e := Entry{
				Seq:        seq,
				CapturedAt: capturedAt,
				Source:     source,
				Record:     Record{Value: value, Mono: mono, Session: session, CRC16: crc16},
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() error { cancel(); return nil }, nil
}

// Tail returns the current tail state.
func (s *sqliteStore) Tail() (TailState, bool, error) {
	var tail TailState
	err := s.db.QueryRow(`SELECT seq, mono, session FROM tail WHERE id=1`).
		Scan(&tail.Seq, &tail.Mono, &tail.Session)
	if errors.Is(err, sql.ErrNoRows) {
		return tail, false, nil
	}
	if err != nil {
		return tail, false, err
	}
	return tail, true, nil
}

// Close closes the underlying database.
func (s *sqliteStore) Close() error { return s.db.Close() }
