// Package sqlite implements internal/storage.Store over SQLite-family files,
// using two connection pools: a single-connection
// write pool (the engine serialises writers anyway; making that explicit turns
// "database is locked" races into ordinary mutex waits) and a many-connection
// read pool. Query style is raw database/sql, no ORM, with JSON-marshalled
// nested fields, using SQLite's "?" placeholders and split across the two
// pools.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Store implements storage.Store with a write pool (maxOpen=1) and a read
// pool (maxOpen=readConns).
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// Open creates (if necessary) the SQLite file at path and returns a Store
// with its schema applied. readConns bounds the read pool's connection count.
func Open(path string, readConns int) (*Store, error) {
	if readConns <= 0 {
		readConns = 8
	}

	write, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open write pool: %w", err)
	}
	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)

	read, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read pool: %w", err)
	}
	read.SetMaxOpenConns(readConns)

	s := &Store{write: write, read: read}
	if err := s.init(); err != nil {
		write.Close()
		read.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.write.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	werr := s.write.Close()
	rerr := s.read.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// beginImmediate opens a write-pool transaction and performs a no-op write
// into the sentinel table as its first statement, emulating SQLite's
// "BEGIN IMMEDIATE" lock-on-begin semantics portably through database/sql
// (whose driver-level BeginTx options aren't guaranteed to map to it).
func (s *Store) beginImmediate(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return nil, gofererr.NewInternal("tx_begin", err.Error(), "")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE write_sentinel SET touched = touched WHERE id = 1`); err != nil {
		tx.Rollback()
		return nil, gofererr.NewInternal("tx_sentinel", err.Error(), "")
	}
	return tx, nil
}

func epochStr(ms int64) string {
	return strconv.FormatInt(ms, 10)
}

func parseEpoch(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int64) bool {
	return i != 0
}

var _ storage.Store = (*Store)(nil)
