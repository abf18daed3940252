package store

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/altianls/seatserver/internal/events"
)

//go:embed schema.sql
var schemaFS embed.FS

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting every query
// method below run either directly against the database or inside a
// transaction without duplicating their bodies.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// queries holds every typed query as a method set parameterised over a
// dbtx, shared by Store (direct) and Tx (transactional).
type queries struct {
	ex dbtx
}

// Store owns the database connection and the single-writer discipline
// spec.md §5 requires: one long-lived *sql.DB capped at one open
// connection, not a fresh connection per call the way the source does.
type Store struct {
	queries
	rawDB *sql.DB
	log   *slog.Logger
}

// Tx is a Store-shaped handle bound to a single database transaction. Seat
// Manager runs each public operation's read-quota-then-mutate sequence
// inside one Tx: since the underlying *sql.DB is capped at one open
// connection, holding a transaction open holds that sole connection,
// which serialises every other Store call behind it — the BEGIN
// IMMEDIATE-equivalent discipline spec.md §5 asks for.
type Tx struct {
	queries
	tx *sql.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction. Safe to call after Commit; returns
// sql.ErrTxDone in that case, which callers may ignore.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// Open opens (or creates) the SQLite database file at path with WAL mode,
// foreign keys and a busy timeout, then applies the idempotent schema. On
// first creation it installs one SiteLog row, mirroring spec.md §4.3
// ("Schema creation is idempotent... on first create the SiteLog gets one
// row").
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite performs best, and is only safe to serialise writes on, with
	// a single connection (spec.md §5 "one writer at a time").
	db.SetMaxOpenConns(1)

	s := &Store{queries: queries{ex: db}, rawDB: db, log: log}
	firstInstall, err := s.schemaAbsent()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("inspect schema: %w", err)
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read embedded schema: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if firstInstall {
		if err := s.installSiteLog(); err != nil {
			db.Close()
			return nil, fmt.Errorf("install site log: %w", err)
		}
		log.Info("schema installed", "event", events.ServiceStart, "version", SchemaVersion)
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.rawDB.Close() }

// DB exposes the underlying handle for callers that need direct access
// without a dedicated Store method.
func (s *Store) DB() *sql.DB { return s.rawDB }

// Begin starts a transaction. Seat Manager uses this to make TakeSeat's
// read-quota-then-insert sequence atomic with respect to other public
// operations on the same product (spec.md §5).
func (s *Store) Begin() (*Tx, error) {
	tx, err := s.rawDB.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{queries: queries{ex: tx}, tx: tx}, nil
}

func (s *Store) schemaAbsent() (bool, error) {
	var name string
	err := s.rawDB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='site_log'`).Scan(&name)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) installSiteLog() error {
	_, err := s.rawDB.Exec(
		`INSERT INTO site_log (install_date, version, notes, release_date) VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), SchemaVersion, "initial schema install", time.Now().UTC().Format("02/Jan/2006 15:04"),
	)
	return err
}
