// Package rawdb provides serialized, batched write access to a profile's
// SQLite database.
//
// All mutating statements go through a single worker goroutine: a batch of
// queries is applied inside one transaction, batches are applied strictly in
// submission order regardless of which goroutine enqueued them, and
// per-statement insert-id callbacks fire only after the batch has committed.
// Read queries bypass the queue entirely; callers that need read-after-write
// consistency call Sync (or use ExecNow) first.
package rawdb

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
)

// ErrClosed is returned by ExecNow after Close has been called.
var ErrClosed = eris.New("database is closed")

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// Query is a single SQL statement queued for execution.
type Query struct {
	SQL  string
	Args []any

	// RowID, if set, receives the row id generated by this statement once
	// its batch has committed. It is skipped when the statement inserted no
	// row, e.g. on an ignored conflict. It runs on the worker goroutine and
	// may enqueue further batches with ExecLater, but must never block on
	// ExecNow or Sync.
	RowID func(id int64)
}

type batch struct {
	queries []Query
	done    chan error // nil for deferred batches
}

// DB wraps an open SQLite handle with the write queue.
type DB struct {
	db  *sql.DB
	log *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*batch
	closed  bool

	stopped chan struct{}
}

// New wraps an already-opened database handle. The handle's driver must
// provide a regexp() SQL function for search queries to work; Open sets one
// up. New takes ownership of the handle: Close closes it.
func New(sqlDB *sql.DB, log *slog.Logger) *DB {
	if log == nil {
		log = slog.Default()
	}
	d := &DB{
		db:      sqlDB,
		log:     log,
		stopped: make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

// Open opens or creates the database at the given path and wraps it.
func Open(path string, log *slog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	sqlDB, err := sql.Open(driverName, path+defaultSQLiteParams)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return New(sqlDB, log), nil
}

// Handle returns the underlying database connection for read queries.
func (d *DB) Handle() *sql.DB {
	return d.db
}

// ExecLater enqueues one batch and returns immediately. A failed batch is
// rolled back, logged and dropped; there is no caller left to notify.
// After Close the batch is silently discarded.
func (d *DB) ExecLater(queries ...Query) {
	d.enqueue(&batch{queries: queries})
}

// ExecNow enqueues one batch and blocks until it, and every batch queued
// before it, has been applied.
func (d *DB) ExecNow(queries ...Query) error {
	b := &batch{queries: queries, done: make(chan error, 1)}
	if !d.enqueue(b) {
		return ErrClosed
	}
	return <-b.done
}

// Sync blocks until the queue is empty, including batches enqueued by
// insert-id callbacks while draining.
func (d *DB) Sync() {
	for {
		b := &batch{done: make(chan error, 1)}
		if !d.enqueue(b) {
			return
		}
		<-b.done

		d.mu.Lock()
		n := len(d.pending)
		d.mu.Unlock()
		if n == 0 {
			return
		}
	}
}

// Vacuum drains the queue and compacts the database. VACUUM cannot run
// inside a transaction, so it bypasses the batch path.
func (d *DB) Vacuum() error {
	d.Sync()
	if _, err := d.db.Exec("VACUUM;"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// Close drains all queued work, stops the worker and closes the handle.
// No batch submitted before Close begins is lost.
func (d *DB) Close() error {
	d.Sync()

	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	<-d.stopped
	return d.db.Close()
}

func (d *DB) enqueue(b *batch) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.pending = append(d.pending, b)
	d.cond.Signal()
	return true
}

func (d *DB) loop() {
	defer close(d.stopped)
	for {
		d.mu.Lock()
		for len(d.pending) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.pending) == 0 {
			d.mu.Unlock()
			return
		}
		b := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()

		err := d.apply(b)
		if b.done != nil {
			b.done <- err
		} else if err != nil {
			d.log.Error("dropping failed write batch", "error", err)
		}
	}
}

// apply runs one batch inside a transaction and, on commit, fires the
// insert-id callbacks for statements that generated a row.
func (d *DB) apply(b *batch) error {
	if len(b.queries) == 0 {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}

	type firing struct {
		fn func(int64)
		id int64
	}
	var firings []firing

	for _, q := range b.queries {
		res, err := tx.Exec(q.SQL, q.Args...)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("exec %q: %w", q.SQL, err)
		}
		if q.RowID == nil {
			continue
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			continue
		}
		id, err := res.LastInsertId()
		if err != nil {
			continue
		}
		firings = append(firings, firing{q.RowID, id})
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	// Callbacks run after durability, still on the worker goroutine, so the
	// batches they enqueue extend the total order without reordering
	// anything already applied.
	for _, f := range firings {
		f.fn(f.id)
	}
	return nil
}
