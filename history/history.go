// Package history is the persistent chat-history engine: it records
// messages, their senders and display names, associated file transfers and
// not-yet-delivered markers in a per-profile SQLite store, and serves
// paginated and search queries over them.
//
// All mutations are funneled through the rawdb write queue, so producers on
// any goroutine observe a single total order of batch application. Read
// paths drain the queue before querying and therefore see every write
// enqueued before them.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/meshtalk/histdb/rawdb"
)

// Options configures a History engine.
type Options struct {
	// Logger receives engine diagnostics; nil means slog.Default().
	Logger *slog.Logger

	// Enabled gates all writes. When false, AddMessage and AddFileMessage
	// drop their input without touching the store. The flag is passed in
	// explicitly (typically from config.Config.History.Enabled) rather than
	// read from any ambient state.
	Enabled bool
}

// History interacts with the profile database to save and load the chat
// history.
type History struct {
	db  *rawdb.DB
	log *slog.Logger

	enabled bool

	// offline is non-nil when the store cannot be used at all, e.g. the
	// on-disk schema is newer than this build supports.
	offline error

	mu      sync.Mutex
	peers   map[string]int64     // public key -> dense peer id
	pending map[string]*fileLink // transfer session id -> link state
}

// New prepares the store for use: it migrates the schema and preloads the
// peer cache. A store whose schema version is newer than supported is not
// an error: the engine comes up unavailable, logs the condition once, and
// every operation returns ErrStoreUnavailable.
func New(db *rawdb.DB, opts Options) (*History, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	h := &History{
		db:      db,
		log:     log,
		enabled: opts.Enabled,
		peers:   make(map[string]int64),
		pending: make(map[string]*fileLink),
	}

	if err := h.migrate(); err != nil {
		if errors.Is(err, ErrSchemaTooNew) {
			h.offline = fmt.Errorf("%w: %w", ErrStoreUnavailable, ErrSchemaTooNew)
			h.log.Warn("history disabled: database was written by a newer version", "error", err)
			return h, nil
		}
		return nil, err
	}

	if err := h.loadPeers(); err != nil {
		return nil, err
	}
	return h, nil
}

// Close drains all queued writes and releases the database handle.
func (h *History) Close() error {
	return h.db.Close()
}

// loadPeers caches the public-key to id mapping to speed up message saving.
func (h *History) loadPeers() error {
	rows, err := h.db.Handle().Query("SELECT public_key, id FROM peers;")
	if err != nil {
		return fmt.Errorf("load peers: %w", err)
	}
	defer rows.Close()

	h.mu.Lock()
	defer h.mu.Unlock()
	for rows.Next() {
		var key string
		var id int64
		if err := rows.Scan(&key, &id); err != nil {
			return fmt.Errorf("scan peer: %w", err)
		}
		h.peers[key] = id
	}
	return rows.Err()
}

// AddMessage saves a chat message. The write is deferred; onID, if set,
// receives the generated message row id after the batch commits, on the
// queue worker goroutine. delivered=false additionally records a pending
// delivery marker that MarkDelivered later clears.
func (h *History) AddMessage(chatKey, content, senderKey string, at time.Time, delivered bool, displayName string, onID func(int64)) error {
	if !h.enabled {
		h.log.Debug("history disabled, dropping message")
		return nil
	}
	if h.offline != nil {
		return h.offline
	}

	queries, err := h.messageQueries(chatKey, content, senderKey, at, delivered, displayName, onID)
	if err != nil {
		return err
	}
	h.db.ExecLater(queries...)
	return nil
}

// MarkDelivered clears the pending delivery marker for a message. Clearing
// an unknown id is a no-op.
func (h *History) MarkDelivered(messageID int64) error {
	if h.offline != nil {
		return h.offline
	}
	h.db.ExecLater(rawdb.Query{
		SQL:  "DELETE FROM faux_offline_pending WHERE id = ?;",
		Args: []any{messageID},
	})
	return nil
}

// HasHistory reports whether any messages are stored for the given chat.
func (h *History) HasHistory(chatKey string) bool {
	if h.offline != nil {
		return false
	}
	h.db.Sync()

	var one int
	err := h.db.Handle().QueryRow(`
		SELECT 1 FROM history
		JOIN peers chat ON chat_id = chat.id
		WHERE chat.public_key = ?
		LIMIT 1;`, chatKey).Scan(&one)
	return err == nil
}

// EraseAll removes every message, peer, alias, file transfer and pending
// marker from the store.
func (h *History) EraseAll() error {
	if h.offline != nil {
		return h.offline
	}

	err := h.db.ExecNow(
		rawdb.Query{SQL: "DELETE FROM faux_offline_pending;"},
		rawdb.Query{SQL: "DELETE FROM history;"},
		rawdb.Query{SQL: "DELETE FROM aliases;"},
		rawdb.Query{SQL: "DELETE FROM peers;"},
		rawdb.Query{SQL: "DELETE FROM file_transfers;"},
	)
	if err != nil {
		return eris.Wrap(ErrWriteRejected, err.Error())
	}

	h.mu.Lock()
	h.peers = make(map[string]int64)
	h.pending = make(map[string]*fileLink)
	h.mu.Unlock()

	return h.db.Vacuum()
}

// EraseForPeer removes exactly one peer's history: messages, pending
// markers, aliases, the peer row and file transfers. Other peers' data is
// untouched. Erasing a peer the store has never seen is a no-op.
func (h *History) EraseForPeer(chatKey string) error {
	if h.offline != nil {
		return h.offline
	}

	h.mu.Lock()
	id, ok := h.peers[chatKey]
	h.mu.Unlock()
	if !ok {
		return nil
	}

	err := h.db.ExecNow(
		rawdb.Query{
			SQL: `DELETE FROM faux_offline_pending WHERE id IN (
				SELECT faux_offline_pending.id FROM faux_offline_pending
				JOIN history ON faux_offline_pending.id = history.id
				WHERE chat_id = ?
			);`,
			Args: []any{id},
		},
		rawdb.Query{SQL: "DELETE FROM history WHERE chat_id = ?;", Args: []any{id}},
		rawdb.Query{SQL: "DELETE FROM aliases WHERE owner = ?;", Args: []any{id}},
		rawdb.Query{SQL: "DELETE FROM peers WHERE id = ?;", Args: []any{id}},
		rawdb.Query{SQL: "DELETE FROM file_transfers WHERE chat_id = ?;", Args: []any{id}},
	)
	if err != nil {
		return eris.Wrap(ErrWriteRejected, err.Error())
	}

	h.mu.Lock()
	delete(h.peers, chatKey)
	h.mu.Unlock()

	return h.db.Vacuum()
}
