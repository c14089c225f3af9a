package history

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/meshtalk/histdb/rawdb"
)

// publicKeyLen is the length of a peer's public identifier in hex
// characters.
const publicKeyLen = 64

// validatePublicKey rejects identifiers that are not fixed-length hex.
func validatePublicKey(key string) error {
	if len(key) != publicKeyLen {
		return eris.Wrapf(ErrInvalidIdentifier, "length %d, want %d", len(key), publicKeyLen)
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return eris.Wrapf(ErrInvalidIdentifier, "non-hex character at %d", i)
		}
	}
	return nil
}

// resolvePeerLocked returns the dense id for a public key, allocating the
// next id and returning the matching insert query on first sight. The
// cache is mutated before the row is durable; this is safe because every
// statement referencing the id is ordered after the insert, in the same or
// a later batch.
func (h *History) resolvePeerLocked(key string) (int64, *rawdb.Query) {
	if id, ok := h.peers[key]; ok {
		return id, nil
	}

	var id int64
	for _, existing := range h.peers {
		if existing >= id {
			id = existing + 1
		}
	}
	h.peers[key] = id

	return id, &rawdb.Query{
		SQL:  "INSERT INTO peers (id, public_key) VALUES (?, ?);",
		Args: []any{id, key},
	}
}

// messageQueries builds the batch that persists one message: peer inserts
// as needed, the alias dedup insert, the message insert and, for
// undelivered messages, the pending marker.
func (h *History) messageQueries(chatKey, content, senderKey string, at time.Time, delivered bool, displayName string, onID func(int64)) ([]rawdb.Query, error) {
	if err := validatePublicKey(chatKey); err != nil {
		return nil, err
	}
	if err := validatePublicKey(senderKey); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var queries []rawdb.Query

	chatID, insert := h.resolvePeerLocked(chatKey)
	if insert != nil {
		queries = append(queries, *insert)
	}
	senderID, insert := h.resolvePeerLocked(senderKey)
	if insert != nil {
		queries = append(queries, *insert)
	}

	// Identical (owner, display_name) pairs are common, so the alias insert
	// lets the database dedup them. When the conflict is ignored no row id
	// is generated, which is why the message insert derives the alias id
	// with the changes() test instead of a second round trip.
	queries = append(queries, rawdb.Query{
		SQL:  "INSERT OR IGNORE INTO aliases (owner, display_name) VALUES (?, ?);",
		Args: []any{senderID, []byte(displayName)},
	})

	queries = append(queries, rawdb.Query{
		SQL: `INSERT INTO history (timestamp, chat_id, message, sender_alias) VALUES (?, ?, ?, (
			CASE WHEN changes() = 0 THEN (
				SELECT id FROM aliases WHERE owner = ? AND display_name = ?
			) ELSE last_insert_rowid() END
		));`,
		Args:  []any{at.UnixMilli(), chatID, []byte(content), senderID, []byte(displayName)},
		RowID: onID,
	})

	if !delivered {
		queries = append(queries, rawdb.Query{
			SQL: "INSERT INTO faux_offline_pending (id) VALUES (last_insert_rowid());",
		})
	}

	return queries, nil
}
