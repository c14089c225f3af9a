package history

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// defaultFetchCount is the number of messages loaded when not loading by
// date range.
const defaultFetchCount = 100

// Message is one stored history record. Content and File are mutually
// exclusive: a plain message carries Content, a file-transfer message
// carries File and an empty Content.
type Message struct {
	ID          int64
	Pending     bool // delivery not yet confirmed
	Timestamp   time.Time
	ChatKey     string
	SenderKey   string
	DisplayName string
	Content     string
	File        *FileTransfer
}

// FileTransfer is the stored state of a transfer linked to a message.
type FileTransfer struct {
	ID        int64
	RestartID []byte
	Path      string
	Name      string
	Hash      []byte
	Size      int64
	Direction FileDirection
	State     FileState
}

const fetchColumns = `
	history.id AS id, faux_offline_pending.id AS pending_id, timestamp,
	chat.public_key AS chat_key, aliases.display_name, sender.public_key AS sender_key,
	message, file_transfers.id AS file_row_id, file_transfers.file_restart_id,
	file_transfers.file_path, file_transfers.file_name, file_transfers.file_hash,
	file_transfers.file_size, file_transfers.direction, file_transfers.file_state`

const fetchJoins = `
	FROM history
	LEFT JOIN faux_offline_pending ON history.id = faux_offline_pending.id
	JOIN peers chat ON history.chat_id = chat.id
	JOIN aliases ON sender_alias = aliases.id
	JOIN peers sender ON aliases.owner = sender.id
	LEFT JOIN file_transfers ON history.file_id = file_transfers.id`

// FetchByDateRange returns every message for a chat whose timestamp falls
// in [from, to], ordered by ascending id.
func (h *History) FetchByDateRange(chatKey string, from, to time.Time) ([]Message, error) {
	return h.fetch(chatKey, from, to, 0)
}

// FetchRecent returns the most recent limit messages for a chat, still
// ordered by ascending id. limit <= 0 means the default of 100.
func (h *History) FetchRecent(chatKey string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultFetchCount
	}
	return h.fetch(chatKey, time.UnixMilli(0), time.Now(), limit)
}

// StartDate returns the timestamp of the first message exchanged with a
// chat, or the zero time when there is none.
func (h *History) StartDate(chatKey string) (time.Time, error) {
	if h.offline != nil {
		return time.Time{}, h.offline
	}
	h.db.Sync()

	var ms int64
	err := h.db.Handle().QueryRow(`
		SELECT timestamp FROM history
		JOIN peers chat ON chat_id = chat.id
		WHERE chat.public_key = ?
		ORDER BY timestamp ASC LIMIT 1;`, chatKey).Scan(&ms)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("start date: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// fetch runs the range query. With a positive limit the query is wrapped
// so the newest limit rows are selected first and then re-sorted
// ascending: "the last N messages in range", not the first N.
func (h *History) fetch(chatKey string, from, to time.Time, limit int) ([]Message, error) {
	if h.offline != nil {
		return nil, h.offline
	}
	h.db.Sync()

	query := "SELECT" + fetchColumns + fetchJoins +
		" WHERE timestamp BETWEEN ? AND ? AND chat.public_key = ?"
	args := []any{from.UnixMilli(), to.UnixMilli(), chatKey}

	if limit > 0 {
		query = "SELECT * FROM (" + query + " ORDER BY history.id DESC LIMIT ?) AS recent ORDER BY recent.id ASC;"
		args = append(args, limit)
	} else {
		query += " ORDER BY history.id ASC;"
	}

	rows, err := h.db.Handle().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var (
		msg         Message
		pendingID   sql.NullInt64
		ms          int64
		displayName []byte
		content     []byte
		fileRowID   sql.NullInt64
		restartID   []byte
		filePath    []byte
		fileName    []byte
		fileHash    []byte
		fileSize    sql.NullInt64
		direction   sql.NullInt64
		fileState   sql.NullInt64
	)

	err := rows.Scan(&msg.ID, &pendingID, &ms, &msg.ChatKey, &displayName, &msg.SenderKey,
		&content, &fileRowID, &restartID, &filePath, &fileName, &fileHash,
		&fileSize, &direction, &fileState)
	if err != nil {
		return Message{}, fmt.Errorf("scan message: %w", err)
	}

	msg.Pending = pendingID.Valid
	msg.Timestamp = time.UnixMilli(ms)
	// Display names may carry NUL bytes from the wire; strip them so the
	// value stays usable as a Go string.
	msg.DisplayName = strings.ReplaceAll(string(displayName), "\x00", "")

	if fileRowID.Valid {
		msg.File = &FileTransfer{
			ID:        fileRowID.Int64,
			RestartID: restartID,
			Path:      string(filePath),
			Name:      string(fileName),
			Hash:      fileHash,
			Size:      fileSize.Int64,
			Direction: FileDirection(direction.Int64),
			State:     FileState(fileState.Int64),
		}
	} else {
		msg.Content = string(content)
	}
	return msg, nil
}
