package history

import (
	"time"

	"github.com/meshtalk/histdb/rawdb"
)

// FileDirection tells whether the local user sent or received a transfer.
type FileDirection int

const (
	FileSending FileDirection = iota
	FileReceiving
)

// FileState is the persisted state of a file transfer. Rows are inserted
// as FileCanceled and flipped exactly once when the transfer's outcome is
// reported: success becomes FileFinished, failure or cancellation stays
// FileCanceled.
type FileState int

const (
	FileCanceled FileState = iota
	FilePaused
	FileTransmitting
	FileFinished
)

// fileLink tracks one in-flight transfer between three independently timed
// events: the message row being created, the file_transfers row being
// created, and the transfer's outcome being reported. rowID is -1 until
// the file_transfers row exists. The entry is removed once the row exists
// and the finishing update has been enqueued.
type fileLink struct {
	finished bool
	success  bool
	path     string
	hash     []byte
	rowID    int64
}

// fileInsertion carries the transfer metadata from AddFileMessage to the
// message-id callback that creates the file_transfers row.
type fileInsertion struct {
	chatKey   string
	sessionID string
	fileName  string
	filePath  string
	size      int64
	direction FileDirection
}

// AddFileMessage saves a file-transfer message. The message row, the
// file_transfers row and the transfer's outcome arrive asynchronously and
// in unpredictable order; the engine links them by the transfer session id
// so that SetFileFinished may be called at any point after this.
func (h *History) AddFileMessage(chatKey, sessionID, fileName, filePath string, size int64, senderKey string, at time.Time, displayName string) error {
	if !h.enabled {
		h.log.Debug("history disabled, dropping file message")
		return nil
	}
	if h.offline != nil {
		return h.offline
	}

	direction := FileSending
	if senderKey == chatKey {
		direction = FileReceiving
	}

	h.mu.Lock()
	h.pending[sessionID] = &fileLink{rowID: -1}
	h.mu.Unlock()

	ins := fileInsertion{
		chatKey:   chatKey,
		sessionID: sessionID,
		fileName:  fileName,
		filePath:  filePath,
		size:      size,
		direction: direction,
	}

	// The alias and file-transfer inserts both generate ids, and a single
	// batch can only thread one generated id into the message row. So the
	// message is stored first, with empty content, and its id callback
	// chains the file-transfer batch.
	return h.AddMessage(chatKey, "", senderKey, at, true, displayName, func(messageID int64) {
		h.onMessageRowReady(ins, messageID)
	})
}

// onMessageRowReady runs on the queue worker once the message row exists.
// It inserts the file_transfers row and patches the message's file_id in
// one batch; the insert's own id callback advances the link state.
func (h *History) onMessageRowReady(ins fileInsertion, messageID int64) {
	h.mu.Lock()
	chatID := h.peers[ins.chatKey] // present: AddMessage just resolved it
	h.mu.Unlock()

	sessionID := ins.sessionID
	h.db.ExecLater(
		rawdb.Query{
			SQL: `INSERT INTO file_transfers
				(chat_id, file_restart_id, file_path, file_name, file_hash, file_size, direction, file_state)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
			Args: []any{
				chatID, []byte(sessionID), []byte(ins.filePath), []byte(ins.fileName),
				[]byte{}, ins.size, int(ins.direction), int(FileCanceled),
			},
			RowID: func(rowID int64) { h.onFileRowInserted(sessionID, rowID) },
		},
		rawdb.Query{
			SQL:  "UPDATE history SET file_id = last_insert_rowid() WHERE id = ?;",
			Args: []any{messageID},
		},
	)
}

// onFileRowInserted runs on the queue worker once the file_transfers row
// exists. An outcome that was reported before the row existed is applied
// now; otherwise the database id is recorded for SetFileFinished.
func (h *History) onFileRowInserted(sessionID string, rowID int64) {
	h.mu.Lock()
	link, ok := h.pending[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if link.finished {
		delete(h.pending, sessionID)
		h.mu.Unlock()
		h.db.ExecLater(fileFinishedQuery(rowID, link.success, link.path, link.hash))
		return
	}
	link.rowID = rowID
	h.mu.Unlock()
}

// SetFileFinished records a transfer's final outcome. If the
// file_transfers row already exists the finishing update is enqueued
// immediately; otherwise the outcome is held until the row's id becomes
// known. Exactly one finishing update is applied per transfer.
func (h *History) SetFileFinished(sessionID string, success bool, finalPath string, finalHash []byte) error {
	if h.offline != nil {
		return h.offline
	}

	h.mu.Lock()
	link, ok := h.pending[sessionID]
	if !ok {
		h.mu.Unlock()
		h.log.Warn("finish reported for unknown transfer", "session", sessionID)
		return nil
	}
	if link.rowID < 0 {
		link.finished = true
		link.success = success
		link.path = finalPath
		link.hash = finalHash
		h.mu.Unlock()
		return nil
	}
	rowID := link.rowID
	delete(h.pending, sessionID)
	h.mu.Unlock()

	h.db.ExecLater(fileFinishedQuery(rowID, success, finalPath, finalHash))
	return nil
}

func fileFinishedQuery(rowID int64, success bool, path string, hash []byte) rawdb.Query {
	state := FileCanceled
	if success {
		state = FileFinished
	}
	if hash == nil {
		hash = []byte{}
	}
	if path != "" {
		return rawdb.Query{
			SQL:  "UPDATE file_transfers SET file_state = ?, file_path = ?, file_hash = ? WHERE id = ?;",
			Args: []any{int(state), []byte(path), hash, rowID},
		}
	}
	return rawdb.Query{
		SQL:  "UPDATE file_transfers SET file_state = ? WHERE id = ?;",
		Args: []any{int(state), rowID},
	}
}
