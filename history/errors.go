package history

import "github.com/rotisserie/eris"

// Sentinel errors reported by the engine. Callers match them with errors.Is.
var (
	// ErrStoreUnavailable means the store cannot serve requests at all;
	// every operation degrades to a no-op or an empty result.
	ErrStoreUnavailable = eris.New("history store unavailable")

	// ErrSchemaTooNew means the on-disk schema version is newer than this
	// build supports. It always accompanies ErrStoreUnavailable.
	ErrSchemaTooNew = eris.New("database schema is newer than supported")

	// ErrWriteRejected means a synchronously applied batch failed.
	ErrWriteRejected = eris.New("write batch rejected")

	// ErrInvalidIdentifier means a peer public key is malformed.
	ErrInvalidIdentifier = eris.New("invalid peer public key")

	// ErrInvalidPattern means a regex-mode search phrase does not compile.
	ErrInvalidPattern = eris.New("invalid search pattern")
)
