package memory

import "errors"

var (
	// ErrPersistenceCorrupt means a persisted state exists but cannot be
	// decoded. It is never resolved by starting over with an empty state.
	ErrPersistenceCorrupt = errors.New("memory: persisted state is corrupt")

	// ErrPersistenceWrite means the state could not be saved. The in-memory
	// state is still valid; Manager.Flush retries the write.
	ErrPersistenceWrite = errors.New("memory: persisted state could not be written")

	// ErrEndpoint means the completion endpoint failed (transport, auth,
	// rate limit, or an unusable response).
	ErrEndpoint = errors.New("memory: completion endpoint failed")
)
