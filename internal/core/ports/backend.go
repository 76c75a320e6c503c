package ports

import (
	"context"

	"github.com/genc-murat/ringtsdb/internal/core/models"
)

// ReadTx is one read-only snapshot of the backend.
type ReadTx interface {
	// Get returns nil for an absent key.
	Get(key []byte) ([]byte, error)
	// GetRange returns key/value pairs in [begin, end), key-ordered, at most
	// limit of them (0 means backend default).
	GetRange(begin, end []byte, limit int) ([]models.KeyValue, error)
}

// Tx is a serializable read-write transaction. Mutations buffer until the
// surrounding Transact commits; commit is atomic across all of them.
type Tx interface {
	ReadTx
	Set(key, value []byte)
	Clear(key []byte)
	ClearRange(begin, end []byte)
}

// Backend is the transactional ordered KV store underneath the engine. The
// handle is process-wide with explicit open/close; operations take it as an
// argument rather than reaching for ambient state.
type Backend interface {
	// ReadTransact runs fn against a read-only snapshot.
	ReadTransact(ctx context.Context, fn func(ReadTx) error) error
	// Transact runs fn in a serializable transaction, retrying transient
	// failures within the configured budget. fn may run more than once and
	// must be idempotent up to its writes.
	Transact(ctx context.Context, fn func(Tx) error) error
	Close() error
}
