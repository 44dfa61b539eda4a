package reminder

import "context"

// Repository defines the operations for persisting and retrieving ledger
// entries. The engine is the single writer per key (serialized by the per-key
// critical section in the app layer); readers may run concurrently.
type Repository interface {
	Create(ctx context.Context, entry *LedgerEntry) error
	Update(ctx context.Context, entry *LedgerEntry) error
	Get(ctx context.Context, key string) (*LedgerEntry, error)
	Delete(ctx context.Context, key string) error
	ListAll(ctx context.Context) ([]*LedgerEntry, error)
}

// SourceProvider is an optional hook the host can supply so a full
// reconciliation pass can pick up domain changes missed while the process was
// suspended. The engine works without it: ledger entries are self-sufficient.
type SourceProvider interface {
	ListActiveSources(ctx context.Context) ([]Source, error)
}
