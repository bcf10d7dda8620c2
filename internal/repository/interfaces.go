package repository

import (
	"context"

	"github.com/locationtracker/agent/internal/models"
)

// LocalStore is durable keyed storage for domain records on the device
type LocalStore interface {
	// GetAll returns every record of the kind, oldest first
	GetAll(ctx context.Context, kind models.RecordKind) ([]models.Record, error)
	// GetUnsynchronized returns records of the kind not yet accepted by the remote store
	GetUnsynchronized(ctx context.Context, kind models.RecordKind) ([]models.Record, error)
	// Cursor returns the last stored pull cursor, or "" if none was stored
	Cursor(ctx context.Context, name string) (string, error)
	// WithTx runs fn in a transaction; writes become visible together or not at all.
	// fn must only use the StoreTx it is given.
	WithTx(ctx context.Context, fn func(tx StoreTx) error) error
	MarkSynchronized(ctx context.Context, ids ...string) error
	DeleteAll(ctx context.Context) error
}

// StoreTx is the write side of a LocalStore transaction
type StoreTx interface {
	// Get returns nil, nil when no record has the id
	Get(ctx context.Context, kind models.RecordKind, id string) (models.Record, error)
	Upsert(ctx context.Context, rec models.Record, synchronized bool) error
	SetCursor(ctx context.Context, name, cursor string) error
}
