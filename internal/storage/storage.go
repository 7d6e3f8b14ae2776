package storage

import (
	"context"

	"spreadScope/internal/model"
)

// Catalog persists discovered pool identities across restarts.
type Catalog interface {
	LoadPools(ctx context.Context) ([]model.PoolIdentity, error)
	SavePools(ctx context.Context, pools []model.PoolIdentity) error
}

// CursorStore persists the last block scanned by discovery.
type CursorStore interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, block uint64) error
}
