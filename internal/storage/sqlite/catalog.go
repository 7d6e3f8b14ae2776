package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"spreadScope/internal/model"
)

// Catalog persists discovered pools in a local SQLite database.
type Catalog struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the catalog at path.
func Open(path string) (*Catalog, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog path is required")
	}

	dsn := path
	if !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create catalog dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// a single connection avoids SQLITE_BUSY between pooled writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Catalog{db: db}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) init() error {
	const createTable = `
CREATE TABLE IF NOT EXISTS pools (
	address TEXT PRIMARY KEY,
	family TEXT NOT NULL,
	token0 TEXT NOT NULL,
	token1 TEXT NOT NULL,
	factory TEXT NOT NULL,
	created_block INTEGER NOT NULL,
	discovered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec(createTable); err != nil {
		return fmt.Errorf("create pools table: %w", err)
	}
	return nil
}

// SavePools inserts pools that are not yet in the catalog. Existing rows are
// left untouched since identities never change.
func (c *Catalog) SavePools(ctx context.Context, pools []model.PoolIdentity) error {
	if len(pools) == 0 {
		return nil
	}
	const insertStmt = `
INSERT INTO pools (address, family, token0, token1, factory, created_block, discovered_at)
VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(address) DO NOTHING;`

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertStmt)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range pools {
		if _, err := stmt.ExecContext(ctx, p.Address.Hex(), p.Family.String(), p.Token0.Hex(), p.Token1.Hex(), p.Factory.Hex(), int64(p.CreatedBlock)); err != nil {
			return fmt.Errorf("insert pool %s: %w", p.Address.Hex(), err)
		}
	}
	return tx.Commit()
}

// LoadPools returns every pool in the catalog ordered by creation block.
func (c *Catalog) LoadPools(ctx context.Context) ([]model.PoolIdentity, error) {
	const selectStmt = `
SELECT address, family, token0, token1, factory, created_block
FROM pools
ORDER BY created_block, address;`

	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx, selectStmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.PoolIdentity
	for rows.Next() {
		var (
			address, family, token0, token1, factory string
			createdBlock                             int64
		)
		if err := rows.Scan(&address, &family, &token0, &token1, &factory, &createdBlock); err != nil {
			return nil, err
		}
		fam, err := model.ParseFamily(family)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", address, err)
		}
		pools = append(pools, model.PoolIdentity{
			Family:       fam,
			Address:      common.HexToAddress(address),
			Token0:       common.HexToAddress(token0),
			Token1:       common.HexToAddress(token1),
			Factory:      common.HexToAddress(factory),
			CreatedBlock: uint64(createdBlock),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pools, nil
}

func (c *Catalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
