package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type fileCursor struct {
	LastScannedBlock uint64 `json:"last_scanned_block"`
	UpdatedAt        string `json:"updated_at"`
}

// FileCursorStore keeps the discovery cursor in a JSON file, replaced
// atomically on every save.
type FileCursorStore struct {
	path string
}

func NewFileCursorStore(path string) *FileCursorStore {
	return &FileCursorStore{path: path}
}

func (c *FileCursorStore) Load(context.Context) (uint64, bool, error) {
	if c == nil || c.path == "" {
		return 0, false, nil
	}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat cursor: %w", err)
	}
	if stat.IsDir() {
		return 0, false, fmt.Errorf("cursor path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return 0, false, fmt.Errorf("read cursor: %w", err)
	}

	var cur fileCursor
	if err := json.Unmarshal(data, &cur); err != nil {
		return 0, false, fmt.Errorf("parse cursor: %w", err)
	}
	return cur.LastScannedBlock, true, nil
}

func (c *FileCursorStore) Save(_ context.Context, block uint64) error {
	if c == nil || c.path == "" {
		return nil
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cursor dir: %w", err)
		}
	}

	data, err := json.Marshal(fileCursor{
		LastScannedBlock: block,
		UpdatedAt:        time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write cursor tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename cursor: %w", err)
	}
	return nil
}

// MemoryCursorStore keeps the cursor in memory only.
type MemoryCursorStore struct {
	block uint64
	set   bool
}

func (m *MemoryCursorStore) Load(context.Context) (uint64, bool, error) {
	return m.block, m.set, nil
}

func (m *MemoryCursorStore) Save(_ context.Context, block uint64) error {
	m.block, m.set = block, true
	return nil
}
