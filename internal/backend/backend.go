// Package backend selects and builds the ledger store from config.
package backend

import (
	"fmt"

	"github.com/brunotrinchao/familyflow-sub001/internal/config"
	"github.com/brunotrinchao/familyflow-sub001/internal/ledger"
	"github.com/brunotrinchao/familyflow-sub001/internal/ledger/memory"
	"github.com/brunotrinchao/familyflow-sub001/internal/storage"
)

// Type names a ledger backend.
type Type string

const (
	SQLiteBackend Type = "sqlite"
	MemoryBackend Type = "memory"
)

// IsValid returns true if the backend type is known.
func (t Type) IsValid() bool {
	switch t {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// Open builds the ledger store selected by cfg.DataBackend. The caller
// owns the returned store and must Close it.
func Open(cfg *config.Config) (ledger.Store, error) {
	switch Type(cfg.DataBackend) {
	case MemoryBackend:
		return memory.New(), nil
	case SQLiteBackend:
		repo, err := storage.NewRepository(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown data backend %q", cfg.DataBackend)
	}
}
