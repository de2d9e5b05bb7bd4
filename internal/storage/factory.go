package storage

import (
	"fmt"

	"github.com/precland/precland/internal/config"
	"github.com/precland/precland/internal/database"
	gormstore "github.com/precland/precland/internal/storage/gorm"
	"github.com/precland/precland/internal/storage/memory"
)

// NewBackend creates a flight-log backend based on configuration. The gorm
// backend needs a connected database manager; memory does not.
func NewBackend(cfg config.StorageConfig, db *database.Manager) (Backend, error) {
	switch cfg.Type {
	case "gorm":
		if db == nil || !db.IsValid {
			return nil, fmt.Errorf("gorm storage requires a valid database connection")
		}
		return gormstore.New(db), nil
	case "memory":
		return memory.New(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
