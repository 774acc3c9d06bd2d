package userdir

import (
	"fmt"

	"github.com/tendant/simple-mfa/pkg/mfa"
)

// StoreConfig contains configuration for creating a profile store
type StoreConfig struct {
	// DB is required for PostgreSQL stores
	DB mfa.DBTX
	// DataDir is required for file-based stores
	DataDir string
}

// NewProfileStore creates a profile store based on the persistence type
func NewProfileStore(persistenceType string, config StoreConfig) (ProfileStore, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		if config.DB == nil {
			return nil, fmt.Errorf("db required for postgres store")
		}
		return NewPostgresStore(config.DB), nil
	case "file":
		if config.DataDir == "" {
			return nil, fmt.Errorf("dataDir required for file store")
		}
		return NewFileStore(config.DataDir)
	case "memory", "inmem":
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, file, memory)", persistenceType)
	}
}
