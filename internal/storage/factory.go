// File: internal/storage/factory.go
package storage

import (
	"strings"

	"github.com/soroscan/soroscan/internal/config"
	"github.com/soroscan/soroscan/internal/metrics"
	"github.com/soroscan/soroscan/pkg/utils"
)

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg *config.StorageConfig, metricsManager *metrics.Manager) (Storage, error) {
	storageConfig := &StorageConfig{
		Type:             cfg.Type,
		ConnectionString: cfg.ConnectionString,
		MaxConnections:   cfg.MaxConnections,
		MaxIdleTime:      cfg.MaxIdleTime,
		RetentionDays:    cfg.RetentionDays,
	}

	switch strings.ToLower(cfg.Type) {
	case "sqlite":
		s := NewSQLiteStorage(storageConfig)
		s.SetMetricsManager(metricsManager)
		return s, nil
	case "postgres", "postgresql":
		s := NewPostgresStorage(storageConfig)
		s.SetMetricsManager(metricsManager)
		return s, nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type", cfg.Type)
	}
}
