// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"storefront-payments/internal/client"
	"storefront-payments/internal/config"
)

// NewDB opens a migrated SQLite database private to the test.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := client.InitDatabase(config.Database{
		Driver: "sqlite",
		URL:    "file:" + path + "?_busy_timeout=5000&_foreign_keys=on",
	})
	require.NoError(t, err)
	require.NoError(t, client.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
