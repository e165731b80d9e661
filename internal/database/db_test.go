package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskwatch/internal/config"
	"taskwatch/internal/models"
)

func TestOpen(t *testing.T) {
	t.Run("Should open sqlite and migrate the journal tables", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "journal.db")
		db, err := Open(config.DatabaseConfig{URL: "sqlite://" + path, MaxOpenConns: 1}, nil)
		require.NoError(t, err)
		defer Close(db)

		assert.True(t, db.Migrator().HasTable(&models.WaitRecord{}))
		assert.True(t, db.Migrator().HasTable(&models.ChildWatch{}))

		record := models.WaitRecord{TaskID: "T1", Operation: models.OperationTerminalState, Outcome: models.OutcomeCompleted}
		require.NoError(t, db.Create(&record).Error)
		assert.NotEmpty(t, record.ID, "BeforeCreate should assign a uuid")
	})

	t.Run("Should reject unknown URL schemes", func(t *testing.T) {
		_, err := Open(config.DatabaseConfig{URL: "mysql://root@localhost/db"}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported database URL format")
	})

	t.Run("Should reject an empty sqlite path", func(t *testing.T) {
		_, err := Open(config.DatabaseConfig{URL: "sqlite://"}, nil)
		assert.Error(t, err)
	})

	t.Run("Should close a nil handle", func(t *testing.T) {
		assert.NoError(t, Close(nil))
	})
}
