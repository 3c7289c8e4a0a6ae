package database

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesDirectory(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	dsn := filepath.Join(t.TempDir(), "nested", "agni.db")
	db, err := Open(Config{DSN: dsn}, log)
	require.NoError(t, err)
	defer Close(db)

	assert.True(t, db.Migrator().HasTable("ingestions"))
	assert.FileExists(t, dsn)
}

func TestEnsureDir(t *testing.T) {
	assert.NoError(t, ensureDir(":memory:"))
	assert.NoError(t, ensureDir("file:memdb?mode=memory"))
	assert.NoError(t, ensureDir("local.db"))
	assert.NoError(t, Close(nil))
}
