package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fyerfyer/agni-rag/internal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	content := `
log:
  level: warn
embedding:
  provider: hash
  dimensions: 32
  cache: false
vectordb:
  type: memory
cache:
  type: memory
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func runIngest(t *testing.T, cfgPath, file string) (*ingest.Result, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "ingest", file})
	err := root.Execute()

	var res ingest.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res), out.String())
	return &res, err
}

func TestIngestCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	t.Run("success", func(t *testing.T) {
		file := filepath.Join(dir, "notes.txt")
		require.NoError(t, os.WriteFile(file, []byte("Agni ingests documents into a vector store."), 0644))

		res, err := runIngest(t, cfgPath, file)
		require.NoError(t, err)
		assert.Equal(t, ingest.StatusSuccess, res.Status)
		assert.Equal(t, "notes.txt", res.Filename)
		assert.Equal(t, 1, res.ChunksProcessed)
	})

	t.Run("no content", func(t *testing.T) {
		file := filepath.Join(dir, "blank.txt")
		require.NoError(t, os.WriteFile(file, []byte("  \n\n  "), 0644))

		res, err := runIngest(t, cfgPath, file)
		require.Error(t, err)
		assert.Equal(t, ingest.NoContentExtracted, ingest.KindOf(err))
		assert.Equal(t, ingest.StatusFailed, res.Status)
		assert.NotContains(t, res.Message, dir)
	})
}

func TestIngestCommandRequiresFile(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ingest"})
	assert.Error(t, root.Execute())
}
