package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/SteelMorgan/binary-file-source/internal/offset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// setup writes a config whose cursor store lives in a temp dir and seeds it
func setup(t *testing.T, cursors ...domain.Cursor) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "offsets.db")
	configPath = filepath.Join(dir, "binsource.yml")

	body := fmt.Sprintf("directory-path: %s\noffsets:\n  path: %s\n", dir, dbPath)
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))

	store, err := offset.NewBoltDBStore(dbPath)
	require.NoError(t, err)
	for _, c := range cursors {
		require.NoError(t, store.Commit(context.Background(), c))
	}
	require.NoError(t, store.Close())
	return configPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := getRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestOffsetsList(t *testing.T) {
	configPath, _ := setup(t,
		domain.Cursor{Resource: "/data/b.bin", Offset: 7, Generation: 1},
		domain.Cursor{Resource: "/data/a.bin", Offset: 42},
	)

	out, err := execute(t, "offsets", "list", "--config", configPath)
	require.NoError(t, err)

	var got []domain.Cursor
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, []domain.Cursor{
		{Resource: "/data/a.bin", Offset: 42},
		{Resource: "/data/b.bin", Offset: 7, Generation: 1},
	}, got)
}

func TestOffsetsReset(t *testing.T) {
	configPath, dbPath := setup(t, domain.Cursor{Resource: "/data/a.bin", Offset: 42})

	out, err := execute(t, "offsets", "reset", "/data/a.bin", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "reset /data/a.bin")

	store, err := offset.NewBoltDBStore(dbPath)
	require.NoError(t, err)
	defer store.Close()
	_, found, err := store.Get(context.Background(), "/data/a.bin")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOffsetsReset_Unknown(t *testing.T) {
	configPath, _ := setup(t)

	_, err := execute(t, "offsets", "reset", "/data/none.bin", "--config", configPath)
	require.Error(t, err)
}

func TestConfigPrint(t *testing.T) {
	configPath, _ := setup(t)

	out, err := execute(t, "config", "print", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "topic-name: file-binary")
	assert.Contains(t, out, "kind: stdout")
}
