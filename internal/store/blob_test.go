package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("file1"), 0o644))

	hash, err := HashFile(path)
	require.NoError(t, err)
	assert.Len(t, hash, 128)
	// sha512("file1") hex digest.
	assert.Equal(t, "119c19f868a33109852c09d66f6a5c73a7cd52f38325020a461cd94a74edef88709fcbc547d96d0ad9da671260fc42322d177378bad7a285f5df03f8e28f8565", hash)
}

func TestWriteBlobFromFileMovesAndContentAddresses(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(t.TempDir(), "staged")
	require.NoError(t, os.WriteFile(staging, []byte("hello"), 0o644))

	hash, err := WriteBlobFromFile(root, staging)
	require.NoError(t, err)

	blobPath := BlobPath(root, hash)
	data, err := os.ReadFile(blobPath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = os.Stat(staging)
	assert.True(t, os.IsNotExist(err), "staging file should have been moved")
}

func TestWriteBlobFromFileDedupesIdenticalContent(t *testing.T) {
	root := t.TempDir()

	staging1 := filepath.Join(t.TempDir(), "a")
	require.NoError(t, os.WriteFile(staging1, []byte("same content"), 0o644))
	hash1, err := WriteBlobFromFile(root, staging1)
	require.NoError(t, err)

	staging2 := filepath.Join(t.TempDir(), "b")
	require.NoError(t, os.WriteFile(staging2, []byte("same content"), 0o644))
	hash2, err := WriteBlobFromFile(root, staging2)
	require.NoError(t, err)

	assert.Equal(t, hash1, hash2)
	_, err = os.Stat(staging2)
	assert.True(t, os.IsNotExist(err), "second staging file should have been discarded")
}
