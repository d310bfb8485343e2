package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacop/mirrorface/internal/hub"
)

func TestWriteAndLoadFullManifest(t *testing.T) {
	root := t.TempDir()
	rr := hub.RepositoryRevision{Repository: "user/repo", Revision: "abc0123456789abcdef0123456789abcdef0123"}
	files := map[string]string{"f": "deadbeef"}

	require.NoError(t, WriteFullManifest(root, rr, files))

	got, err := LoadFullManifest(root, rr)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rr.Revision, got.RevisionHash)
	assert.Equal(t, files, got.Files)
}

func TestLoadFullManifestCacheMiss(t *testing.T) {
	root := t.TempDir()
	rr := hub.RepositoryRevision{Repository: "user/repo", Revision: "main"}

	got, err := LoadFullManifest(root, rr)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoadFullManifestInvalidKey(t *testing.T) {
	root := t.TempDir()
	rr := hub.RepositoryRevision{Repository: "user--name/repo", Revision: "main"}

	got, err := LoadFullManifest(root, rr)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWriteFullManifestInvalidKey(t *testing.T) {
	root := t.TempDir()
	rr := hub.RepositoryRevision{Repository: "user--name/repo", Revision: "main"}

	err := WriteFullManifest(root, rr, map[string]string{})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestLoadFullManifestViaRedirect(t *testing.T) {
	root := t.TempDir()
	hashRR := hub.RepositoryRevision{Repository: "user/repo", Revision: "abc0123456789abcdef0123456789abcdef0123"}
	files := map[string]string{"f": "deadbeef"}
	require.NoError(t, WriteFullManifest(root, hashRR, files))

	symbolicRR := hub.RepositoryRevision{Repository: "user/repo", Revision: "main"}
	require.NoError(t, WriteRedirectManifest(root, symbolicRR, hashRR.Revision))

	got, err := LoadFullManifest(root, symbolicRR)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, hashRR.Revision, got.RevisionHash)
	assert.Equal(t, files, got.Files)
}

func TestLoadFullManifestRedirectChainIsRejected(t *testing.T) {
	root := t.TempDir()
	a := hub.RepositoryRevision{Repository: "user/repo", Revision: "aaaa"}
	b := hub.RepositoryRevision{Repository: "user/repo", Revision: "bbbb"}

	// a -> b, but b is itself a redirect (never written as full), which
	// violates I4 (redirect depth at most 1).
	require.NoError(t, WriteRedirectManifest(root, a, "bbbb"))
	require.NoError(t, WriteRedirectManifest(root, b, "cccc"))

	got, err := LoadFullManifest(root, a)
	assert.Nil(t, got)
	var redirErr *ErrInconsistentRedirect
	require.ErrorAs(t, err, &redirErr)
}

func TestLoadFullManifestInconsistentRevision(t *testing.T) {
	root := t.TempDir()
	rr := hub.RepositoryRevision{Repository: "user/repo", Revision: "abc0123456789abcdef0123456789abcdef0123"}
	require.NoError(t, WriteFullManifest(root, rr, map[string]string{}))

	// Simulate the manifest pointing to a revision other than the one in
	// its own filename by loading under a different requested revision.
	wrongRR := hub.RepositoryRevision{Repository: "user/repo", Revision: "def0123456789abcdef0123456789abcdef0123"}
	// Manually copy the file to the "wrong" key's path to simulate a
	// store inconsistency (normally prevented by always deriving the
	// filename from revision_hash).
	srcPath, _ := ManifestPath(root, rr)
	dstPath, _ := ManifestPath(root, wrongRR)
	data, err := os.ReadFile(srcPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dstPath, data, 0o644))

	got, err := LoadFullManifest(root, wrongRR)
	assert.Nil(t, got)
	var mismatchErr *ErrInconsistentManifest
	require.ErrorAs(t, err, &mismatchErr)
}

func TestLoadFullManifestCorrupt(t *testing.T) {
	root := t.TempDir()
	rr := hub.RepositoryRevision{Repository: "user/repo", Revision: "main"}
	path, ok := ManifestPath(root, rr)
	require.True(t, ok)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	got, err := LoadFullManifest(root, rr)
	assert.Nil(t, got)
	var corruptErr *ErrCorruptManifest
	require.ErrorAs(t, err, &corruptErr)
}

func TestManifestJSONWireFormat(t *testing.T) {
	root := t.TempDir()
	rr := hub.RepositoryRevision{Repository: "user/repo", Revision: "abc0123456789abcdef0123456789abcdef0123"}
	require.NoError(t, WriteFullManifest(root, rr, map[string]string{"f": "h"}))

	path, _ := ManifestPath(root, rr)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"manifest_type":"full"`)
	assert.Contains(t, string(data), `"revision_hash":"abc0123456789abcdef0123456789abcdef0123"`)
}
