package store

import (
	"path/filepath"

	"github.com/lacop/mirrorface/internal/hub"
)

const (
	blobDirectory     = "blob"
	manifestDirectory = "manifest"
)

// BlobPath returns the path under root at which the blob with the given
// hash is (or would be) stored. It is a pure function: it does not check
// whether the blob exists.
func BlobPath(root, hash string) string {
	return filepath.Join(root, blobDirectory, hash)
}

// ManifestPath returns the path under root at which the manifest for rr is
// (or would be) stored. ok is false if rr cannot be encoded into a
// path-safe key.
func ManifestPath(root string, rr hub.RepositoryRevision) (path string, ok bool) {
	key, ok := rr.PathSafeKey()
	if !ok {
		return "", false
	}
	return filepath.Join(root, manifestDirectory, key+".json"), true
}
