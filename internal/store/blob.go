package store

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	digest "github.com/opencontainers/go-digest"
)

// hashBufferSize is the buffer size used while streaming a file through the
// hash function, matching the Python original's 1 MiB chunking.
const hashBufferSize = 1024 * 1024

// HashFile streams the file at path through SHA-512 and returns its hex
// digest (128 lowercase hex characters).
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, hashBufferSize)
	d, err := digest.SHA512.FromReader(r)
	if err != nil {
		return "", err
	}
	return d.Encoded(), nil
}

// WriteBlobFromFile content-addresses the file at stagingPath: it hashes
// the file, then moves it into root's blob directory under its hash. If a
// blob with that hash already exists, the staged file is discarded (its
// content is, by definition, identical) and stagingPath is removed.
//
// The move is a rename, so a concurrent reader of the blob directory never
// observes a partially written blob.
func WriteBlobFromFile(root, stagingPath string) (hash string, err error) {
	hash, err = HashFile(stagingPath)
	if err != nil {
		return "", err
	}

	dst := BlobPath(root, hash)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	if _, err := os.Stat(dst); err == nil {
		// Already present; content-addressing guarantees equality.
		if rmErr := os.Remove(stagingPath); rmErr != nil {
			return "", rmErr
		}
		return hash, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	if err := renameAtomic(stagingPath, dst); err != nil {
		return "", err
	}
	return hash, nil
}

// renameAtomic renames src to dst, falling back to a copy-then-remove if
// they are not on the same filesystem (os.Rename returns a LinkError for
// cross-device renames).
func renameAtomic(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyThenRemove(src, dst)
}

func copyThenRemove(src, dst string) error {
	tmp := dst + "." + uuid.NewString() + ".tmp"
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}
