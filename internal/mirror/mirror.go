// Package mirror implements the store-writing side of mirrorface: given a
// (repository, revision), it resolves the revision against the Hub,
// downloads a snapshot, content-addresses every file into the store, and
// writes the full (and, if needed, redirect) manifest.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lacop/mirrorface/internal/hub"
	"github.com/lacop/mirrorface/internal/hubclient"
	"github.com/lacop/mirrorface/internal/mlog"
	"github.com/lacop/mirrorface/internal/store"
)

// DefaultSkipPrefixes lists relative-path prefixes skipped while
// materializing a downloaded snapshot into the store. Cache artifacts left
// behind by the downloader change on every run and carry no content of
// their own, so mirroring them would mean rewriting the manifest (and
// uploading new "blobs") on every run for no reason. This list is a
// pragmatic default, not an exhaustive one; callers may extend it.
var DefaultSkipPrefixes = []string{".cache/huggingface/"}

var hexHashPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// maxConcurrentHashes bounds how many files are hashed and moved into the
// blob store at once during materialization.
const maxConcurrentHashes = 8

// Result describes the outcome of a successful Mirror call.
type Result struct {
	Original hub.RepositoryRevision
	Resolved hub.RepositoryRevision
	Files    map[string]string // relative path -> blob hash
}

// NormalizeRevision resolves original's revision against the Hub's branch
// list. If a branch named original.Revision exists, the returned
// RepositoryRevision has its Revision replaced by that branch's target
// commit hash. Otherwise original.Revision must already be a 40-character
// lowercase hex hash, or *ErrInvalidRevision is returned.
func NormalizeRevision(ctx context.Context, client *hubclient.Client, original hub.RepositoryRevision) (hub.RepositoryRevision, error) {
	branches, err := client.ListBranches(ctx, original.Repository)
	if err != nil {
		return hub.RepositoryRevision{}, fmt.Errorf("listing branches for %s: %w", original.Repository, err)
	}
	if hash, ok := branches[original.Revision]; ok {
		return original.WithRevision(hash), nil
	}
	if !hexHashPattern.MatchString(original.Revision) {
		return hub.RepositoryRevision{}, &ErrInvalidRevision{
			Revision: original.Revision,
			Reason:   "not a known branch and not a 40-character lowercase hex commit hash",
		}
	}
	return original, nil
}

// Mirror resolves revision against the Hub, downloads its snapshot into a
// temporary directory, and materializes it into the store rooted at
// localDirectory: blobs first, then the full manifest, then (if the
// requested revision was symbolic) a redirect manifest. skipPrefixes are
// relative-path prefixes to exclude from the snapshot (see
// DefaultSkipPrefixes); pass nil to use the default.
func Mirror(ctx context.Context, client *hubclient.Client, original hub.RepositoryRevision, localDirectory string, skipPrefixes []string) (*Result, error) {
	if skipPrefixes == nil {
		skipPrefixes = DefaultSkipPrefixes
	}
	log := mlog.Get(ctx)

	resolved, err := NormalizeRevision(ctx, client, original)
	if err != nil {
		return nil, err
	}
	if resolved.Revision != original.Revision {
		log.Infof("resolved %s@%s to commit %s", original.Repository, original.Revision, resolved.Revision)
	} else {
		log.Infof("%s@%s already a commit hash", original.Repository, original.Revision)
	}

	snapshotDir, err := os.MkdirTemp("", "mirrorface-snapshot-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(snapshotDir)

	log.Infof("downloading snapshot of %s@%s to %s", resolved.Repository, resolved.Revision, snapshotDir)
	if err := client.DownloadSnapshot(ctx, resolved.Repository, resolved.Revision, snapshotDir); err != nil {
		return nil, fmt.Errorf("downloading snapshot: %w", err)
	}

	files, err := materializeBlobs(ctx, snapshotDir, localDirectory, skipPrefixes)
	if err != nil {
		return nil, fmt.Errorf("materializing blobs: %w", err)
	}

	// Blobs before the full manifest, full manifest before any redirect:
	// this ordering is what lets a concurrent reader always see either the
	// old state or a consistent new one (store §4.3).
	if err := store.WriteFullManifest(localDirectory, resolved, files); err != nil {
		return nil, fmt.Errorf("writing full manifest: %w", err)
	}
	if resolved.Revision != original.Revision {
		if err := store.WriteRedirectManifest(localDirectory, original, resolved.Revision); err != nil {
			return nil, fmt.Errorf("writing redirect manifest: %w", err)
		}
	}

	return &Result{Original: original, Resolved: resolved, Files: files}, nil
}

// materializeBlobs recursively walks snapshotDir, skipping any relative
// path matching skipPrefixes, hashes each remaining file, moves it into
// localDirectory's blob store, and returns the resulting relative-path ->
// hash mapping.
func materializeBlobs(ctx context.Context, snapshotDir, localDirectory string, skipPrefixes []string) (map[string]string, error) {
	var paths []string
	err := filepath.Walk(snapshotDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(snapshotDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, prefix := range skipPrefixes {
			if strings.HasPrefix(rel, prefix) {
				return nil
			}
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	files := make(map[string]string, len(paths))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentHashes)
	for _, rel := range paths {
		rel := rel
		g.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			hash, err := store.WriteBlobFromFile(localDirectory, filepath.Join(snapshotDir, filepath.FromSlash(rel)))
			if err != nil {
				return fmt.Errorf("hashing %s: %w", rel, err)
			}
			mu.Lock()
			files[rel] = hash
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}
