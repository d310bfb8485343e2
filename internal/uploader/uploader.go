// Package uploader pushes a freshly mirrored revision to a remote
// S3-compatible object store, mirroring the three-phase write ordering the
// local store requires: blobs, then the full manifest, then (if the
// requested revision was symbolic) the redirect manifest. A reader of the
// remote store is held to the same invariant as a reader of the local one —
// it must never observe a manifest referencing a blob that isn't there yet.
package uploader

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/lacop/mirrorface/internal/hub"
	"github.com/lacop/mirrorface/internal/mirror"
	"github.com/lacop/mirrorface/internal/mlog"
	"github.com/lacop/mirrorface/internal/store"
)

// Uploader pushes the files a Mirror call wrote under a local store root to
// Bucket, using the same relative key layout (blob/<hash>,
// manifest/<key>.json) as the local store.
type Uploader struct {
	Bucket   string
	Uploader *manager.Uploader
}

// New builds an Uploader against bucket that sends its requests through client.
func New(client *s3.Client, bucket string) *Uploader {
	return &Uploader{
		Bucket:   bucket,
		Uploader: manager.NewUploader(client),
	}
}

// Upload pushes everything Mirror wrote for result: every blob in
// result.Files, the full manifest for result.Resolved, and — if the
// original revision was symbolic — the redirect manifest for
// result.Original. localDirectory must be the same root Mirror wrote to.
func (u *Uploader) Upload(ctx context.Context, localDirectory string, result *mirror.Result) error {
	log := mlog.Get(ctx)

	for _, hash := range result.Files {
		key := "blob/" + hash
		if err := u.putFile(ctx, store.BlobPath(localDirectory, hash), key); err != nil {
			return fmt.Errorf("uploading blob %s: %w", hash, err)
		}
	}
	log.Infof("uploaded %d blobs to s3://%s", len(result.Files), u.Bucket)

	fullPath, ok := store.ManifestPath(localDirectory, result.Resolved)
	if !ok {
		return fmt.Errorf("resolved revision %s@%s has no path-safe key", result.Resolved.Repository, result.Resolved.Revision)
	}
	if err := u.putFile(ctx, fullPath, manifestKey(result.Resolved)); err != nil {
		return fmt.Errorf("uploading full manifest: %w", err)
	}

	if result.Resolved.Revision != result.Original.Revision {
		redirectPath, ok := store.ManifestPath(localDirectory, result.Original)
		if !ok {
			return fmt.Errorf("original revision %s@%s has no path-safe key", result.Original.Repository, result.Original.Revision)
		}
		if err := u.putFile(ctx, redirectPath, manifestKey(result.Original)); err != nil {
			return fmt.Errorf("uploading redirect manifest: %w", err)
		}
	}

	log.Infof("uploaded manifests for %s@%s to s3://%s", result.Resolved.Repository, result.Resolved.Revision, u.Bucket)
	return nil
}

func manifestKey(rr hub.RepositoryRevision) string {
	key, _ := rr.PathSafeKey()
	return "manifest/" + key + ".json"
}

func (u *Uploader) putFile(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = u.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	return err
}
