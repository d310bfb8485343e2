// Package hubclient is a minimal client for the two pieces of the Hub's API
// the mirroring tool needs: resolving a branch name to a commit hash, and
// enumerating + downloading the files of a repository at a given revision.
package hubclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client talks to a Hub instance at BaseURL (e.g. "https://huggingface.co").
type Client struct {
	BaseURL string
	HTTP    *retryablehttp.Client
}

// New returns a Client with sane retry/backoff defaults, matching the
// teacher's use of hashicorp/go-retryablehttp for resilient outbound calls.
func New(baseURL string) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.Logger = nil
	hc.HTTPClient.Timeout = 60 * time.Second
	return &Client{BaseURL: baseURL, HTTP: hc}
}

// RepoRef is a single named ref (branch or tag) and the commit hash it
// currently points at.
type RepoRef struct {
	Name         string `json:"name"`
	TargetCommit string `json:"targetCommit"`
}

type refsResponse struct {
	Branches []RepoRef `json:"branches"`
	Tags     []RepoRef `json:"tags"`
}

// ListBranches returns the branches of repository, keyed by branch name.
func (c *Client) ListBranches(ctx context.Context, repository string) (map[string]string, error) {
	u := fmt.Sprintf("%s/api/models/%s/refs", c.BaseURL, repository)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing refs for %s: %w", repository, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing refs for %s: unexpected status %d", repository, resp.StatusCode)
	}

	var refs refsResponse
	if err := json.NewDecoder(resp.Body).Decode(&refs); err != nil {
		return nil, fmt.Errorf("decoding refs for %s: %w", repository, err)
	}

	branches := make(map[string]string, len(refs.Branches))
	for _, b := range refs.Branches {
		branches[b.Name] = b.TargetCommit
	}
	return branches, nil
}

// TreeEntry is one file in a repository tree listing.
type TreeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// ListFiles recursively lists every file (not directory) path present in
// repository at revision.
func (c *Client) ListFiles(ctx context.Context, repository, revision string) ([]string, error) {
	u := fmt.Sprintf("%s/api/models/%s/tree/%s?recursive=true", c.BaseURL, repository, url.PathEscape(revision))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing tree for %s@%s: %w", repository, revision, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing tree for %s@%s: unexpected status %d", repository, revision, resp.StatusCode)
	}

	var entries []TreeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding tree for %s@%s: %w", repository, revision, err)
	}

	var files []string
	for _, e := range entries {
		if e.Type == "file" {
			files = append(files, e.Path)
		}
	}
	return files, nil
}

// DownloadFile downloads repository's file at revision into destPath,
// creating parent directories as needed.
func (c *Client) DownloadFile(ctx context.Context, repository, revision, filePath, destPath string) error {
	u := fmt.Sprintf("%s/%s/resolve/%s/%s", c.BaseURL, repository, url.PathEscape(revision), filePath)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s@%s/%s: %w", repository, revision, filePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s@%s/%s: unexpected status %d", repository, revision, filePath, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("writing %s: %w", destPath, err)
	}
	return nil
}

// DownloadSnapshot downloads every file of repository at revision into
// destDir, preserving relative paths.
func (c *Client) DownloadSnapshot(ctx context.Context, repository, revision, destDir string) error {
	files, err := c.ListFiles(ctx, repository, revision)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := c.DownloadFile(ctx, repository, revision, f, filepath.Join(destDir, filepath.FromSlash(f))); err != nil {
			return err
		}
	}
	return nil
}
