// Package hub provides the identifier model for the remote model-repository
// hub that mirrorface mirrors: repositories, revisions, and the HTTP path
// grammar clients use to address a file within them.
package hub

import (
	"strings"
)

// RepositoryRevision identifies a repository at a specific revision.
//
// Repository has the shape "owner/name". Revision is either a symbolic name
// (a branch or tag, e.g. "main" or "v1.2.3", which may itself contain "/")
// or a 40-character lowercase hex commit hash.
type RepositoryRevision struct {
	Repository string
	Revision   string
}

// PathSafeKey returns a filesystem-safe encoding of rr, suitable for use as
// a manifest filename stem. It substitutes "/" with "--" in both fields and
// joins them with "__".
//
// Because "--" is used as the separator, repositories or revisions that
// already contain "--" cannot be safely encoded; ok is false in that case
// and callers must treat the repository/revision pair as unusable for any
// manifest operation.
func (rr RepositoryRevision) PathSafeKey() (key string, ok bool) {
	if strings.Contains(rr.Repository, "--") || strings.Contains(rr.Revision, "--") {
		return "", false
	}
	repository := strings.ReplaceAll(rr.Repository, "/", "--")
	revision := strings.ReplaceAll(rr.Revision, "/", "--")
	return repository + "__" + revision, true
}

// WithRevision returns a copy of rr with Revision replaced by revision.
func (rr RepositoryRevision) WithRevision(revision string) RepositoryRevision {
	return RepositoryRevision{Repository: rr.Repository, Revision: revision}
}

// RepositoryRevisionPath identifies a single file within a repository at a
// specific revision.
type RepositoryRevisionPath struct {
	RepositoryRevision RepositoryRevision
	Path                string
}

// ParseURLPath parses the hub-style URL path "<owner>/<name>/resolve/<revision>/<path>"
// into a RepositoryRevisionPath. ok is false if urlPath does not match this
// grammar: owner, name and revision must not themselves contain "/" (they
// are taken from the first three unsplit segments), "resolve" must appear
// literally as the third segment, and path must be non-empty.
func ParseURLPath(urlPath string) (rrp RepositoryRevisionPath, ok bool) {
	parts := strings.SplitN(urlPath, "/", 5)
	if len(parts) != 5 || parts[2] != "resolve" {
		return RepositoryRevisionPath{}, false
	}
	owner, name, _, revision, path := parts[0], parts[1], parts[2], parts[3], parts[4]
	if path == "" {
		return RepositoryRevisionPath{}, false
	}
	return RepositoryRevisionPath{
		RepositoryRevision: RepositoryRevision{
			Repository: owner + "/" + name,
			Revision:   revision,
		},
		Path: path,
	}, true
}
