// Package gateway implements the read-through HTTP serving path: classify
// an incoming request, try to answer it from the local content-addressed
// store, and fall back to streaming it from upstream on any cache miss or
// store-integrity problem. It never returns a 5xx of its own manufacture
// for a local error — the whole point of the mirror is to be no less
// available than upstream, so local trouble just means falling through.
package gateway

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/lacop/mirrorface/internal/hub"
	"github.com/lacop/mirrorface/internal/metrics"
	"github.com/lacop/mirrorface/internal/mlog"
	"github.com/lacop/mirrorface/internal/store"
)

// Gateway holds everything a request handler needs: where the store lives,
// where to fall back to, and how to report what happened.
type Gateway struct {
	// LocalDirectory is the content-addressed store root.
	LocalDirectory string
	// UpstreamBaseURL is the Hub origin to proxy cache misses to, e.g.
	// "https://huggingface.co".
	UpstreamBaseURL string
	// ChunkSize bounds how many bytes are read from upstream at a time
	// while streaming a proxied response to the client.
	ChunkSize int
	// Metrics records the side effects of every request. Must not be nil.
	Metrics metrics.Recorder
	// Upstream is the HTTP client used to reach the Hub. If nil, a
	// default client is built for each upstream request.
	Upstream *http.Client
}

// Router returns a mux.Router with the mirror route registered. The route
// matches every path under "/mirror/", and the handler takes everything
// after that prefix as the hub path; method validation
// happens inside the handler so that unsupported methods get the gateway's
// own 405 rather than mux's default 404.
func (gw *Gateway) Router() *mux.Router {
	r := mux.NewRouter()
	r.PathPrefix("/mirror/").HandlerFunc(gw.handleMirror)
	return r
}

func (gw *Gateway) handleMirror(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Unsupported method", http.StatusMethodNotAllowed)
		return
	}

	rawPath := r.URL.Path[len("/mirror/"):]
	rrp, ok := hub.ParseURLPath(rawPath)
	if !ok {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	repo := rrp.RepositoryRevision.Repository
	log := mlog.Get(ctx)
	gw.Metrics.TotalRequest(repo)

	served, err := gw.tryServeLocal(w, r, rrp)
	if err != nil {
		log.Warnf("local store error serving %s@%s:%s, falling back upstream: %v",
			repo, rrp.RepositoryRevision.Revision, rrp.Path, err)
	}
	if served {
		return
	}

	gw.Metrics.FallbackRequest(repo)
	gw.proxyUpstream(w, r, rrp, rawPath)
}

// tryServeLocal attempts to answer the request entirely from the store.
//
// served is true if a response was fully written to w: either the file's
// contents (cache hit) or a 404 for a file absent from an otherwise-present
// manifest (still a "hit" in the sense that the revision is mirrored, just
// missing this particular path). served is false with err == nil on a
// plain cache miss (no manifest at all), and false with err != nil if the
// store itself reported trouble — either way, the caller falls back
// upstream, but only the plain-miss case counts towards the cache_miss
// metric; a store error is logged and otherwise silent, matching how the
// store's own invariants treat integrity problems as distinct from misses.
func (gw *Gateway) tryServeLocal(w http.ResponseWriter, r *http.Request, rrp hub.RepositoryRevisionPath) (served bool, err error) {
	rr := rrp.RepositoryRevision
	repo := rr.Repository

	manifest, err := store.LoadFullManifest(gw.LocalDirectory, rr)
	if err != nil {
		return false, err
	}
	if manifest == nil {
		gw.Metrics.CacheMiss(repo)
		return false, nil
	}

	hash, ok := manifest.Files[rrp.Path]
	if !ok {
		gw.Metrics.CacheHit(repo)
		http.Error(w, "File not found", http.StatusNotFound)
		return true, nil
	}

	blobPath := store.BlobPath(gw.LocalDirectory, hash)
	f, openErr := os.Open(blobPath)
	if openErr != nil {
		// The manifest claims this blob exists (store invariant I1); a
		// missing file here means the store itself is broken, not that
		// the client asked for something absent. Fall through rather
		// than serve an error the mirror never would have hit upstream.
		return false, fmt.Errorf("opening blob %s for %s: %w", hash, rrp.Path, openErr)
	}
	defer f.Close()

	info, statErr := f.Stat()
	if statErr != nil {
		return false, fmt.Errorf("stat blob %s for %s: %w", hash, rrp.Path, statErr)
	}

	gw.Metrics.CacheHit(repo)
	gw.Metrics.CacheBytes(repo, info.Size())

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("X-Repo-Commit", manifest.RevisionHash)
	h.Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s";`, rrp.Path))
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return true, nil
	}
	if _, copyErr := io.Copy(w, f); copyErr != nil {
		log := mlog.Get(r.Context())
		log.Warnf("client disconnected while serving %s@%s:%s: %v", repo, rr.Revision, rrp.Path, copyErr)
	}
	return true, nil
}
