package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacop/mirrorface/internal/hub"
	"github.com/lacop/mirrorface/internal/store"
)

// fakeRecorder implements metrics.Recorder and records every call for
// assertion, instead of exporting anything through Prometheus.
type fakeRecorder struct {
	totalRequests    []string
	cacheHits        []string
	cacheMisses      []string
	cacheBytes       map[string]int64
	fallbackRequests []string
	upstreamErrors   []upstreamErrorCall
	fallbackBytes    map[string]int64
}

type upstreamErrorCall struct {
	repository string
	statusCode int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		cacheBytes:    map[string]int64{},
		fallbackBytes: map[string]int64{},
	}
}

func (f *fakeRecorder) TotalRequest(repository string) { f.totalRequests = append(f.totalRequests, repository) }
func (f *fakeRecorder) CacheHit(repository string)     { f.cacheHits = append(f.cacheHits, repository) }
func (f *fakeRecorder) CacheMiss(repository string)    { f.cacheMisses = append(f.cacheMisses, repository) }
func (f *fakeRecorder) CacheBytes(repository string, n int64) { f.cacheBytes[repository] += n }
func (f *fakeRecorder) FallbackRequest(repository string) {
	f.fallbackRequests = append(f.fallbackRequests, repository)
}
func (f *fakeRecorder) FallbackUpstreamError(repository string, statusCode int) {
	f.upstreamErrors = append(f.upstreamErrors, upstreamErrorCall{repository, statusCode})
}
func (f *fakeRecorder) FallbackBytes(repository string, n int64) { f.fallbackBytes[repository] += n }

func writeLocalRepo(t *testing.T, root string) {
	t.Helper()
	const hash = "abc0123456789abcdef0123456789abcdef0123"
	require.NoError(t, store.WriteFullManifest(root, hub.RepositoryRevision{Repository: "user/repo", Revision: hash}, map[string]string{
		"f.txt": "119c19f868a33109852c09d66f6a5c73a7cd52f38325020a461cd94a74edef88709fcbc547d96d0ad9da671260fc42322d177378bad7a285f5df03f8e28f8565",
	}))
	require.NoError(t, store.WriteRedirectManifest(root, hub.RepositoryRevision{Repository: "user/repo", Revision: "main"}, hash))

	blobPath := store.BlobPath(root, "119c19f868a33109852c09d66f6a5c73a7cd52f38325020a461cd94a74edef88709fcbc547d96d0ad9da671260fc42322d177378bad7a285f5df03f8e28f8565")
	require.NoError(t, os.MkdirAll(filepath.Dir(blobPath), 0o755))
	require.NoError(t, os.WriteFile(blobPath, []byte("file1"), 0o644))
}

func newGateway(t *testing.T, upstreamURL string) (*Gateway, *fakeRecorder) {
	t.Helper()
	root := t.TempDir()
	writeLocalRepo(t, root)
	rec := newFakeRecorder()
	return &Gateway{
		LocalDirectory:  root,
		UpstreamBaseURL: upstreamURL,
		ChunkSize:       4,
		Metrics:         rec,
	}, rec
}

func TestCacheHitOnHashedRevision(t *testing.T) {
	const hash = "abc0123456789abcdef0123456789abcdef0123"
	gw, rec := newGateway(t, "http://upstream.invalid")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/mirror/user/repo/resolve/"+hash+"/f.txt", nil)
	gw.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "file1", w.Body.String())
	assert.Equal(t, hash, w.Header().Get("X-Repo-Commit"))
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "5", w.Header().Get("Content-Length"))
	assert.Equal(t, []string{"user/repo"}, rec.cacheHits)
	assert.Empty(t, rec.cacheMisses)
	assert.Empty(t, rec.fallbackRequests)
	assert.Equal(t, int64(5), rec.cacheBytes["user/repo"])
}

func TestCacheHitViaRedirect(t *testing.T) {
	gw, rec := newGateway(t, "http://upstream.invalid")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/mirror/user/repo/resolve/main/f.txt", nil)
	gw.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "file1", w.Body.String())
	assert.Equal(t, []string{"user/repo"}, rec.cacheHits)
}

func TestFileNotInManifest(t *testing.T) {
	const hash = "abc0123456789abcdef0123456789abcdef0123"
	gw, rec := newGateway(t, "http://upstream.invalid")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/mirror/user/repo/resolve/"+hash+"/missing.txt", nil)
	gw.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
	// A manifest exists for this revision, so this still counts as a hit —
	// the mirror just doesn't have this particular path.
	assert.Equal(t, []string{"user/repo"}, rec.cacheHits)
	assert.Empty(t, rec.fallbackRequests)
}

func TestUnsupportedMethod(t *testing.T) {
	const hash = "abc0123456789abcdef0123456789abcdef0123"
	gw, _ := newGateway(t, "http://upstream.invalid")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/mirror/user/repo/resolve/"+hash+"/f.txt", nil)
	gw.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestInvalidPath(t *testing.T) {
	gw, _ := newGateway(t, "http://upstream.invalid")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/mirror/not-enough-parts", nil)
	gw.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCacheMissFallsBackToUpstreamWithRedirectHeaderMerge(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/other/repo/resolve/deadbeef/f.txt":
			w.Header().Set("ETag", "\"intermediate-etag\"")
			w.Header().Set("Location", "/other/repo/resolve/deadbeef/f-final.txt")
			w.WriteHeader(http.StatusFound)
		case "/other/repo/resolve/deadbeef/f-final.txt":
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("X-Repo-Commit", "deadbeef")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("hello from upstream"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	gw, rec := newGateway(t, upstream.URL)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/mirror/other/repo/resolve/deadbeef/f.txt", nil)
	gw.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello from upstream", w.Body.String())
	assert.Equal(t, "\"intermediate-etag\"", w.Header().Get("ETag"))
	assert.Equal(t, "deadbeef", w.Header().Get("X-Repo-Commit"))
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, []string{"other/repo"}, rec.cacheMisses)
	assert.Equal(t, []string{"other/repo"}, rec.fallbackRequests)
	assert.Equal(t, int64(len("hello from upstream")), rec.fallbackBytes["other/repo"])
}

func TestCacheMissUpstream404(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	gw, rec := newGateway(t, upstream.URL)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/mirror/nope/repo/resolve/deadbeef/f.txt", nil)
	gw.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []upstreamErrorCall{{"nope/repo", http.StatusNotFound}}, rec.upstreamErrors)
}

func TestHeadRequestOmitsBody(t *testing.T) {
	const hash = "abc0123456789abcdef0123456789abcdef0123"
	gw, _ := newGateway(t, "http://upstream.invalid")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodHead, "/mirror/user/repo/resolve/"+hash+"/f.txt", nil)
	gw.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.Bytes())
	assert.Equal(t, "5", w.Header().Get("Content-Length"))
}

func TestStreamBodyChunks(t *testing.T) {
	gw := &Gateway{ChunkSize: 2}
	w := httptest.NewRecorder()
	n, err := gw.streamBody(context.Background(), w, &stringReader{s: "abcdef"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, "abcdef", w.Body.String())
}

type stringReader struct {
	s string
	i int
}

func (r *stringReader) Read(p []byte) (int, error) {
	if r.i >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.i:])
	r.i += n
	return n, nil
}
