package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lacop/mirrorface/internal/hub"
	"github.com/lacop/mirrorface/internal/mlog"
)

// maxRedirectHops bounds how many 3xx responses proxyUpstream will follow
// before giving up, matching the conservative limit browsers and most HTTP
// clients use.
const maxRedirectHops = 10

// requestHeaderAllowlist lists the request headers forwarded to upstream.
// Everything else — in particular any client-supplied Host or auth header
// aimed at this gateway rather than the Hub — is dropped.
var requestHeaderAllowlist = map[string]bool{
	"user-agent": true,
	"range":      true,
}

// responseHeaderAllowlist lists the upstream response headers relayed back
// to the client, merged across the whole redirect chain. Everything else
// (upstream's own caching/CDN headers, cookies, etc.) is dropped.
var responseHeaderAllowlist = map[string]bool{
	"content-disposition": true,
	"content-length":      true,
	"content-type":        true,
	"etag":                true,
	"x-repo-commit":       true,
}

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func (gw *Gateway) upstreamClient() *http.Client {
	if gw.Upstream != nil {
		return gw.Upstream
	}
	return &http.Client{
		Timeout: 5 * time.Minute,
		// Redirects are followed manually below so that every hop's
		// headers (e.g. an ETag set on the redirect itself) can be
		// folded into the final response.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// proxyUpstream streams the upstream equivalent of the request straight
// through to the client: same method, same trailing path, redirects
// followed and their headers merged in, body copied in bounded chunks.
func (gw *Gateway) proxyUpstream(w http.ResponseWriter, r *http.Request, rrp hub.RepositoryRevisionPath, rawPath string) {
	ctx := r.Context()
	repo := rrp.RepositoryRevision.Repository
	log := mlog.Get(ctx)

	url := strings.TrimSuffix(gw.UpstreamBaseURL, "/") + "/" + rawPath

	final, chain, err := gw.followRedirects(ctx, r.Method, url, r.Header)
	if err != nil {
		log.Errorf("upstream request for %s failed: %v", repo, err)
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
		return
	}
	defer final.Body.Close()
	for _, resp := range chain {
		resp.Body.Close()
	}

	headers := mergeResponseHeaders(chain, final)
	for k, vv := range headers {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}

	if final.StatusCode != http.StatusOK {
		if final.StatusCode != http.StatusNotFound {
			log.Warnf("upstream returned %d for %s", final.StatusCode, repo)
		}
		gw.Metrics.FallbackUpstreamError(repo, final.StatusCode)
		w.WriteHeader(final.StatusCode)
		return
	}

	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}

	n, copyErr := gw.streamBody(ctx, w, final.Body)
	gw.Metrics.FallbackBytes(repo, n)
	if copyErr != nil && copyErr != io.EOF {
		log.Warnf("streaming upstream body for %s: %v", repo, copyErr)
	}
}

// followRedirects sends method/url upstream and follows any 3xx responses
// (up to maxRedirectHops), returning the terminal response plus every
// intermediate response encountered along the way, oldest first. Callers
// own closing every returned response body.
func (gw *Gateway) followRedirects(ctx context.Context, method, url string, reqHeader http.Header) (final *http.Response, chain []*http.Response, err error) {
	client := gw.upstreamClient()
	next := url

	for hop := 0; ; hop++ {
		if hop > maxRedirectHops {
			for _, resp := range chain {
				resp.Body.Close()
			}
			return nil, nil, fmt.Errorf("too many redirects (>%d) fetching %s", maxRedirectHops, url)
		}

		req, err := http.NewRequestWithContext(ctx, method, next, nil)
		if err != nil {
			for _, resp := range chain {
				resp.Body.Close()
			}
			return nil, nil, err
		}
		for k, vv := range reqHeader {
			if requestHeaderAllowlist[strings.ToLower(k)] {
				for _, v := range vv {
					req.Header.Add(k, v)
				}
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			for _, r := range chain {
				r.Body.Close()
			}
			return nil, nil, err
		}

		if !isRedirectStatus(resp.StatusCode) {
			return resp, chain, nil
		}

		location := resp.Header.Get("Location")
		if location == "" {
			return resp, chain, nil
		}
		resolved, err := req.URL.Parse(location)
		if err != nil {
			chain = append(chain, resp)
			for _, r := range chain {
				r.Body.Close()
			}
			return nil, nil, fmt.Errorf("parsing redirect Location %q: %w", location, err)
		}
		chain = append(chain, resp)
		next = resolved.String()
	}
}

// mergeResponseHeaders folds the allowlisted headers from every response in
// chain (oldest first) and then final on top, so the terminal response's
// values win on conflict but a header only the redirect set (say, an ETag
// on the 302 itself) still survives.
func mergeResponseHeaders(chain []*http.Response, final *http.Response) http.Header {
	merged := http.Header{}
	for _, resp := range chain {
		copyAllowlistedHeaders(merged, resp.Header)
	}
	copyAllowlistedHeaders(merged, final.Header)
	return merged
}

func copyAllowlistedHeaders(dst, src http.Header) {
	for k, vv := range src {
		if !responseHeaderAllowlist[strings.ToLower(k)] {
			continue
		}
		dst[k] = vv
	}
}

// streamBody copies body to w in gw.ChunkSize-sized pieces, flushing after
// each write so the client sees bytes as they arrive rather than waiting
// for the whole response to buffer. It stops promptly if ctx is canceled
// (client disconnect) or the write fails for the same reason.
func (gw *Gateway) streamBody(ctx context.Context, w http.ResponseWriter, body io.Reader) (int64, error) {
	chunkSize := gw.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 8 * 1024 * 1024
	}
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, chunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return total, writeErr
			}
			total += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}
