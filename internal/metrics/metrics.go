// Package metrics defines the gateway's observable side effects: counters
// keyed by repository (never revision — too high cardinality), exposed
// through the Prometheus client library.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the narrow interface the gateway depends on, so that it never
// imports a concrete metrics library directly — the metrics exposition
// format itself is treated as an external collaborator (spec §1).
type Recorder interface {
	TotalRequest(repository string)
	CacheHit(repository string)
	CacheMiss(repository string)
	CacheBytes(repository string, n int64)
	FallbackRequest(repository string)
	FallbackUpstreamError(repository string, statusCode int)
	FallbackBytes(repository string, n int64)
}

// Prometheus is a Recorder backed by prometheus/client_golang counters,
// registered on construction.
type Prometheus struct {
	totalRequests         *prometheus.CounterVec
	cacheHit              *prometheus.CounterVec
	cacheMiss             *prometheus.CounterVec
	cacheTotalBytes       *prometheus.CounterVec
	fallbackRequests      *prometheus.CounterVec
	fallbackUpstreamError *prometheus.CounterVec
	fallbackTotalBytes    *prometheus.CounterVec
}

// NewPrometheus creates and registers the mirrorface counters on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		totalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirrorface_total_requests",
			Help: "Total requests per repository.",
		}, []string{"repository"}),
		cacheHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirrorface_cache_hit",
			Help: "Cache hits per repository.",
		}, []string{"repository"}),
		cacheMiss: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirrorface_cache_miss",
			Help: "Cache misses per repository.",
		}, []string{"repository"}),
		cacheTotalBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirrorface_cache_total_bytes",
			Help: "Total bytes served from cache per repository.",
		}, []string{"repository"}),
		fallbackRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirrorface_fallback_requests",
			Help: "Fallback requests per repository.",
		}, []string{"repository"}),
		fallbackUpstreamError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirrorface_fallback_upstream_error",
			Help: "Fallback upstream errors per repository and status code.",
		}, []string{"repository", "status_code"}),
		fallbackTotalBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirrorface_fallback_total_bytes",
			Help: "Total bytes proxied upstream per repository.",
		}, []string{"repository"}),
	}

	reg.MustRegister(
		p.totalRequests,
		p.cacheHit,
		p.cacheMiss,
		p.cacheTotalBytes,
		p.fallbackRequests,
		p.fallbackUpstreamError,
		p.fallbackTotalBytes,
	)
	return p
}

func (p *Prometheus) TotalRequest(repository string) {
	p.totalRequests.WithLabelValues(repository).Inc()
}

func (p *Prometheus) CacheHit(repository string) {
	p.cacheHit.WithLabelValues(repository).Inc()
}

func (p *Prometheus) CacheMiss(repository string) {
	p.cacheMiss.WithLabelValues(repository).Inc()
}

func (p *Prometheus) CacheBytes(repository string, n int64) {
	p.cacheTotalBytes.WithLabelValues(repository).Add(float64(n))
}

func (p *Prometheus) FallbackRequest(repository string) {
	p.fallbackRequests.WithLabelValues(repository).Inc()
}

func (p *Prometheus) FallbackUpstreamError(repository string, statusCode int) {
	p.fallbackUpstreamError.WithLabelValues(repository, strconv.Itoa(statusCode)).Inc()
}

func (p *Prometheus) FallbackBytes(repository string, n int64) {
	p.fallbackTotalBytes.WithLabelValues(repository).Add(float64(n))
}
