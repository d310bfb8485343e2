// Command mirrorface-server runs the read-through HTTP gateway: it serves
// cached repository files from a local content-addressed store, falling
// back to streaming from the upstream Hub on a miss.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/lacop/mirrorface/internal/config"
	"github.com/lacop/mirrorface/internal/gateway"
	"github.com/lacop/mirrorface/internal/metrics"
)

func main() {
	configureLogging()

	cfg, err := config.Load()
	if err != nil {
		fatalf("configuration error: %v", err)
	}

	addr := os.Getenv("MIRRORFACE_LISTEN_ADDR")
	if addr == "" {
		addr = ":8000"
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheus(registry)

	gw := &gateway.Gateway{
		LocalDirectory:  cfg.LocalDirectory,
		UpstreamBaseURL: cfg.UpstreamURL,
		ChunkSize:       cfg.ChunkSize,
		Metrics:         recorder,
	}

	router := gw.Router()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	handler := handlers.CombinedLoggingHandler(os.Stdout, router)

	log.Infof("listening on %s, proxying %s, store at %s", addr, cfg.UpstreamURL, cfg.LocalDirectory)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal(err)
	}
}

func configureLogging() {
	level := os.Getenv("MIRRORFACE_LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
		log.Warnf("error parsing MIRRORFACE_LOG_LEVEL=%q: %v, using %q", level, err, parsed)
	}
	log.SetLevel(parsed)
	log.SetFormatter(&log.JSONFormatter{})
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
