package httpadapter

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kirillkom/literature-assistant/internal/core/ports"
	"github.com/kirillkom/literature-assistant/internal/observability/metrics"
)

const (
	defaultUploadMaxBytes = 100 << 20
	multipartMemoryBytes  = 32 << 20
)

// Options carries the traffic-control and upload settings of the API.
type Options struct {
	Service          string
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
	UploadMaxBytes   int64
}

type Router struct {
	guides  ports.GuideGenerator
	batches ports.BatchImporter
	reader  ports.LiteratureReader
	metrics *metrics.HTTPServerMetrics
	opts    Options
}

func NewRouter(
	opts Options,
	guides ports.GuideGenerator,
	batches ports.BatchImporter,
	reader ports.LiteratureReader,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	if opts.Service == "" {
		opts.Service = "literature-api"
	}
	if opts.UploadMaxBytes <= 0 {
		opts.UploadMaxBytes = defaultUploadMaxBytes
	}
	return &Router{
		guides:  guides,
		batches: batches,
		reader:  reader,
		metrics: httpMetrics,
		opts:    opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("POST /v1/literature/generate-guide", rt.generateGuide)
	mux.HandleFunc("POST /v1/literature/batch-import", rt.batchImport)
	mux.HandleFunc("GET /v1/literature", rt.listLiterature)
	mux.HandleFunc("GET /v1/literature/{id}", rt.getLiterature)
	mux.HandleFunc("GET /v1/literature/{id}/download", rt.downloadLiterature)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.opts.Service, handler)
	}
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.BackpressureWait, rt.recordRejected)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst, rt.recordRejected)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) recordRejected(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(rt.opts.Service, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
