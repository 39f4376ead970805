// Package metrics exposes Prometheus collectors for image ingestion.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/q-controller/imgvault/src/pkg/images/secure"
)

// Config configures the Recorder.
type Config struct {
	// Namespace is the metrics namespace (default: "imgvault").
	Namespace string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the Recorder.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Recorder counts upload outcomes. A nil *Recorder is valid and records nothing.
type Recorder struct {
	uploads        *prometheus.CounterVec
	uploadBytes    prometheus.Histogram
	removals       prometheus.Counter
	mirrorFailures *prometheus.CounterVec
}

// New creates and registers the collectors.
func New(opts ...Option) (*Recorder, error) {
	cfg := Config{
		Namespace: "imgvault",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Recorder{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by result.",
		}, []string{"result"}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "upload_bytes",
			Help:      "Size of accepted uploads in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		removals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "removals_total",
			Help:      "Images removed.",
		}),
		mirrorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "mirror_failures_total",
			Help:      "Failed object store mirror operations.",
		}, []string{"op"}),
	}

	for _, c := range []prometheus.Collector{r.uploads, r.uploadBytes, r.removals, r.mirrorFailures} {
		if err := cfg.Registry.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Upload records the outcome of one upload. err is classified with secure.KindOf.
func (r *Recorder) Upload(size int, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(secure.KindOf(err))
	}
	r.uploads.WithLabelValues(result).Inc()
	if err == nil {
		r.uploadBytes.Observe(float64(size))
	}
}

func (r *Recorder) Removed() {
	if r == nil {
		return
	}
	r.removals.Inc()
}

func (r *Recorder) MirrorFailed(op string) {
	if r == nil {
		return
	}
	r.mirrorFailures.WithLabelValues(op).Inc()
}
