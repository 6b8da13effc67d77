// Package metrics exports relay telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for uploads, asset reads, and bus publishes.
type Observer interface {
	RecordUpload(slot string, duration time.Duration, sizeBytes int64, err error)
	RecordServe(status int)
	RecordPublish(duration time.Duration, err error)
}

// PrometheusObserver exports relay metrics to Prometheus.
type PrometheusObserver struct {
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
	uploads           *prometheus.CounterVec
	uploadBytes       prometheus.Counter
	serves            *prometheus.CounterVec
}

// NewPrometheusObserver registers the relay collectors on reg.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "asset_relay"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of upload and publish operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of failed upload and publish operations.",
		}, []string{"operation"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Successful asset uploads by slot.",
		}, []string{"slot"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Cumulative size of successfully stored assets.",
		}),
		serves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_requests_total",
			Help:      "Static asset requests by response status.",
		}, []string{"status"}),
	}

	var err error
	if o.operationDuration, err = register(reg, o.operationDuration); err != nil {
		return nil, err
	}
	if o.operationErrors, err = register(reg, o.operationErrors); err != nil {
		return nil, err
	}
	if o.uploads, err = register(reg, o.uploads); err != nil {
		return nil, err
	}
	if o.uploadBytes, err = register(reg, o.uploadBytes); err != nil {
		return nil, err
	}
	if o.serves, err = register(reg, o.serves); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register relay metric: %w", err)
	}
	return c, nil
}

// RecordUpload tracks upload latency, size, and failures.
func (o *PrometheusObserver) RecordUpload(slot string, duration time.Duration, sizeBytes int64, err error) {
	if o == nil {
		return
	}
	o.operationDuration.WithLabelValues("upload").Observe(duration.Seconds())
	if err != nil {
		o.operationErrors.WithLabelValues("upload").Inc()
		return
	}
	o.uploads.WithLabelValues(slot).Inc()
	o.uploadBytes.Add(float64(sizeBytes))
}

// RecordServe counts static asset responses.
func (o *PrometheusObserver) RecordServe(status int) {
	if o == nil {
		return
	}
	o.serves.WithLabelValues(fmt.Sprint(status)).Inc()
}

// RecordPublish tracks publish latency and failures.
func (o *PrometheusObserver) RecordPublish(duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.operationDuration.WithLabelValues("publish").Observe(duration.Seconds())
	if err != nil {
		o.operationErrors.WithLabelValues("publish").Inc()
	}
}

// Nop discards all telemetry.
type Nop struct{}

func (Nop) RecordUpload(string, time.Duration, int64, error) {}

func (Nop) RecordServe(int) {}

func (Nop) RecordPublish(time.Duration, error) {}
