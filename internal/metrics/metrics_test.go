package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusObserverRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)

	o.RecordUpload("A", 10*time.Millisecond, 128, nil)
	o.RecordUpload("B", 10*time.Millisecond, 64, nil)
	o.RecordUpload("A", time.Millisecond, 0, errors.New("disk full"))
	o.RecordPublish(5*time.Millisecond, errors.New("not connected"))
	o.RecordPublish(5*time.Millisecond, nil)
	o.RecordServe(200)
	o.RecordServe(404)
	o.RecordServe(404)

	assert.Equal(t, 1.0, testutil.ToFloat64(o.uploads.WithLabelValues("A")))
	assert.Equal(t, 192.0, testutil.ToFloat64(o.uploadBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.operationErrors.WithLabelValues("upload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.operationErrors.WithLabelValues("publish")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.serves.WithLabelValues("404")))
}

func TestPrometheusObserverReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)
	second, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)

	first.RecordServe(200)
	second.RecordServe(200)
	assert.Equal(t, 2.0, testutil.ToFloat64(first.serves.WithLabelValues("200")))
}

func TestNilAndNopObserversAreSafe(t *testing.T) {
	var o *PrometheusObserver
	o.RecordUpload("A", time.Second, 1, nil)
	o.RecordServe(200)
	o.RecordPublish(time.Second, nil)

	var nop Observer = Nop{}
	nop.RecordUpload("A", time.Second, 1, nil)
	nop.RecordServe(200)
	nop.RecordPublish(time.Second, nil)
}
