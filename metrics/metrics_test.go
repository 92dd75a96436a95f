package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg), WithNamespace("test"))

	m.ObserveCall("Echo", "Say", "", time.Millisecond)
	m.ObserveCall("Echo", "Say", "timeout", time.Second)
	m.ObserveDispatch("Echo", "Say", "", time.Millisecond)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed("clean")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("Echo", "Say", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("Echo", "Say", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("Echo", "Say", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsClosed.WithLabelValues("clean")))
}

func TestStatusLabelIsBounded(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))

	m.ObserveDispatch("Echo", "Say", "no luck: x", time.Millisecond)
	m.ObserveDispatch("Echo", "Say", "no luck: y", time.Millisecond)
	m.ObserveDispatch("Echo", "Say", "handler panic: boom", time.Millisecond)
	m.ObserveCall("Echo", "Say", "peer said something odd", time.Millisecond)
	m.ObserveCall("Echo", "Say", "call table saturated", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("Echo", "Say", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("Echo", "Say", "handler panic")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.dispatchTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("Echo", "Say", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("Echo", "Say", "call table saturated")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCall("Echo", "Say", "", time.Millisecond)
	m.ObserveDispatch("Echo", "Say", "", time.Millisecond)
	m.SessionOpened()
	m.SessionClosed("clean")
}
