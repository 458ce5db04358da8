package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed("idle")
	m.Frame("EVENT")
	m.Frame("EVENT")
	m.Event("accepted")
	m.Delivered(3)
	m.Delivered(0)
	m.BacklogQuery(10 * time.Millisecond)
	m.HTTPRequest("GET", "/", "200")

	require.Equal(t, 1.0, testutil.ToFloat64(m.connections))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sessionsClosed.WithLabelValues("idle")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.frames.WithLabelValues("EVENT")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("accepted")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.deliveries))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.SessionClosed("closed")
	m.Frame("REQ")
	m.Event("blocked")
	m.Delivered(1)
	m.BacklogQuery(time.Second)
	m.HTTPRequest("GET", "/", "200")
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Frame("REQ")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `relay_frames_total{type="REQ"} 1`)
}
