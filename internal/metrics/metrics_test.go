package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg).(*promMetrics)

	m.RecordRequest("READ", "DATA", 2*time.Millisecond)
	m.RecordRequest("READ", "END_OF_FILE", time.Millisecond)
	m.RecordRequest("OPEN", "FAILURE", time.Millisecond)
	m.RecordBytes("read", 11)
	m.RecordBytes("read", 0)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed(3)
	m.RecordAuth("password", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("READ", "DATA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("OPEN", "FAILURE")))
	assert.Equal(t, 11.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.releasedHandles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authAttempts.WithLabelValues("password", "failure")))
}

func TestNoop(t *testing.T) {
	m := Noop()
	m.RecordRequest("READ", "OK", time.Second)
	m.RecordBytes("write", 10)
	m.SessionOpened()
	m.SessionClosed(1)
	m.RecordAuth("publickey", true)
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg).SessionOpened()

	srv := httptest.NewServer(NewRouter(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "sftpjail_active_sessions 1")
}

func TestServerStartShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", prometheus.NewRegistry())
	require.NoError(t, s.Start())
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
