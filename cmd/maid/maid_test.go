package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"maid/channel"
	"maid/config"
	"maid/metrics"
)

func TestCallEchoOverProto(t *testing.T) {
	srv := channel.New(channel.WithLogger(zap.NewNop()))
	require.NoError(t, srv.Register(&Echo{}))
	ln, err := srv.Listen(context.Background(), "127.0.0.1", 0, 16)
	require.NoError(t, err)
	defer srv.Close(time.Second)

	cfg := config.DefaultConfig()
	cfg.Log.Level = "error"
	cfg.Client.Port = ln.Addr().(*net.TCPAddr).Port

	reply, err := call(context.Background(), cfg, "Echo.Say", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)

	reply, err = call(context.Background(), cfg, "Echo.Upper", "hello")
	require.NoError(t, err)
	assert.Equal(t, "HELLO", reply)

	_, err = call(context.Background(), cfg, "Echo.Nope", "hello")
	assert.EqualError(t, err, "rpc: method not exist")
}

func TestAdminRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.WithRegistry(reg))
	ch := channel.New(channel.WithMetrics(m))
	require.NoError(t, ch.Register(&Echo{}))
	defer ch.Close(time.Second)

	// Produces at least one sample for /metrics.
	ch.Call(context.Background(), "Echo", "Say", nil, nil, nil)

	srv := httptest.NewServer(adminRouter(ch, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var h health
	require.NoError(t, jsoniter.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, []string{"Echo"}, h.Services)

	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	assert.Equal(t, http.StatusOK, mresp.StatusCode)
}

func TestAdvertiseAddr(t *testing.T) {
	bound := &net.TCPAddr{IP: net.IPv4zero, Port: 8972}
	assert.Equal(t, "127.0.0.1:8972", advertiseAddr("0.0.0.0", bound))
	assert.Equal(t, "10.0.0.5:8972", advertiseAddr("10.0.0.5", bound))
}
