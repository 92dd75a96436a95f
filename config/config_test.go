package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "maid.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestUpdateFromFile(t *testing.T) {
	path := writeFile(t, `
[server]
port = 9100
rate_limit = 50.5
rate_burst = 10
handler_timeout = "250ms"

[client]
call_timeout = "2s"

[channel]
codec = "json"

[etcd]
endpoints = ["127.0.0.1:2379", "127.0.0.1:22379"]

[log]
level = "debug"
`)
	c := DefaultConfig()
	require.NoError(t, c.UpdateFromFile(path))

	assert.Equal(t, 9100, c.Server.Port)
	assert.Equal(t, "127.0.0.1", c.Server.Host, "unset keys keep their defaults")
	assert.Equal(t, 250*time.Millisecond, c.Server.Timeout.Duration)
	assert.Equal(t, 2*time.Second, c.Client.CallTimeout.Duration)
	assert.Equal(t, 5*time.Second, c.Client.DialTimeout.Duration)
	assert.Equal(t, "json", c.Channel.Codec)
	assert.Len(t, c.Etcd.Endpoints, 2)

	logger, err := c.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestUpdateFromFileRejects(t *testing.T) {
	for name, body := range map[string]string{
		"unknown key":   "[server]\nprot = 1\n",
		"bad codec":     "[channel]\ncodec = \"xml\"\n",
		"bad duration":  "[client]\ncall_timeout = \"soon\"\n",
		"bad level":     "[log]\nlevel = \"loud\"\n",
		"port range":    "[server]\nport = 70000\n",
		"syntax":        "[server\n",
		"negative back": "[server]\nbacklog = -1\n",
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, DefaultConfig().UpdateFromFile(writeFile(t, body)))
		})
	}
}

func TestToFileRoundTrip(t *testing.T) {
	c := DefaultConfig()
	c.Admin.Addr = ":9090"
	c.Etcd.Endpoints = []string{"127.0.0.1:2379"}
	c.Client.CallTimeout.Duration = 1500 * time.Millisecond

	path := filepath.Join(t.TempDir(), "out.toml")
	require.NoError(t, c.ToFile(path))

	got := DefaultConfig()
	require.NoError(t, got.UpdateFromFile(path))
	assert.Equal(t, c, got)
}

func TestChannelOptions(t *testing.T) {
	c := DefaultConfig()
	opts, err := c.ChannelOptions(zap.NewNop(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	c.Channel.Codec = "nope"
	_, err = c.ChannelOptions(zap.NewNop(), nil)
	assert.Error(t, err)
}
