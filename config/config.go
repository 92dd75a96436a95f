// Package config loads the maid binary's configuration from a TOML file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"maid/channel"
	"maid/codec"
	"maid/metrics"
	"maid/protocol"
)

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ServerConfig is the listening side.
type ServerConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	Backlog   int    `toml:"backlog"`
	Advertise string `toml:"advertise"` // address put in the registry, defaults to host:port
	// RateLimit is the requests per second admitted by the server, 0 disables it.
	RateLimit float64  `toml:"rate_limit"`
	RateBurst int      `toml:"rate_burst"`
	Timeout   Duration `toml:"handler_timeout"`
}

// ClientConfig is the calling side.
type ClientConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CallTimeout Duration `toml:"call_timeout"`
	DialTimeout Duration `toml:"dial_timeout"`
}

// ChannelConfig holds the knobs shared by both sides.
type ChannelConfig struct {
	Codec                 string `toml:"codec"`
	MaxFrameSize          uint32 `toml:"max_frame_size"`
	MaxConcurrentHandlers int64  `toml:"max_concurrent_handlers"`
	MaxIDScan             int    `toml:"max_id_scan"`
}

type EtcdConfig struct {
	Endpoints   []string `toml:"endpoints"`
	DialTimeout Duration `toml:"dial_timeout"`
	TTL         int64    `toml:"ttl"` // lease seconds
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// AdminConfig is the HTTP endpoint serving /metrics and /healthz.
type AdminConfig struct {
	Addr      string `toml:"addr"` // empty disables it
	Namespace string `toml:"namespace"`
}

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Client  ClientConfig  `toml:"client"`
	Channel ChannelConfig `toml:"channel"`
	Etcd    EtcdConfig    `toml:"etcd"`
	Log     LogConfig     `toml:"log"`
	Admin   AdminConfig   `toml:"admin"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "127.0.0.1",
			Port:    8972,
			Backlog: 128,
		},
		Client: ClientConfig{
			Host:        "127.0.0.1",
			Port:        8972,
			CallTimeout: Duration{5 * time.Second},
			DialTimeout: Duration{5 * time.Second},
		},
		Channel: ChannelConfig{
			Codec:        "proto",
			MaxFrameSize: protocol.DefaultMaxFrameSize,
		},
		Etcd: EtcdConfig{
			DialTimeout: Duration{5 * time.Second},
			TTL:         10,
		},
		Log: LogConfig{Level: "info"},
		Admin: AdminConfig{
			Namespace: "maid",
		},
	}
}

// UpdateFromFile overlays the TOML file at path on c. Keys absent from the
// file keep their current values.
func (c *Config) UpdateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config: %s: unknown keys %v", path, undecoded)
	}
	return c.Validate()
}

// ToFile writes c as TOML to path.
func (c *Config) ToFile(path string) error {
	var w bytes.Buffer
	if err := toml.NewEncoder(&w).Encode(c); err != nil {
		return err
	}
	return os.WriteFile(path, w.Bytes(), 0o644)
}

// Validate checks values that would only fail later at runtime.
func (c *Config) Validate() error {
	if _, err := codec.ParseCodecType(c.Channel.Codec); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	if c.Client.Port < 0 || c.Client.Port > 65535 {
		return fmt.Errorf("config: client port %d out of range", c.Client.Port)
	}
	if c.Server.Backlog < 0 {
		return fmt.Errorf("config: negative backlog %d", c.Server.Backlog)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// NewLogger builds the process logger.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// ChannelOptions translates the configuration into channel options. The
// client call timeout applies to calls made by the channel.
func (c *Config) ChannelOptions(logger *zap.Logger, m *metrics.Metrics) ([]channel.Option, error) {
	ct, err := codec.ParseCodecType(c.Channel.Codec)
	if err != nil {
		return nil, err
	}
	return []channel.Option{
		channel.WithLogger(logger),
		channel.WithCodec(codec.GetCodec(ct)),
		channel.WithMetrics(m),
		channel.WithMaxFrameSize(c.Channel.MaxFrameSize),
		channel.WithMaxConcurrentHandlers(c.Channel.MaxConcurrentHandlers),
		channel.WithMaxIDScan(c.Channel.MaxIDScan),
		channel.WithCallTimeout(c.Client.CallTimeout.Duration),
		channel.WithDialTimeout(c.Client.DialTimeout.Duration),
	}, nil
}
