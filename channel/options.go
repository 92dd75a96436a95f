package channel

import (
	"time"

	"go.uber.org/zap"

	"maid/codec"
	"maid/metrics"
	"maid/protocol"
)

type options struct {
	logger        *zap.Logger
	codec         codec.Codec
	metrics       *metrics.Metrics
	callTimeout   time.Duration
	dialTimeout   time.Duration
	maxFrameSize  uint32
	maxConcurrent int64
	maxIDScan     int
}

func defaultOptions() options {
	return options{
		logger:       zap.NewNop(),
		codec:        codec.GetCodec(codec.CodecTypeProto),
		dialTimeout:  5 * time.Second,
		maxFrameSize: protocol.DefaultMaxFrameSize,
	}
}

// Option configures a Channel.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCodec sets the payload codec. Both peers must use the same one.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithCallTimeout bounds every call that has no earlier context deadline.
// Zero means calls wait for a response or for their connection to close.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithMaxFrameSize caps inbound frames. Zero disables the check.
func WithMaxFrameSize(n uint32) Option {
	return func(o *options) { o.maxFrameSize = n }
}

// WithMaxConcurrentHandlers bounds how many requests run user logic at once.
func WithMaxConcurrentHandlers(n int64) Option {
	return func(o *options) { o.maxConcurrent = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMaxIDScan bounds the transmit id collision scan.
func WithMaxIDScan(n int) Option {
	return func(o *options) { o.maxIDScan = n }
}
