package client

import (
	"go.uber.org/zap"

	"maid/codec"
	"maid/message"
)

// Completer resolves caller envelopes from response frames.
type Completer struct {
	table  *Table
	codec  codec.Codec
	logger *zap.Logger
}

func NewCompleter(table *Table, c codec.Codec, logger *zap.Logger) *Completer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Completer{table: table, codec: c, logger: logger}
}

// Complete handles one response frame. Responses whose id is not outstanding
// (late, duplicate, or already timed out) are discarded.
func (c *Completer) Complete(meta *message.Meta, payload []byte) {
	ctl := c.table.Remove(meta.TransmitID)
	if ctl == nil {
		c.logger.Debug("discarding response for unknown call",
			zap.Uint64("transmit_id", meta.TransmitID),
			zap.String("service", meta.ServiceName),
			zap.String("method", meta.MethodName))
		return
	}

	if meta.Failed {
		ctl.Fail(meta.ErrorText)
		return
	}

	// A nil reply container means the caller does not want the body.
	if ctl.Response != nil {
		if err := c.codec.Decode(payload, ctl.Response); err != nil {
			c.logger.Debug("response decode failed",
				zap.Uint64("transmit_id", meta.TransmitID),
				zap.String("service", ctl.Meta.ServiceName),
				zap.String("method", ctl.Meta.MethodName),
				zap.Error(err))
			ctl.Fail(message.ReasonParseFailed)
			return
		}
	}
	ctl.Resolve(nil)
}
