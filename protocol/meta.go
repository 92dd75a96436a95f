package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"maid/message"
)

// Metadata field numbers. The section is a protobuf message, so peers built
// from a .proto definition of the call header interoperate.
const (
	fieldStub        protowire.Number = 1
	fieldServiceName protowire.Number = 2
	fieldMethodName  protowire.Number = 3
	fieldTransmitID  protowire.Number = 4
	fieldFailed      protowire.Number = 5
	fieldErrorText   protowire.Number = 6
)

// EncodeMeta encodes the call header. Zero-valued fields are omitted.
func EncodeMeta(m *message.Meta) []byte {
	var b []byte
	if m.Stub {
		b = protowire.AppendTag(b, fieldStub, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if m.ServiceName != "" {
		b = protowire.AppendTag(b, fieldServiceName, protowire.BytesType)
		b = protowire.AppendString(b, m.ServiceName)
	}
	if m.MethodName != "" {
		b = protowire.AppendTag(b, fieldMethodName, protowire.BytesType)
		b = protowire.AppendString(b, m.MethodName)
	}
	if m.TransmitID != 0 {
		b = protowire.AppendTag(b, fieldTransmitID, protowire.VarintType)
		b = protowire.AppendVarint(b, m.TransmitID)
	}
	if m.Failed {
		b = protowire.AppendTag(b, fieldFailed, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if m.ErrorText != "" {
		b = protowire.AppendTag(b, fieldErrorText, protowire.BytesType)
		b = protowire.AppendString(b, m.ErrorText)
	}
	return b
}

// DecodeMeta decodes a metadata section. Unknown fields are skipped.
func DecodeMeta(b []byte) (*message.Meta, error) {
	m := &message.Meta{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, corrupt("tag", n)
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldStub || num == fieldTransmitID || num == fieldFailed):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, corrupt("varint", n)
			}
			b = b[n:]
			switch num {
			case fieldStub:
				m.Stub = protowire.DecodeBool(v)
			case fieldTransmitID:
				m.TransmitID = v
			case fieldFailed:
				m.Failed = protowire.DecodeBool(v)
			}
		case typ == protowire.BytesType && (num == fieldServiceName || num == fieldMethodName || num == fieldErrorText):
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, corrupt("string", n)
			}
			b = b[n:]
			switch num {
			case fieldServiceName:
				m.ServiceName = s
			case fieldMethodName:
				m.MethodName = s
			case fieldErrorText:
				m.ErrorText = s
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, corrupt(fmt.Sprintf("field %d", num), n)
			}
			b = b[n:]
		}
	}
	return m, nil
}

func corrupt(what string, n int) error {
	return fmt.Errorf("%w: %s: %v", ErrCorruptMetadata, what, protowire.ParseError(n))
}
