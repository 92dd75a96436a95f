package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ProtoCodec serializes protobuf messages.
type ProtoCodec struct{}

func (c *ProtoCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("ProtoCodec: %T is not a proto.Message", v)
	}
	return proto.Marshal(msg)
}

func (c *ProtoCodec) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("ProtoCodec: %T is not a proto.Message", v)
	}
	return proto.Unmarshal(data, msg)
}

func (c *ProtoCodec) Type() CodecType {
	return CodecTypeProto
}
