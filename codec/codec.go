// Package codec is the serialization collaborator of a channel. It turns
// request and response messages into payload bytes and back.
//
// The codec type is not carried on the wire: both peers of a channel must be
// configured with the same codec.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeProto CodecType = 0
	CodecTypeJSON  CodecType = 1
	CodecTypeRaw   CodecType = 2
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}
	case CodecTypeRaw:
		return &RawCodec{}
	}
	return &ProtoCodec{}
}

// ParseCodecType maps a config name ("proto", "json", "raw") to its type.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "proto", "protobuf":
		return CodecTypeProto, nil
	case "json":
		return CodecTypeJSON, nil
	case "raw", "bytes":
		return CodecTypeRaw, nil
	}
	return 0, fmt.Errorf("codec: unknown codec %q", name)
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeProto:
		return "proto"
	case CodecTypeJSON:
		return "json"
	case CodecTypeRaw:
		return "raw"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}
