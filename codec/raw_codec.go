package codec

import (
	"fmt"
)

// RawCodec passes payload bytes through untouched. Messages are []byte,
// *[]byte or string on encode and *[]byte or *string on decode.
type RawCodec struct{}

func (c *RawCodec) Encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case []byte:
		return m, nil
	case *[]byte:
		return *m, nil
	case string:
		return []byte(m), nil
	case *string:
		return []byte(*m), nil
	}
	return nil, fmt.Errorf("RawCodec: cannot encode %T", v)
}

func (c *RawCodec) Decode(data []byte, v any) error {
	switch m := v.(type) {
	case *[]byte:
		*m = append((*m)[:0], data...)
		return nil
	case *string:
		*m = string(data)
		return nil
	}
	return fmt.Errorf("RawCodec: cannot decode into %T", v)
}

func (c *RawCodec) Type() CodecType {
	return CodecTypeRaw
}
