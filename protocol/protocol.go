// Package protocol implements the length-prefixed binary frame protocol.
//
// TCP is a byte stream, so every frame starts with a fixed 8-byte header that
// tells the receiver exactly how many metadata and payload bytes follow.
//
// Frame format (all integers big-endian, network byte order):
//
//	0           4           8
//	┌───────────┬───────────┬────────────────┬───────────────┐
//	│  metaLen  │ payloadLen│ metadata ...   │ payload ...   │
//	│  uint32   │  uint32   │ metaLen bytes  │ payloadLen b. │
//	└───────────┴───────────┴────────────────┴───────────────┘
//
// The metadata section is the encoded call header (see EncodeMeta). The
// payload is the serialized request or response message and may be empty,
// e.g. for a failed call.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"maid/message"
)

// HeaderSize is the size of the fixed frame header.
const HeaderSize = 8

// DefaultMaxFrameSize bounds metaLen+payloadLen of a single inbound frame.
const DefaultMaxFrameSize uint32 = 64 << 20

var (
	// ErrMalformedHeader is returned when fewer than HeaderSize bytes are given.
	ErrMalformedHeader = errors.New("protocol: malformed header")
	// ErrTruncatedFrame means the stream ended inside a frame.
	ErrTruncatedFrame = errors.New("protocol: truncated frame")
	// ErrCorruptMetadata means the metadata section could not be decoded.
	ErrCorruptMetadata = errors.New("protocol: corrupt metadata")
	// ErrFrameTooLarge means the header announced more bytes than allowed.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
)

// Header is the fixed 8-byte frame header.
type Header struct {
	MetaLen    uint32
	PayloadLen uint32
}

// EncodeHeader returns the wire form of h.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.MetaLen)
	binary.BigEndian.PutUint32(buf[4:8], h.PayloadLen)
	return buf
}

// DecodeHeader parses the first HeaderSize bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes, need %d", ErrMalformedHeader, len(buf), HeaderSize)
	}
	return Header{
		MetaLen:    binary.BigEndian.Uint32(buf[0:4]),
		PayloadLen: binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

// EncodeFrame builds a complete frame (header + metadata + payload) in one
// contiguous buffer, so it can be handed to a single Write call.
func EncodeFrame(meta *message.Meta, payload []byte) []byte {
	md := EncodeMeta(meta)
	buf := make([]byte, HeaderSize, HeaderSize+len(md)+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(md)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	buf = append(buf, md...)
	return append(buf, payload...)
}

// Encode writes a complete frame to w with one Write call.
// Callers sharing w between goroutines must serialize calls themselves; a
// session does so by owning exactly one send loop.
func Encode(w io.Writer, meta *message.Meta, payload []byte) error {
	_, err := w.Write(EncodeFrame(meta, payload))
	return err
}

// ReadFrame reads one frame from r.
//
// It returns io.EOF only when the stream ends cleanly on a frame boundary. A
// stream that ends after any byte of a frame has arrived yields
// ErrTruncatedFrame. A maxFrameSize of zero disables the size check.
func ReadFrame(r io.Reader, maxFrameSize uint32) (*message.Meta, []byte, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil, fmt.Errorf("%w: inside header", ErrTruncatedFrame)
		}
		return nil, nil, err
	}
	h, err := DecodeHeader(hb[:])
	if err != nil {
		return nil, nil, err
	}
	if maxFrameSize > 0 && uint64(h.MetaLen)+uint64(h.PayloadLen) > uint64(maxFrameSize) {
		return nil, nil, fmt.Errorf("%w: %d+%d bytes exceeds %d", ErrFrameTooLarge, h.MetaLen, h.PayloadLen, maxFrameSize)
	}

	md := make([]byte, h.MetaLen)
	if err := readBody(r, md, "metadata"); err != nil {
		return nil, nil, err
	}
	meta, err := DecodeMeta(md)
	if err != nil {
		return nil, nil, err
	}

	var payload []byte
	if h.PayloadLen > 0 {
		payload = make([]byte, h.PayloadLen)
		if err := readBody(r, payload, "payload"); err != nil {
			return nil, nil, err
		}
	}
	return meta, payload, nil
}

// readBody fills buf; any end of stream here is a truncated frame since the
// header has already been consumed.
func readBody(r io.Reader, buf []byte, section string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: inside %s", ErrTruncatedFrame, section)
		}
		return err
	}
	return nil
}
