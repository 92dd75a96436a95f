package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"maid/message"
)

func TestEncodeDecode(t *testing.T) {
	meta := &message.Meta{
		Stub:        true,
		ServiceName: "Echo",
		MethodName:  "Say",
		TransmitID:  12345,
	}
	payload := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, meta, payload); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, decodedPayload, err := ReadFrame(&buf, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if *decoded != *meta {
		t.Errorf("Meta mismatch: got %+v, want %+v", decoded, meta)
	}
	if !bytes.Equal(decodedPayload, payload) {
		t.Errorf("Payload mismatch: got %s, want %s", decodedPayload, payload)
	}

	if _, _, err := ReadFrame(&buf, DefaultMaxFrameSize); err != io.EOF {
		t.Fatalf("expected clean io.EOF after last frame, got %v", err)
	}
}

func TestFrameLengths(t *testing.T) {
	meta := &message.Meta{ServiceName: "Echo", TransmitID: 7, Failed: true, ErrorText: "boom"}
	frame := EncodeFrame(meta, []byte("abc"))

	h, err := DecodeHeader(frame)
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}
	if int(h.MetaLen) != len(EncodeMeta(meta)) {
		t.Errorf("MetaLen mismatch: got %d, want %d", h.MetaLen, len(EncodeMeta(meta)))
	}
	if h.PayloadLen != 3 {
		t.Errorf("PayloadLen mismatch: got %d, want 3", h.PayloadLen)
	}
	if len(frame) != HeaderSize+int(h.MetaLen)+int(h.PayloadLen) {
		t.Errorf("frame length %d does not match header", len(frame))
	}
}

func TestMetaRoundTrip(t *testing.T) {
	cases := []message.Meta{
		{},
		{Stub: true, ServiceName: "pkg.Service", MethodName: "Method", TransmitID: 1},
		{TransmitID: message.MaxTransmitID, Failed: true, ErrorText: "service not exist"},
		{ServiceName: "名字", MethodName: "方法"},
	}
	for _, want := range cases {
		got, err := DecodeMeta(EncodeMeta(&want))
		if err != nil {
			t.Fatalf("DecodeMeta(%+v) failed: %v", want, err)
		}
		if *got != want {
			t.Errorf("round trip mismatch: got %+v, want %+v", *got, want)
		}
	}
}

func TestDecodeMetaSkipsUnknownFields(t *testing.T) {
	b := EncodeMeta(&message.Meta{MethodName: "Say"})
	// field 15, varint 42
	b = append(b, 15<<3|0, 42)
	m, err := DecodeMeta(b)
	if err != nil {
		t.Fatalf("DecodeMeta failed: %v", err)
	}
	if m.MethodName != "Say" {
		t.Errorf("MethodName mismatch: got %q", m.MethodName)
	}
}

func TestDecodeCorruptMetadata(t *testing.T) {
	for _, b := range [][]byte{
		{0xff},       // incomplete tag
		{0x08},       // stub tag without value
		{0x12, 0x05}, // service name claims 5 bytes, has none
	} {
		_, err := DecodeMeta(b)
		if !errors.Is(err, ErrCorruptMetadata) {
			t.Errorf("DecodeMeta(%x): expected ErrCorruptMetadata, got %v", b, err)
		}
	}

	var buf bytes.Buffer
	buf.Write(EncodeHeader(Header{MetaLen: 1}))
	buf.WriteByte(0xff)
	if _, _, err := ReadFrame(&buf, 0); !errors.Is(err, ErrCorruptMetadata) {
		t.Fatalf("ReadFrame: expected ErrCorruptMetadata, got %v", err)
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	_, err := DecodeHeader([]byte{0, 0, 0})
	if !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	frame := EncodeFrame(&message.Meta{Stub: true, ServiceName: "Echo", MethodName: "Say", TransmitID: 3}, []byte("payload"))

	// Cut inside the header, the metadata and the payload.
	for _, n := range []int{1, HeaderSize - 1, HeaderSize + 2, len(frame) - 1} {
		_, _, err := ReadFrame(bytes.NewReader(frame[:n]), 0)
		if !errors.Is(err, ErrTruncatedFrame) {
			t.Errorf("cut at %d: expected ErrTruncatedFrame, got %v", n, err)
		}
	}

	if _, _, err := ReadFrame(bytes.NewReader(nil), 0); err != io.EOF {
		t.Errorf("empty stream: expected io.EOF, got %v", err)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodeHeader(Header{MetaLen: 10, PayloadLen: 1 << 30}))
	_, _, err := ReadFrame(&buf, 1024)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	meta := &message.Meta{TransmitID: 5, Failed: true, ErrorText: "method not exist"}
	var buf bytes.Buffer
	if err := Encode(&buf, meta, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, payload, err := ReadFrame(&buf, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if len(payload) != 0 {
		t.Errorf("Expected empty payload, got length %d", len(payload))
	}
	if !decoded.Failed || decoded.ErrorText != "method not exist" {
		t.Errorf("failure not preserved: %+v", decoded)
	}
}

func TestDecodeLargePayload(t *testing.T) {
	var buf bytes.Buffer

	large := make([]byte, 1024*1024)
	for i := range large {
		large[i] = byte(i % 256)
	}

	if err := Encode(&buf, &message.Meta{TransmitID: 999}, large); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	_, decoded, err := ReadFrame(&buf, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(decoded, large) {
		t.Errorf("large payload mismatch")
	}
}
