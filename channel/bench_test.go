package channel

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"maid/codec"
	"maid/message"
	"maid/protocol"
)

func setupPair(b *testing.B, c codec.Codec) *Channel {
	srv := New(WithCodec(c), WithLogger(zap.NewNop()))
	if err := srv.Register(&Arith{}); err != nil {
		b.Fatal(err)
	}
	ln, err := srv.Listen(context.Background(), "127.0.0.1", 0, 128)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { srv.Close(3 * time.Second) })

	cli := New(WithCodec(c), WithLogger(zap.NewNop()))
	if _, err := cli.Connect(context.Background(), "127.0.0.1", ln.Addr().(*net.TCPAddr).Port); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { cli.Close(3 * time.Second) })
	return cli
}

// 场景1: 单 goroutine 串行调用
func BenchmarkSerialCall(b *testing.B) {
	cli := setupPair(b, codec.GetCodec(codec.CodecTypeJSON))

	args := &Args{A: 1, B: 2}
	reply := &Reply{}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := cli.Invoke(context.Background(), "Arith.Add", args, reply); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景2: 多 goroutine 并发调用，共享一条连接
func BenchmarkConcurrentCall(b *testing.B) {
	cli := setupPair(b, codec.GetCodec(codec.CodecTypeJSON))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		args := &Args{A: 1, B: 2}
		reply := &Reply{}
		for pb.Next() {
			if err := cli.Invoke(context.Background(), "Arith.Add", args, reply); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// 场景3: 帧编解码（不走网络）
func BenchmarkFrame(b *testing.B) {
	meta := &message.Meta{Stub: true, ServiceName: "Arith", MethodName: "Add", TransmitID: 42}
	payload := []byte(`{"A":1,"B":2}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		frame := protocol.EncodeFrame(meta, payload)
		end := len(frame) - len(payload)
		if _, err := protocol.DecodeMeta(frame[protocol.HeaderSize:end]); err != nil {
			b.Fatal(err)
		}
	}
}
