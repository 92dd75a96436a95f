package middleware

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"maid/message"
	"maid/metrics"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, ctl *message.Controller, payload []byte) (any, error) {
	return payload, nil
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, ctl *message.Controller, payload []byte) (any, error) {
	time.Sleep(200 * time.Millisecond)
	return payload, nil
}

func panicHandler(ctx context.Context, ctl *message.Controller, payload []byte) (any, error) {
	panic("boom")
}

func newRequest() *message.Controller {
	return message.FromMeta(&message.Meta{Stub: true, ServiceName: "Echo", MethodName: "Say", TransmitID: 1}, nil)
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(zap.NewNop())(echoHandler)

	resp, err := handler(context.Background(), newRequest(), []byte("ok"))
	if err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if string(resp.([]byte)) != "ok" {
		t.Fatalf("expect payload 'ok', got '%v'", resp)
	}
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	if _, err := handler(context.Background(), newRequest(), nil); err != nil {
		t.Fatalf("expect no error, got '%v'", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	_, err := handler(context.Background(), newRequest(), nil)
	if message.ReasonOf(err) != ReasonHandlerTimeout {
		t.Fatalf("expect timeout error, got '%v'", err)
	}
}

func TestTimeoutRecoversPanic(t *testing.T) {
	// handler 在 TimeOut 启动的 goroutine 里 panic，外层 recover 捕获不到
	handler := Chain(RecoverMiddleware(zap.NewNop()), TimeOutMiddleware(time.Second))(panicHandler)

	_, err := handler(context.Background(), newRequest(), nil)
	if message.ReasonOf(err) != "handler panic: boom" {
		t.Fatalf("expect panic turned into error, got '%v'", err)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), newRequest(), nil); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	_, err := handler(context.Background(), newRequest(), nil)
	if message.ReasonOf(err) != ReasonRateLimited {
		t.Fatalf("request 3 should be rate limited, got: '%v'", err)
	}
}

func TestRecover(t *testing.T) {
	handler := RecoverMiddleware(zap.NewNop())(panicHandler)

	_, err := handler(context.Background(), newRequest(), nil)
	var ce *message.CallError
	if !errors.As(err, &ce) {
		t.Fatalf("expect CallError after panic, got %v", err)
	}
	if ce.Reason != "handler panic: boom" {
		t.Fatalf("unexpected reason %q", ce.Reason)
	}
}

func TestMetricsAndTracing(t *testing.T) {
	m := metrics.New(metrics.WithRegistry(prometheus.NewRegistry()))
	handler := Chain(TracingMiddleware(noop.NewTracerProvider().Tracer("test")), MetricsMiddleware(m))(echoHandler)

	if _, err := handler(context.Background(), newRequest(), []byte("x")); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestMetricsUnknownNamesShareSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.WithRegistry(reg))
	notExist := func(ctx context.Context, ctl *message.Controller, payload []byte) (any, error) {
		return nil, message.ErrServiceNotExist
	}
	handler := MetricsMiddleware(m)(notExist)

	for i := 0; i < 50; i++ {
		ctl := message.FromMeta(&message.Meta{Stub: true, ServiceName: fmt.Sprintf("Svc%d", i), MethodName: fmt.Sprintf("M%d", i)}, nil)
		handler(context.Background(), ctl, nil)
	}

	n, err := testutil.GatherAndCount(reg, "maid_dispatch_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expect 1 dispatch series for unknown services, got %d", n)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, ctl *message.Controller, payload []byte) (any, error) {
				order = append(order, name+".before")
				resp, err := next(ctx, ctl, payload)
				order = append(order, name+".after")
				return resp, err
			}
		}
	}

	chained := Chain(mark("A"), mark("B"), LoggingMiddleware(zap.NewNop()), TimeOutMiddleware(500*time.Millisecond))
	if _, err := chained(echoHandler)(context.Background(), newRequest(), nil); err != nil {
		t.Fatalf("expect no error, got '%v'", err)
	}

	want := []string{"A.before", "B.before", "B.after", "A.after"}
	if len(order) != len(want) {
		t.Fatalf("unexpected order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v", order)
		}
	}
}
