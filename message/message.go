// Package message defines the call envelope exchanged between two channels.
//
// A Controller is the per-call state object. It travels with a request to the
// peer, comes back as the response, and on the calling side carries the
// single-assignment completion the caller waits on.
//
//   - On request:  Meta.Stub is true, ServiceName/MethodName name the target,
//     Request holds the outbound message.
//   - On response: Meta.Stub is false, Response holds the reply, Meta.Failed
//     and Meta.ErrorText report a failed call.
package message

// MaxTransmitID is the largest transmit id handed out before the counter
// wraps back to zero.
const MaxTransmitID uint64 = 1<<63 - 1

// Meta is the call header carried in the metadata section of every frame.
type Meta struct {
	Stub        bool   // true = request, false = response
	ServiceName string // Full service name, e.g. "Echo"
	MethodName  string // Method name, e.g. "Say"
	TransmitID  uint64 // Correlation id, assigned by the caller and echoed back
	Failed      bool
	ErrorText   string
}

// Endpoint is the connection a Controller travels over. The envelope does not
// own it; the transport session implements it.
type Endpoint interface {
	// ID identifies the connection in logs and metrics.
	ID() string
	// Enqueue appends ctl to the outbound queue of the connection.
	Enqueue(ctl *Controller) error
}
