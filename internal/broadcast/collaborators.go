package broadcast

import (
	"context"

	"github.com/jmehdipour/wa-broadcaster/internal/model"
)

// SendRequest is a single outbound message as handed to the gateway.
type SendRequest struct {
	ChannelRef string
	Credential string
	To         string
	Body       string
}

// Gateway sends one message. The provider behind it runs its own abuse
// heuristics, which is why queues pace on the client side.
type Gateway interface {
	Send(ctx context.Context, req SendRequest) error
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req SendRequest) error

func (f GatewayFunc) Send(ctx context.Context, req SendRequest) error { return f(ctx, req) }

// Recorder receives every message that reached a terminal status. Record
// must not block the processing loop.
type Recorder interface {
	Record(m model.Message)
}

type nopRecorder struct{}

func (nopRecorder) Record(model.Message) {}

type sendStartedKey struct{}

// WithSendStarted returns a context whose MarkSendStarted calls fn.
func WithSendStarted(ctx context.Context, fn func()) context.Context {
	return context.WithValue(ctx, sendStartedKey{}, fn)
}

// MarkSendStarted tells the queue that the request for the current message
// has been issued, so the next message of the batch may go out. Gateways call
// it once the request is on the wire; without it the next message waits for
// Send to return. Extra calls are no-ops.
func MarkSendStarted(ctx context.Context) {
	if fn, ok := ctx.Value(sendStartedKey{}).(func()); ok {
		fn()
	}
}
