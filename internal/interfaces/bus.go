package interfaces

import "context"

// Publisher sends a payload to a named topic on the message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
}
