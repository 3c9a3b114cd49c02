package events

import "context"

// NoopPublisher is a Publisher that does nothing (used when the NATS bridge
// is not configured).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}
