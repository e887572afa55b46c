// Package events provides the messaging layer used to broadcast domain
// events to downstream services. NATS is the transport in deployments; an
// in-memory publisher backs single-process setups and tests.
package events

import "context"

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
	Close() error
}

// Subscriber is the interface for consuming raw event payloads.
type Subscriber interface {
	Subscribe(subject string) (<-chan []byte, func(), error)
	Close() error
}

// NoopPublisher is a Publisher that does nothing.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, subject string, event any) error { return nil }

func (NoopPublisher) Close() error { return nil }
