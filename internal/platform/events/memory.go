package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is a published event captured by the in-memory publisher.
type Message struct {
	Subject string
	Data    []byte
}

// MemoryPublisher delivers events to in-process subscribers. It backs
// single-node deployments without a broker and doubles as a test capture.
type MemoryPublisher struct {
	mu        sync.Mutex
	messages  []Message
	listeners []chan Message
	closed    bool
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, subject string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("publisher closed")
	}
	msg := Message{Subject: subject, Data: data}
	p.messages = append(p.messages, msg)
	for _, ch := range p.listeners {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Listen registers an in-process listener for all published messages.
func (p *MemoryPublisher) Listen() <-chan Message {
	ch := make(chan Message, 64)
	p.mu.Lock()
	p.listeners = append(p.listeners, ch)
	p.mu.Unlock()
	return ch
}

// Messages returns a snapshot of everything published so far.
func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, ch := range p.listeners {
		close(ch)
	}
	p.listeners = nil
	return nil
}
