package events

import (
	"context"
	"testing"
	"time"
)

func TestMemoryPublisher_RecordsMessages(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()

	if err := pub.Publish(context.Background(), "patient.created", map[string]string{"id": "1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pub.Publish(context.Background(), "patient.deleted", map[string]string{"id": "1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Subject != "patient.created" {
		t.Errorf("unexpected subject %s", msgs[0].Subject)
	}
	if string(msgs[1].Data) != `{"id":"1"}` {
		t.Errorf("unexpected payload %s", msgs[1].Data)
	}
}

func TestMemoryPublisher_DeliversToListeners(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()

	ch := pub.Listen()
	if err := pub.Publish(context.Background(), "patient.updated", map[string]string{"id": "2"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Subject != "patient.updated" {
			t.Errorf("unexpected subject %s", msg.Subject)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryPublisher_ClosedRejectsPublish(t *testing.T) {
	pub := NewMemoryPublisher()
	ch := pub.Listen()

	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected listener channel to be closed")
	}
	if err := pub.Publish(context.Background(), "patient.created", nil); err == nil {
		t.Error("expected error publishing after close")
	}

	// Double close is a no-op.
	if err := pub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
