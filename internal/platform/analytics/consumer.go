// Package analytics consumes patient lifecycle events from the message bus
// and maintains aggregate counters over them.
package analytics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pm-health/patient-service/internal/domain/patient"
	"github.com/pm-health/patient-service/internal/platform/events"
)

// Consumer subscribes to patient events and tracks per-type totals. Safe for
// concurrent use.
type Consumer struct {
	sub    events.Subscriber
	logger zerolog.Logger

	mu          sync.Mutex
	byType      map[patient.EventType]int64
	total       int64
	malformed   int64
	lastEventAt time.Time
}

func NewConsumer(sub events.Subscriber, logger zerolog.Logger) *Consumer {
	return &Consumer{
		sub:    sub,
		logger: logger,
		byType: make(map[patient.EventType]int64),
	}
}

// Run subscribes to the given subject (wildcards allowed) and processes
// events until the context is cancelled or the subscription closes.
func (c *Consumer) Run(ctx context.Context, subject string) error {
	ch, cancel, err := c.sub.Subscribe(subject)
	if err != nil {
		return err
	}
	defer cancel()

	c.logger.Info().Str("subject", subject).Msg("analytics consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			c.handle(data)
		}
	}
}

func (c *Consumer) handle(data []byte) {
	var ev patient.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.mu.Lock()
		c.malformed++
		c.mu.Unlock()
		c.logger.Warn().Err(err).Msg("dropping malformed event")
		return
	}

	c.mu.Lock()
	c.byType[ev.EventType]++
	c.total++
	c.lastEventAt = time.Now()
	c.mu.Unlock()

	c.logger.Info().
		Str("event_id", ev.EventID).
		Str("event_type", string(ev.EventType)).
		Str("patient_id", ev.PatientID).
		Str("email", ev.Email).
		Msg("patient event received")
}

// Stats is a point-in-time snapshot of consumer counters.
type Stats struct {
	Total       int64                       `json:"total"`
	Malformed   int64                       `json:"malformed"`
	ByType      map[patient.EventType]int64 `json:"by_type"`
	LastEventAt time.Time                   `json:"last_event_at"`
}

func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	byType := make(map[patient.EventType]int64, len(c.byType))
	for t, n := range c.byType {
		byType[t] = n
	}
	return Stats{
		Total:       c.total,
		Malformed:   c.malformed,
		ByType:      byType,
		LastEventAt: c.lastEventAt,
	}
}
