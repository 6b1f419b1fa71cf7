// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package events

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/tandem/internal/database"
	"github.com/tomtom215/tandem/internal/fault"
	"github.com/tomtom215/tandem/internal/logging"
)

// metadata key carrying the event type on published messages.
const MetadataEventType = "event_type"

// drainBatchSize bounds how many outbox rows one drain cycle publishes.
const drainBatchSize = 100

// Notifier records events durably and drains them to the message bus.
// Emit never blocks on the bus; publication happens in Drain, protected by
// a circuit breaker and an optional rate limit.
type Notifier struct {
	store     *database.DB
	publisher message.Publisher
	topic     string
	breaker   *gobreaker.CircuitBreaker[any]
	limiter   *rate.Limiter
	logger    zerolog.Logger

	// drainMu makes Drain single-flight; overlapping drains would publish
	// the same rows twice for no benefit.
	drainMu sync.Mutex
}

// NewNotifier creates a notifier over the given store and transport.
// publishRate of 0 disables rate limiting.
func NewNotifier(store *database.DB, publisher message.Publisher, topic string, publishRate float64) *Notifier {
	var limiter *rate.Limiter
	if publishRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(publishRate), int(publishRate)+1)
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "event-publisher",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Notifier{
		store:     store,
		publisher: publisher,
		topic:     topic,
		breaker:   breaker,
		limiter:   limiter,
		logger:    logging.With().Str("component", "notifier").Logger(),
	}
}

// Emit writes an event to the outbox. Delivery is asynchronous and
// best-effort; callers log Emit failures and continue, the state change
// already stands.
func (n *Notifier) Emit(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fault.Wrap(fault.KindInvalid, err, "events: %s payload not serializable", ev.EventType())
	}
	if err := n.store.AppendOutboundEvent(ctx, ev.EventType(), payload, time.Now()); err != nil {
		return fault.Wrap(fault.KindTransient, err, "events: failed to record %s", ev.EventType())
	}
	n.logger.Debug().Str("event_type", ev.EventType()).Msg("event recorded")
	return nil
}

// Drain publishes undelivered outbox rows in order, oldest first, and
// marks them delivered. A publish failure stops the cycle; already
// published rows are still marked, keeping delivery at-least-once.
func (n *Notifier) Drain(ctx context.Context) (int, error) {
	n.drainMu.Lock()
	defer n.drainMu.Unlock()

	pending, err := n.store.ListUndelivered(ctx, drainBatchSize)
	if err != nil {
		return 0, fault.Wrap(fault.KindTransient, err, "events: failed to list outbox")
	}
	if len(pending) == 0 {
		return 0, nil
	}

	published := make([]uuid.UUID, 0, len(pending))
	var publishErr error
	for _, row := range pending {
		if n.limiter != nil {
			if err := n.limiter.Wait(ctx); err != nil {
				publishErr = fault.Wrap(fault.KindTransient, err, "events: rate limiter interrupted")
				break
			}
		}

		msg := message.NewMessage(row.ID.String(), row.Payload)
		msg.Metadata.Set(MetadataEventType, row.EventType)

		_, err := n.breaker.Execute(func() (any, error) {
			return nil, n.publisher.Publish(n.topic, msg)
		})
		if err != nil {
			publishErr = fault.Wrap(fault.KindTransient, err, "events: failed to publish %s", row.EventType)
			break
		}
		published = append(published, row.ID)
	}

	if len(published) > 0 {
		if err := n.store.MarkDelivered(ctx, published, time.Now()); err != nil {
			// Rows stay undelivered and will be republished next cycle.
			return len(published), fault.Wrap(fault.KindTransient, err, "events: failed to mark delivered")
		}
	}

	if publishErr != nil {
		n.logger.Warn().Err(publishErr).Int("published", len(published)).Msg("drain stopped early")
		return len(published), publishErr
	}
	n.logger.Debug().Int("published", len(published)).Msg("outbox drained")
	return len(published), nil
}

// Close shuts down the transport.
func (n *Notifier) Close() error {
	return n.publisher.Close()
}
