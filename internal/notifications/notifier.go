// Package notifications publishes moderation events into Redis channels so
// other services (and connected clients polling their gate) can react without
// polling the database.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/redis/go-redis/v9"

	"murmur/internal/models"
)

// Event is one moderation state change published to subscribers.
type Event struct {
	Action      string             `json:"action"`
	SubjectType models.SubjectType `json:"subject_type,omitempty"`
	SubjectID   string             `json:"subject_id,omitempty"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// Notifier provides helpers to publish moderation events into Redis channels.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishSubject sends a moderation event to the subject's channel and to the
// firehose. A nil Redis client makes every publish a no-op.
func (n *Notifier) PublishSubject(ctx context.Context, event Event) error {
	if n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	channel := SubjectChannel(models.Subject{ID: event.SubjectID, Type: event.SubjectType})
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return err
	}
	return n.rdb.Publish(ctx, "moderation:events", payload).Err()
}

// StartSubscriber subscribes to all moderation event channels and calls
// onEvent for each incoming message. Malformed payloads are dropped.
func (n *Notifier) StartSubscriber(ctx context.Context, onEvent func(channel string, event Event)) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, "moderation:subject:*", "moderation:events")
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in moderation subscriber: %v\n%s", r, debug.Stack())
						}
					}()
					onEvent(msg.Channel, event)
				}()
			}
		}
	}()

	return nil
}

// SubjectChannel derives the Redis channel name for a subject.
func SubjectChannel(subject models.Subject) string {
	return fmt.Sprintf("moderation:subject:%s:%s", subject.Type, subject.ID)
}
