package dispatch

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/confops/pkg/enums"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/outbox"
)

// ConsumerName scopes the dedupe markers of the push consumer.
const ConsumerName = "push-dispatch"

type eventHandler interface {
	Handle(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.Envelope) error
}

type claimer interface {
	Claim(ctx context.Context, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, eventID uuid.UUID) error
}

// Consumer drains the alerts subscription and hands each event to the
// dispatcher at most once per event id.
type Consumer struct {
	handler      eventHandler
	subscription *pubsub.Subscriber
	claims       claimer
	logg         *logger.Logger
}

func NewConsumer(handler eventHandler, subscription *pubsub.Subscriber, claims claimer, logg *logger.Logger) (*Consumer, error) {
	switch {
	case handler == nil:
		return nil, fmt.Errorf("dispatch handler required")
	case subscription == nil:
		return nil, fmt.Errorf("alerts subscription required")
	case claims == nil:
		return nil, fmt.Errorf("dedupe guard required")
	case logg == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{handler: handler, subscription: subscription, claims: claims, logg: logg}, nil
}

// Run blocks receiving messages until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Attributes, msg.Data) == redeliver {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// verdict is what happens to a Pub/Sub message after processing.
type verdict int

const (
	done verdict = iota
	redeliver
)

func (c *Consumer) process(ctx context.Context, messageID string, attributes map[string]string, data []byte) verdict {
	eventType := enums.OutboxEventType(attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	if !Handles(eventType) {
		c.logg.Debug(logCtx, "skipping event without push")
		return done
	}

	envelope, err := outbox.Open(data)
	if err != nil {
		c.logg.Error(logCtx, "dropping undecodable envelope", err)
		return done
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "dropping event with invalid id", err)
		return done
	}
	logCtx = c.logg.WithField(logCtx, "event_id", envelope.EventID)

	first, err := c.claims.Claim(ctx, eventID)
	if err != nil {
		c.logg.Error(logCtx, "dedupe claim failed", err)
		return redeliver
	}
	if !first {
		c.logg.Info(logCtx, "event already processed")
		return done
	}

	err = c.handler.Handle(ctx, eventType, envelope)
	switch {
	case err == nil:
		return done
	case pkgerrors.IsCode(err, pkgerrors.CodeValidation):
		// The marker stays: a redelivery would fail the same way.
		c.logg.Error(logCtx, "dropping undeliverable event", err)
		return done
	default:
		c.logg.Error(logCtx, "push dispatch failed", err)
		if relErr := c.claims.Release(ctx, eventID); relErr != nil {
			c.logg.Warn(c.logg.WithField(logCtx, "error", relErr.Error()), "dedupe release failed")
		}
		return redeliver
	}
}
