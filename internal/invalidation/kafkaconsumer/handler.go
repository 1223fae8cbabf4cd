package kafkaconsumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/hotspot-cache/internal/core/observability"
)

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

// groupHandler applies one claim's messages in offset order. An offset is marked only
// after its clear succeeded, so a failed clear is redelivered after the rebalance.
type groupHandler struct {
	process messageProcessor
	logger  *slog.Logger
}

func (c *Consumer) handler() *groupHandler {
	return &groupHandler{process: c.ProcessOne, logger: c.logger}
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info("invalidation claims assigned",
		"member", sess.MemberID(), "generation", sess.GenerationID(), "claims", sess.Claims())
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info("invalidation claims released",
		"member", sess.MemberID(), "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	log := h.logger.With("topic", claim.Topic(), "partition", claim.Partition(), "generation", sess.GenerationID())
	log.Debug("claim started", "initial_offset", claim.InitialOffset(), "high_water", claim.HighWaterMarkOffset())

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim %s/%d: %w", claim.Topic(), claim.Partition(), ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				log.Debug("claim drained")
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				log.Warn("invalidation not applied, offset left unmarked", "offset", msg.Offset, "err", err)
				return fmt.Errorf("apply invalidation at %s/%d@%d: %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
			obs.SetInvalidationMarkedOffset(msg.Topic, msg.Partition, msg.Offset)
		}
	}
}
