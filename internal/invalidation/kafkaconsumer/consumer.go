// Package kafkaconsumer applies cache invalidation events from a Kafka consumer group.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/hotspot-cache/internal/core/observability"
	"github.com/mohammed-shakir/hotspot-cache/internal/invalidation"
	mylog "github.com/mohammed-shakir/hotspot-cache/internal/logger"
)

// Clearer drops every cached hotspot.
type Clearer interface {
	ClearCache(ctx context.Context) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  Clearer
}

func New(cfg Config, logger *slog.Logger, c Clearer) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, cache: c}
}

// Start consumes until ctx is done, rejoining the group after errors.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing cache dependency")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "invalidation_consumer")
	handler := c.handler()

	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			c.logger.ErrorContext(ctx, "kafka consumer error", "err", err, "topic", c.cfg.Topic)
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "kafka invalidation consumer shutting down")
			return nil
		}
	}
}

// ProcessOne decodes one message and applies it. Malformed or unsupported events are
// logged and skipped so they do not block the partition; a failed clear is returned so
// the offset is not marked.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.ObserveInvalidation("decode", err)
		c.logger.WarnContext(ctx, "skip undecodable invalidation event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.ObserveInvalidation("invalid", err)
		c.logger.WarnContext(ctx, "skip invalid invalidation event",
			"offset", msg.Offset, "op", ev.Op, "err", err)
		return nil
	}

	start := time.Now()
	if err := c.cache.ClearCache(ctx); err != nil {
		obs.ObserveInvalidation(ev.Op, err)
		return fmt.Errorf("clear cache: %w", err)
	}
	obs.ObserveInvalidation(ev.Op, nil)
	c.logger.InfoContext(ctx, "hotspot cache cleared by event",
		"source", ev.Source, "event_ts", ev.TS, "dur", time.Since(start).String(),
		"partition", msg.Partition, "offset", msg.Offset)
	return nil
}
