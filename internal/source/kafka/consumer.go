// Package kafka feeds timeline events from a Kafka topic into the engine.
package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/gyaneshwarpardhi/camreview/internal/event"
)

// Origin labels events ingested from Kafka.
const Origin = "kafka"

const (
	retryDelay        = 5 * time.Second
	requeueBackoff    = 100 * time.Millisecond
	requeueMaxBackoff = 2 * time.Second
)

// Sink accepts decoded batches. It returns an error wrapping a queue-full
// condition when the caller should back off and retry.
type Sink interface {
	IngestAsync(origin string, events []event.Event) error
}

// Consumer wraps a sarama ConsumerGroup subscribed to the timeline topic.
type Consumer struct {
	group     sarama.ConsumerGroup
	topic     string
	sink      Sink
	retryable func(error) bool
}

// NewConsumer joins groupID on brokers. retryable reports whether a sink
// error is transient; nil treats every error as final.
func NewConsumer(brokers []string, groupID, topic string, sink Sink, retryable func(error) bool) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer group %s: %w", groupID, err)
	}
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	return &Consumer{group: group, topic: topic, sink: sink, retryable: retryable}, nil
}

// Run consumes until ctx is cancelled, rejoining the group after errors.
func (c *Consumer) Run(ctx context.Context) {
	handler := &groupHandler{sink: c.sink, retryable: c.retryable}

	go func() {
		for err := range c.group.Errors() {
			slog.Warn("kafka consumer error", "topic", c.topic, "err", err)
		}
	}()

	for {
		slog.Info("kafka consumer joining group", "topic", c.topic)
		if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			slog.Error("kafka consume failed", "topic", c.topic, "retry_in", retryDelay, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}
		if ctx.Err() != nil {
			slog.Info("kafka consumer stopped", "topic", c.topic)
			return
		}
	}
}

// Close leaves the group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

// Decode parses a message value holding one event or an array of events.
func Decode(value []byte) ([]event.Event, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return nil, errors.New("empty message")
	}
	if value[0] == '[' {
		var events []event.Event
		if err := json.Unmarshal(value, &events); err != nil {
			return nil, fmt.Errorf("decode event batch: %w", err)
		}
		return events, nil
	}
	var e event.Event
	if err := json.Unmarshal(value, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return []event.Event{e}, nil
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct {
	sink      Sink
	retryable func(error) bool
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.handle(sess.Context(), msg) {
				return nil
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

// handle delivers one message to the sink. It returns false only when the
// session ended before the sink accepted the batch, leaving it unmarked.
func (h *groupHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	events, err := Decode(msg.Value)
	if err != nil {
		slog.Warn("dropping malformed kafka message",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return true
	}

	backoff := requeueBackoff
	for {
		err := h.sink.IngestAsync(Origin, events)
		if err == nil {
			return true
		}
		if !h.retryable(err) {
			slog.Error("kafka batch rejected",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "count", len(events), "err", err)
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, requeueMaxBackoff)
	}
}
