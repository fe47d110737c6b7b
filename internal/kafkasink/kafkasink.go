// Package kafkasink publishes the cafe's output to Kafka: closed orders as
// a history sink and the delta feed as a stream downstream consumers can
// replay.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"

	"github.com/roach88/cafesync/internal/history"
	"github.com/roach88/cafesync/internal/wire"
)

// Default topics.
const (
	OrdersTopic = "cafe.orders"
	DeltasTopic = "cafe.deltas"
)

// DefaultBatchTimeout bounds how long a writer holds a partial batch.
const DefaultBatchTimeout = 10 * time.Millisecond

// maxBatch caps the envelopes the forwarder sends in one write.
const maxBatch = 256

// messageWriter is the part of *kafka.Writer the sinks use.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkaGo.Message) error
	Close() error
}

// NewWriter creates a Kafka writer for a topic. Messages are placed by key
// hash, so everything written under one key lands on one partition in
// write order.
func NewWriter(brokers []string, topic string) *kafkaGo.Writer {
	return &kafkaGo.Writer{
		Addr:         kafkaGo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkaGo.Hash{},
		BatchTimeout: DefaultBatchTimeout,
	}
}

// OrderSink publishes closed orders keyed by customer session, so one
// customer's orders stay on one partition. It satisfies history.Sink.
type OrderSink struct {
	w messageWriter
}

// NewOrderSink wraps a writer.
func NewOrderSink(w messageWriter) *OrderSink {
	return &OrderSink{w: w}
}

func (s *OrderSink) Name() string { return "kafka" }

func (s *OrderSink) Write(ctx context.Context, records []history.Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkaGo.Message, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal order %d: %w", r.OrderID, err)
		}
		msgs = append(msgs, kafkaGo.Message{
			Key:   []byte(r.SessionID),
			Value: payload,
			Headers: []kafkaGo.Header{
				{Key: "status", Value: []byte(r.Status.String())},
			},
		})
	}
	return s.w.WriteMessages(ctx, msgs...)
}

// Close closes the underlying writer.
func (s *OrderSink) Close() error { return s.w.Close() }

// Forwarder copies the delta feed to a topic. Every envelope is keyed by
// the stream name so the whole feed stays on one partition in sequence
// order. The welcome snapshot at seq 0 is not forwarded since a consumer
// starts from that empty state anyway. A later welcome, sent when the feed
// is rejoined, is forwarded so consumers can resync over the gap.
type Forwarder struct {
	w      messageWriter
	key    []byte
	logger *slog.Logger
}

// NewForwarder wraps a writer. stream names the feed, usually the run label.
func NewForwarder(w messageWriter, stream string, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{w: w, key: []byte(stream), logger: logger}
}

// Forward publishes envelopes until the channel closes or ctx is done.
// Envelopes already queued on the channel go out in one write. A failed
// write ends Forward with the error; the caller rejoins and the fresh
// welcome covers whatever was lost.
func (f *Forwarder) Forward(ctx context.Context, envs <-chan wire.Envelope) error {
	batch := make([]kafkaGo.Message, 0, maxBatch)
	for {
		var (
			env wire.Envelope
			ok  bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok = <-envs:
		}
		if !ok {
			return nil
		}

		batch = batch[:0]
		first, last := env.Seq, env.Seq
		for ok {
			msg, keep, err := f.message(env)
			if err != nil {
				return err
			}
			if keep {
				batch = append(batch, msg)
				last = env.Seq
			}
			if len(batch) == maxBatch {
				break
			}
			env, ok = tryRecv(envs)
		}

		if len(batch) > 0 {
			if err := f.w.WriteMessages(ctx, batch...); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("publish seq %d..%d: %w", first, last, err)
			}
			f.logger.Debug("deltas forwarded", "first", first, "last", last, "messages", len(batch))
		}
	}
}

// tryRecv takes an envelope that is already queued, if any.
func tryRecv(envs <-chan wire.Envelope) (wire.Envelope, bool) {
	select {
	case env, ok := <-envs:
		return env, ok
	default:
		return wire.Envelope{}, false
	}
}

func (f *Forwarder) message(env wire.Envelope) (kafkaGo.Message, bool, error) {
	if env.Type == wire.KindWelcomeSnapshot && env.Seq == 0 {
		return kafkaGo.Message{}, false, nil
	}
	value, err := json.Marshal(env)
	if err != nil {
		return kafkaGo.Message{}, false, fmt.Errorf("failed to marshal envelope %d: %w", env.Seq, err)
	}
	return kafkaGo.Message{
		Key:   f.key,
		Value: value,
		Headers: []kafkaGo.Header{
			{Key: "type", Value: []byte(env.Type)},
		},
	}, true, nil
}

// NewReader creates a consumer for a topic and consumer group.
func NewReader(brokers []string, topic, groupID string) *kafkaGo.Reader {
	return kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
}

// messageReader is the part of *kafka.Reader Consume uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafkaGo.Message, error)
}

// Consume decodes forwarded envelopes and hands them to fn until ctx is
// done. Undecodable messages are logged and skipped; an error from fn
// stops consumption.
func Consume(ctx context.Context, r messageReader, logger *slog.Logger, fn func(wire.Envelope) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Consumer shutting down")
				return nil
			}
			logger.Error("Error reading message", "err", err)
			continue
		}
		var env wire.Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			logger.Error("Error decoding envelope", "offset", msg.Offset, "err", err)
			continue
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}
