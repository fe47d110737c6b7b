package amqpbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roach88/cafesync/internal/fault"
	"github.com/roach88/cafesync/internal/wire"
)

const contentTypeJSON = "application/json"

// Publisher is the publishing side of a Client.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error
}

// Submitter applies intents.
type Submitter interface {
	Submit(ctx context.Context, in wire.Intent) (wire.IntentResult, error)
}

// FeedPublisher copies the delta feed to the fanout exchange. Consumers
// start from seq 1.
type FeedPublisher struct {
	pub      Publisher
	exchange string
	logger   *slog.Logger
}

// NewFeedPublisher returns a publisher for exchange.
func NewFeedPublisher(pub Publisher, exchange string, logger *slog.Logger) *FeedPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedPublisher{pub: pub, exchange: exchange, logger: logger}
}

// Forward publishes envelopes until the channel closes or ctx is done.
// A failed publish is logged and skipped. Only the empty welcome at seq 0
// is held back; a welcome from a rejoin lets consumers resync.
func (f *FeedPublisher) Forward(ctx context.Context, envs <-chan wire.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-envs:
			if !ok {
				return nil
			}
			if env.Type == wire.KindWelcomeSnapshot && env.Seq == 0 {
				continue
			}
			if err := f.publish(ctx, env); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.logger.Error("delta publish failed", "seq", env.Seq, "type", env.Type, "error", err)
			}
		}
	}
}

func (f *FeedPublisher) publish(ctx context.Context, env wire.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return f.pub.Publish(ctx, f.exchange, "", amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  contentTypeJSON,
		MessageId:    strconv.FormatInt(env.Seq, 10),
		Type:         string(env.Type),
		Timestamp:    env.At,
		Body:         body,
	})
}

// IntentServer answers intents consumed from a queue.
type IntentServer struct {
	auth   Submitter
	pub    Publisher
	logger *slog.Logger
}

// NewIntentServer returns a server replying through pub.
func NewIntentServer(auth Submitter, pub Publisher, logger *slog.Logger) *IntentServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentServer{auth: auth, pub: pub, logger: logger}
}

// Serve handles deliveries until the channel closes or ctx is done.
func (s *IntentServer) Serve(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			s.serveOne(ctx, d)
		}
	}
}

func (s *IntentServer) serveOne(ctx context.Context, d amqp.Delivery) {
	res, err := s.Handle(ctx, d.Body, d.UserId)
	if err != nil {
		// The authority is gone; leave the intent for another consumer.
		s.logger.Warn("intent not handled", "correlation_id", d.CorrelationId, "error", err)
		_ = d.Nack(false, true)
		return
	}

	if d.ReplyTo != "" {
		body, err := json.Marshal(res)
		if err == nil {
			err = s.pub.Publish(ctx, "", d.ReplyTo, amqp.Publishing{
				ContentType:   contentTypeJSON,
				CorrelationId: d.CorrelationId,
				Body:          body,
			})
		}
		if err != nil {
			s.logger.Error("intent reply failed", "reply_to", d.ReplyTo, "correlation_id", d.CorrelationId, "error", err)
		}
	}
	_ = d.Ack(false)
}

// Handle decodes and applies one intent. A broker-validated userID, when
// present, is the requester identity. The error is non-nil only when the
// authority could not process the intent at all.
func (s *IntentServer) Handle(ctx context.Context, body []byte, userID string) (wire.IntentResult, error) {
	var in wire.Intent
	if err := json.Unmarshal(body, &in); err != nil {
		return wire.Reject(fault.Validation("malformed intent: %v", err)), nil
	}
	if userID != "" {
		in.RequesterID = userID
	}
	return s.auth.Submit(ctx, in)
}
