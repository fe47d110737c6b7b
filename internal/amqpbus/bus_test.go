package amqpbus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cafesync/internal/fault"
	"github.com/roach88/cafesync/internal/wire"
)

var at = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type sent struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, exchange, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sent{exchange: exchange, key: key, msg: msg})
	return nil
}

type fakeSubmitter struct {
	got []wire.Intent
	err error
}

func (s *fakeSubmitter) Submit(_ context.Context, in wire.Intent) (wire.IntentResult, error) {
	s.got = append(s.got, in)
	if s.err != nil {
		return wire.IntentResult{}, s.err
	}
	if err := in.Check(); err != nil {
		return wire.Reject(err), nil
	}
	return wire.Accept(1000, 7), nil
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (a *fakeAck) Ack(uint64, bool) error { a.acked = true; return nil }
func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}
func (a *fakeAck) Reject(uint64, bool) error { return nil }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestFeedPublisher(t *testing.T) {
	pub := &fakePublisher{}
	f := NewFeedPublisher(pub, "cafe.deltas", quiet())

	envs := make(chan wire.Envelope, 3)
	for i, p := range []wire.Payload{
		wire.WelcomeSnapshot{},
		wire.CustomerArrived{SessionID: "c-1", DisplayName: "Ada"},
		wire.CustomerRemoved{SessionID: "c-1"},
	} {
		env, err := wire.Seal(int64(i), at, p)
		require.NoError(t, err)
		envs <- env
	}
	close(envs)

	require.NoError(t, f.Forward(context.Background(), envs))
	require.Len(t, pub.sent, 2)

	first := pub.sent[0]
	assert.Equal(t, "cafe.deltas", first.exchange)
	assert.Empty(t, first.key)
	assert.Equal(t, "1", first.msg.MessageId)
	assert.Equal(t, "CustomerArrived", first.msg.Type)
	assert.Equal(t, amqp.Persistent, first.msg.DeliveryMode)
	assert.True(t, at.Equal(first.msg.Timestamp))

	var env wire.Envelope
	require.NoError(t, json.Unmarshal(pub.sent[1].msg.Body, &env))
	assert.Equal(t, int64(2), env.Seq)
	assert.Equal(t, wire.KindCustomerRemoved, env.Type)
}

func TestFeedPublisher_ErrorsAreSkipped(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nack")}
	envs := make(chan wire.Envelope, 1)
	env, err := wire.Seal(1, at, wire.CustomerRemoved{SessionID: "c-1"})
	require.NoError(t, err)
	envs <- env
	close(envs)

	assert.NoError(t, NewFeedPublisher(pub, "x", quiet()).Forward(context.Background(), envs))
}

func TestIntentServer_Handle(t *testing.T) {
	sub := &fakeSubmitter{}
	s := NewIntentServer(sub, &fakePublisher{}, quiet())
	ctx := context.Background()

	res, err := s.Handle(ctx, []byte(`{"kind":"take_order","requesterId":"body","sessionId":"c-1"}`), "")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "body", sub.got[0].RequesterID)

	_, err = s.Handle(ctx, []byte(`{"kind":"take_order","requesterId":"body","sessionId":"c-1"}`), "barista-1")
	require.NoError(t, err)
	assert.Equal(t, "barista-1", sub.got[1].RequesterID, "broker-validated user wins")

	res, err = s.Handle(ctx, []byte(`{`), "")
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, fault.CodeValidation, res.Code)
	assert.Len(t, sub.got, 2, "malformed intents never reach the authority")
}

func TestIntentServer_ServeRepliesAndAcks(t *testing.T) {
	pub := &fakePublisher{}
	s := NewIntentServer(&fakeSubmitter{}, pub, quiet())

	ack := &fakeAck{}
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- amqp.Delivery{
		Acknowledger:  ack,
		ReplyTo:       "amq.rabbitmq.reply-to.abc",
		CorrelationId: "req-42",
		Body:          []byte(`{"kind":"complete_order","requesterId":"barista-1","orderId":1000}`),
	}
	close(deliveries)

	require.NoError(t, s.Serve(context.Background(), deliveries))
	assert.True(t, ack.acked)
	require.Len(t, pub.sent, 1)

	reply := pub.sent[0]
	assert.Empty(t, reply.exchange)
	assert.Equal(t, "amq.rabbitmq.reply-to.abc", reply.key)
	assert.Equal(t, "req-42", reply.msg.CorrelationId)

	var res wire.IntentResult
	require.NoError(t, json.Unmarshal(reply.msg.Body, &res))
	assert.True(t, res.Accepted)
	assert.Equal(t, int64(1000), res.OrderID)
}

func TestIntentServer_RequeuesWhenAuthorityIsDown(t *testing.T) {
	pub := &fakePublisher{}
	s := NewIntentServer(&fakeSubmitter{err: errors.New("gateway stopped")}, pub, quiet())

	ack := &fakeAck{}
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- amqp.Delivery{
		Acknowledger: ack,
		ReplyTo:      "replies",
		Body:         []byte(`{"kind":"take_order","requesterId":"b","sessionId":"c-1"}`),
	}
	close(deliveries)

	require.NoError(t, s.Serve(context.Background(), deliveries))
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeued)
	assert.False(t, ack.acked)
	assert.Empty(t, pub.sent)
}

func TestIntentServer_NoReplyTo(t *testing.T) {
	pub := &fakePublisher{}
	s := NewIntentServer(&fakeSubmitter{}, pub, quiet())

	ack := &fakeAck{}
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte(`{"kind":"reached_exit","requesterId":"b","sessionId":"c-1"}`)}
	close(deliveries)

	require.NoError(t, s.Serve(context.Background(), deliveries))
	assert.True(t, ack.acked)
	assert.Empty(t, pub.sent)
}
