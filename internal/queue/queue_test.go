package queue

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

	"github.com/example/booking-guard/internal/application"
	"github.com/example/booking-guard/internal/persistence"
	"github.com/example/booking-guard/internal/scheduler"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type channelStub struct {
	mu         sync.Mutex
	declared   []string
	published  []amqp.Publishing
	keys       []string
	publishErr error
	deliveries chan amqp.Delivery
	closed     bool
}

func (c *channelStub) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }

func (c *channelStub) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !durable {
		return amqp.Queue{}, errors.New("queues must be durable")
	}
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *channelStub) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *channelStub) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("expected manual acknowledgements")
	}
	return c.deliveries, nil
}

func (c *channelStub) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type connectionStub struct {
	channel *channelStub
	closed  bool
}

func (c *connectionStub) Channel() (Channel, error) { return c.channel, nil }
func (c *connectionStub) IsClosed() bool             { return c.closed }
func (c *connectionStub) Close() error               { c.closed = true; return nil }

type ackRecord struct {
	ack     bool
	requeue bool
}

type acknowledgerStub struct {
	records chan ackRecord
}

func (a *acknowledgerStub) Ack(tag uint64, multiple bool) error {
	a.records <- ackRecord{ack: true}
	return nil
}

func (a *acknowledgerStub) Nack(tag uint64, multiple, requeue bool) error {
	a.records <- ackRecord{requeue: requeue}
	return nil
}

func (a *acknowledgerStub) Reject(tag uint64, requeue bool) error {
	a.records <- ackRecord{requeue: requeue}
	return nil
}

type recorderStub struct {
	mu    sync.Mutex
	users []string
	subs  []application.NewSubmission
	err   error
}

func (r *recorderStub) RecordCompletedSubmissions(ctx context.Context, user string, submissions []application.NewSubmission) ([]application.LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.users = append(r.users, user)
	r.subs = append(r.subs, submissions...)
	return nil, nil
}

func TestPublisher(t *testing.T) {
	ctx := context.Background()
	channel := &channelStub{}
	dials := 0
	conn := &connectionStub{channel: channel}
	publisher := NewPublisher("amqp://test", func(url string) (Connection, error) {
		dials++
		return conn, nil
	}, discard)

	user := application.UserProfile{Email: "lead@example.org", BufferBefore: 10, BufferAfter: 5}
	sessions := []scheduler.Session{{ID: "c1", Title: "Math", Conflict: scheduler.Conflict{IsConflict: true, Kind: scheduler.ConflictTime}}}

	if err := publisher.NotifyConflicts(ctx, user, time.Date(2026, time.January, 10, 15, 0, 0, 0, time.UTC), sessions); err != nil {
		t.Fatalf("NotifyConflicts returned error: %v", err)
	}
	completed, err := publisher.Submit(ctx, user, sessions)
	if err != nil || completed != nil {
		t.Fatalf("expected asynchronous submit, got %v, %v", completed, err)
	}
	if _, err := publisher.Submit(ctx, user, nil); err != nil {
		t.Fatalf("expected empty submit to be a no-op, got %v", err)
	}

	if dials != 1 {
		t.Fatalf("expected the connection to be reused, dialed %d times", dials)
	}
	if len(channel.keys) != 2 || channel.keys[0] != ConflictsQueue || channel.keys[1] != SubmitQueue {
		t.Fatalf("unexpected routing keys %v", channel.keys)
	}
	for _, msg := range channel.published {
		if msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" {
			t.Fatalf("expected persistent JSON messages, got %#v", msg)
		}
	}

	var conflict ConflictsDetected
	if err := json.Unmarshal(channel.published[0].Body, &conflict); err != nil {
		t.Fatalf("failed to decode conflicts event: %v", err)
	}
	if conflict.User != "lead@example.org" || len(conflict.Sessions) != 1 {
		t.Fatalf("unexpected conflicts event %#v", conflict)
	}

	var request SubmissionRequested
	if err := json.Unmarshal(channel.published[1].Body, &request); err != nil {
		t.Fatalf("failed to decode submission event: %v", err)
	}
	if request.BufferBefore != 10 || request.BufferAfter != 5 || request.Sessions[0].ID != "c1" {
		t.Fatalf("unexpected submission event %#v", request)
	}

	conn.closed = true
	if err := publisher.NotifyConflicts(ctx, user, time.Now(), sessions); err != nil {
		t.Fatalf("NotifyConflicts returned error: %v", err)
	}
	if dials != 2 {
		t.Fatalf("expected a redial after the connection closed, dialed %d times", dials)
	}

	channel.publishErr = errors.New("channel closed")
	if err := publisher.NotifyConflicts(ctx, user, time.Now(), sessions); err == nil {
		t.Fatalf("expected publish error to propagate")
	}
}

func TestPublisher_DialFailure(t *testing.T) {
	boom := errors.New("connection refused")
	publisher := NewPublisher("amqp://test", func(string) (Connection, error) { return nil, boom }, discard)

	err := publisher.NotifyConflicts(context.Background(), application.UserProfile{Email: "a@example.org"}, time.Now(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected dial error, got %v", err)
	}
}

func TestConsumer_Handle(t *testing.T) {
	ctx := context.Background()
	valid := `{"user":"lead@example.org","session_id":"s1","title":"Math","school":"School A","ticket_id":"REQ1","start_time":"2026-01-12T15:00:00Z","length":45}`

	tests := []struct {
		name        string
		body        string
		recorderErr error
		wantErr     bool
		wantRequeue bool
	}{
		{name: "records valid completion", body: valid},
		{name: "rejects malformed json", body: `{`, wantErr: true},
		{name: "rejects missing session id", body: `{"user":"lead@example.org"}`, wantErr: true},
		{name: "rejects invalid email", body: `{"user":"not-an-email","session_id":"s1"}`, wantErr: true},
		{name: "requeues storage failures", body: valid, recorderErr: persistence.ErrBusy, wantErr: true, wantRequeue: true},
		{name: "drops validation failures", body: valid, recorderErr: &application.ValidationError{FieldErrors: map[string]string{"user": "required"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &recorderStub{err: tt.recorderErr}
			consumer := NewConsumer("amqp://test", nil, recorder, discard)

			requeue, err := consumer.handle(ctx, []byte(tt.body))
			if (err != nil) != tt.wantErr || requeue != tt.wantRequeue {
				t.Fatalf("handle() = %v, %v; want error %v, requeue %v", requeue, err, tt.wantErr, tt.wantRequeue)
			}
			if !tt.wantErr {
				if len(recorder.subs) != 1 || recorder.users[0] != "lead@example.org" {
					t.Fatalf("unexpected recorded submissions %#v", recorder.subs)
				}
				got := recorder.subs[0]
				if got.TicketID != "REQ1" || got.Start != "2026-01-12T15:00:00Z" || got.DurationMinutes != 45 {
					t.Fatalf("unexpected submission %#v", got)
				}
			}
		})
	}
}

func TestConsumer_RunAcknowledgesAndStops(t *testing.T) {
	channel := &channelStub{deliveries: make(chan amqp.Delivery, 2)}
	recorder := &recorderStub{}
	consumer := NewConsumer("amqp://test", func(string) (Connection, error) {
		return &connectionStub{channel: channel}, nil
	}, recorder, discard)

	acks := &acknowledgerStub{records: make(chan ackRecord, 2)}
	channel.deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 1, Body: []byte(`{"user":"lead@example.org","session_id":"s1"}`)}
	channel.deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 2, Body: []byte(`not json`)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	for i, want := range []ackRecord{{ack: true}, {ack: false, requeue: false}} {
		select {
		case got := <-acks.records:
			if got != want {
				t.Fatalf("delivery %d: got %#v, want %#v", i+1, got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("delivery %d was not acknowledged", i+1)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancellation")
	}
}

func TestConsumer_RunBacksOffOnDialFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delays []time.Duration
	consumer := NewConsumer("amqp://test", func(string) (Connection, error) {
		return nil, errors.New("connection refused")
	}, &recorderStub{}, discard)
	consumer.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 7 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	if err := consumer.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("unexpected backoff sequence %v", delays)
		}
	}
}
