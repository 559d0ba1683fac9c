package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/booking-guard/internal/application"
	"github.com/example/booking-guard/internal/logging"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	prefetchCount  = 50
)

// CompletionRecorder appends completed submissions to the submission log.
type CompletionRecorder interface {
	RecordCompletedSubmissions(ctx context.Context, user string, submissions []application.NewSubmission) ([]application.LogEntry, error)
}

// Consumer reads SubmissionCompleted events and records them. Malformed
// messages are rejected without requeue; storage failures are requeued.
type Consumer struct {
	url      string
	dial     Dialer
	recorder CompletionRecorder
	validate *validator.Validate
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewConsumer constructs a consumer for url. A nil dial uses Dial.
func NewConsumer(url string, dial Dialer, recorder CompletionRecorder, logger *slog.Logger) *Consumer {
	if dial == nil {
		dial = Dial
	}
	return &Consumer{
		url:      url,
		dial:     dial,
		recorder: recorder,
		validate: validator.New(),
		logger:   logging.Component(logger, "queue.consumer"),
		sleep:    sleepContext,
	}
}

// Run consumes until ctx is done, reconnecting with exponential backoff
// whenever the broker connection fails or the delivery stream closes.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial(c.url)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to dial broker", "error", err, "retry_in", backoff)
			if err := c.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.WarnContext(ctx, "consume loop ended, reconnecting", "error", err)
		if err := c.sleep(ctx, 2*time.Second); err != nil {
			return err
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		c.logger.WarnContext(ctx, "set QoS failed", "error", err)
	}
	if err := declare(ch, SubmissionsDoneQueue); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	deliveries, err := ch.Consume(SubmissionsDoneQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	requeue, err := c.handle(ctx, delivery.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to handle submission completion",
			"error", err,
			"error_kind", application.ErrorKind(err),
			"requeue", requeue,
		)
		_ = delivery.Nack(false, requeue)
		return
	}
	_ = delivery.Ack(false)
}

// handle records one completion. It reports whether a failed message should
// be requeued.
func (c *Consumer) handle(ctx context.Context, body []byte) (requeue bool, err error) {
	var event SubmissionCompleted
	if err := json.Unmarshal(body, &event); err != nil {
		return false, fmt.Errorf("unmarshal: %w", err)
	}
	if err := c.validate.Struct(event); err != nil {
		return false, fmt.Errorf("invalid event: %w", err)
	}

	_, err = c.recorder.RecordCompletedSubmissions(ctx, event.User, []application.NewSubmission{{
		SessionID:       event.SessionID,
		Title:           event.Title,
		School:          event.School,
		Teacher:         event.Teacher,
		TicketID:        event.TicketID,
		Start:           event.StartTime,
		DurationMinutes: event.Length,
	}})
	if err != nil {
		var vErr *application.ValidationError
		return !errors.As(err, &vErr), fmt.Errorf("record submission: %w", err)
	}

	c.logger.InfoContext(ctx, "submission completion recorded", "user", event.User, "session_id", event.SessionID, "ticket_id", event.TicketID)
	return false, nil
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
