package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/booking-guard/internal/application"
	"github.com/example/booking-guard/internal/logging"
	"github.com/example/booking-guard/internal/scheduler"
)

// Publisher sends conflict notifications and submission requests. It keeps one
// connection, redialing when the broker closed it, and opens a channel per
// publish. It satisfies application.Notifier and application.SubmissionExecutor.
type Publisher struct {
	url    string
	dial   Dialer
	now    func() time.Time
	logger *slog.Logger

	mu   sync.Mutex
	conn Connection
}

// NewPublisher constructs a publisher for url. A nil dial uses Dial.
func NewPublisher(url string, dial Dialer, logger *slog.Logger) *Publisher {
	if dial == nil {
		dial = Dial
	}
	return &Publisher{url: url, dial: dial, now: time.Now, logger: logging.Component(logger, "queue.publisher")}
}

// NotifyConflicts publishes a ConflictsDetected event.
func (p *Publisher) NotifyConflicts(ctx context.Context, user application.UserProfile, scannedAt time.Time, sessions []scheduler.Session) error {
	return p.publish(ctx, ConflictsQueue, ConflictsDetected{
		User:      user.Email,
		ScannedAt: scannedAt.UTC(),
		Sessions:  sessions,
	})
}

// Submit publishes a SubmissionRequested event. Completions arrive later on
// SubmissionsDoneQueue, so no submissions are returned.
func (p *Publisher) Submit(ctx context.Context, user application.UserProfile, sessions []scheduler.Session) ([]application.NewSubmission, error) {
	if len(sessions) == 0 {
		return nil, nil
	}
	err := p.publish(ctx, SubmitQueue, SubmissionRequested{
		User:         user.Email,
		Sessions:     sessions,
		BufferBefore: user.BufferBefore,
		BufferAfter:  user.BufferAfter,
		RequestedAt:  p.now().UTC(),
	})
	return nil, err
}

func (p *Publisher) publish(ctx context.Context, queue string, event any) (err error) {
	logger := p.logger.With("queue", queue)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to publish event", "error", err)
			return
		}
		logger.DebugContext(ctx, "event published")
	}()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := p.connection()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		p.reset(conn)
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declare(ch, queue); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (p *Publisher) connection() (Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	conn, err := p.dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	p.conn = conn
	return conn, nil
}

func (p *Publisher) reset(conn Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == conn {
		_ = conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
