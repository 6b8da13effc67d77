// Package notify publishes asset update notifications to the message bus.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/memohai/assetrelay/internal/metrics"
)

// Publisher delivers one payload to a topic and reports the broker outcome.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// PublishError wraps a transport failure. Its message is the transport's own.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string { return e.Err.Error() }

func (e *PublishError) Unwrap() error { return e.Err }

// Result echoes what was published.
type Result struct {
	Topic   string       `json:"topic"`
	Payload Notification `json:"payload"`
}

// Service validates push requests and publishes them once. It never retries.
type Service struct {
	publisher Publisher
	topic     string
	timeout   time.Duration
	observer  metrics.Observer
	logger    *slog.Logger
}

// NewService creates a notify service publishing to topic. A zero timeout
// leaves the caller's context as the only deadline.
func NewService(log *slog.Logger, publisher Publisher, topic string, timeout time.Duration, observer metrics.Observer) *Service {
	if log == nil {
		log = slog.Default()
	}
	if observer == nil {
		observer = metrics.Nop{}
	}
	return &Service{
		publisher: publisher,
		topic:     topic,
		timeout:   timeout,
		observer:  observer,
		logger:    log.With(slog.String("service", "notify")),
	}
}

// Topic returns the configured topic.
func (s *Service) Topic() string {
	return s.topic
}

// Notify builds an asset update from rawURL and rawSlot and publishes it.
// Validation failures return ErrInvalidURL and publish nothing; transport
// failures return *PublishError.
func (s *Service) Notify(ctx context.Context, rawURL, rawSlot any) (Result, error) {
	n, err := NewAssetUpdate(rawURL, rawSlot)
	if err != nil {
		return Result{}, err
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return Result{}, fmt.Errorf("encode notification: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err = s.publisher.Publish(ctx, s.topic, payload)
	s.observer.RecordPublish(time.Since(start), err)
	if err != nil {
		s.logger.Warn("asset update publish failed",
			slog.String("topic", s.topic),
			slog.String("url", n.URL),
			slog.Any("error", err),
		)
		return Result{}, &PublishError{Topic: s.topic, Err: err}
	}

	s.logger.Info("asset update published",
		slog.String("topic", s.topic),
		slog.String("url", n.URL),
		slog.String("slot", string(n.Slot)),
	)
	return Result{Topic: s.topic, Payload: n}, nil
}
