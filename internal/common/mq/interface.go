package mq

import (
	"context"
	"time"
)

// MessageQueue is the broker surface the evaluator uses: run requests go
// out on one topic and final status events on another.
type MessageQueue interface {
	// Publish publishes a message to the specified topic
	Publish(ctx context.Context, topic string, message *Message) error

	// Subscribe registers a handler with default options
	Subscribe(ctx context.Context, topic string, handler HandlerFunc) error

	// SubscribeWithOptions registers a handler with custom options
	SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	// Start starts consuming messages
	Start() error

	// Stop gracefully stops consuming messages
	Stop() error

	// Ping verifies the broker is reachable
	Ping(ctx context.Context) error

	// Close closes the producer and stops consumers
	Close() error
}

// Message represents a message in the queue
type Message struct {
	ID        string            `json:"id"`
	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Expiration drops the message unhandled once it is older than this.
	Expiration time.Duration `json:"expiration"`
}

// HandlerFunc processes one message. A non-nil error triggers a retry.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions tunes one subscription.
type SubscribeOptions struct {
	ConsumerGroup string

	// Concurrency is the number of handler goroutines. Default: 1
	Concurrency int

	// MaxRetries bounds redelivery of a failing message. Default: 3
	MaxRetries int

	// RetryDelay is the first retry delay; it doubles per attempt up to
	// MaxRetryDelay. Defaults: 1s and 30s.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	// DeadLetterTopic receives messages after max retries. Empty drops them.
	DeadLetterTopic string

	// MessageTTL applies to messages published without an expiration.
	MessageTTL time.Duration
}

// SetDefaults fills unset options.
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.MaxRetryDelay < o.RetryDelay {
		o.MaxRetryDelay = max(30*time.Second, o.RetryDelay)
	}
}

// Backoff returns the delay before retry attempt n (1-based).
func (o *SubscribeOptions) Backoff(attempt int) time.Duration {
	delay := o.RetryDelay
	for i := 1; i < attempt && delay < o.MaxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, o.MaxRetryDelay)
}

// NewMessage creates a new message with the given body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:       body,
		Headers:    make(map[string]string),
		Timestamp:  time.Now(),
		MaxRetries: 3,
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}

// Expired reports whether the message outlived its expiration.
func (m *Message) Expired(now time.Time) bool {
	return m.Expiration > 0 && !m.Timestamp.IsZero() && now.Sub(m.Timestamp) > m.Expiration
}
