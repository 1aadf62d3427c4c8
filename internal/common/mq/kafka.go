package mq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reserved headers carry Message metadata across the broker. They never
// show up in Message.Headers on the consuming side.
const (
	headerID         = "nodeo-msg-id"
	headerTimestamp  = "nodeo-msg-ts"
	headerRetryCount = "nodeo-msg-retry"
	headerMaxRetries = "nodeo-msg-max-retries"
	headerExpiration = "nodeo-msg-ttl-ms"

	// HeaderDeadLetterReason and HeaderOriginTopic are set on dead-lettered copies.
	HeaderDeadLetterReason = "nodeo-dead-letter-reason"
	HeaderOriginTopic      = "nodeo-origin-topic"
)

// KafkaConfig defines configuration for Kafka implementation.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	// Producer settings
	RequiredAcks kafka.RequiredAcks
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafka.Compression

	// Consumer settings
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	DialTimeout time.Duration
}

func (c *KafkaConfig) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 50 * time.Millisecond
	}
	if c.MinBytes == 0 {
		c.MinBytes = 1 << 10
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MaxWait == 0 {
		c.MaxWait = time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = kafka.RequireOne
	}
}

// KafkaQueue implements MessageQueue on kafka-go. Run messages are keyed by
// run id, so every delivery of one run lands on the same partition.
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu        sync.Mutex
	consumers []*consumer
	started   bool
	closed    bool
}

// NewKafkaQueue creates a Kafka-backed message queue.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	cfg.applyDefaults()

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: cfg.RequiredAcks,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Compression:  cfg.Compression,
		Transport: &kafka.Transport{
			ClientID: cfg.ClientID,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
		},
	}
	return &KafkaQueue{config: cfg, writer: writer, dialer: dialer}, nil
}

// Publish writes message to topic.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	switch {
	case message == nil:
		return errors.New("message is nil")
	case topic == "":
		return errors.New("topic is required")
	}
	if err := k.writer.WriteMessages(ctx, encodeMessage(topic, message)); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe subscribes to a topic with default options.
func (k *KafkaQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc) error {
	return k.SubscribeWithOptions(ctx, topic, handler, nil)
}

// SubscribeWithOptions registers a consumer. It starts reading on Start, or
// right away when the queue already runs.
func (k *KafkaQueue) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	options := SubscribeOptions{}
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = "nodeo-" + topic
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c := &consumer{
		queue:   k,
		topic:   topic,
		handler: handler,
		opts:    options,
		parent:  ctx,
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	k.consumers = append(k.consumers, c)
	if k.started {
		c.start()
	}
	return nil
}

// Start starts all registered consumers.
func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	if !k.started {
		for _, c := range k.consumers {
			c.start()
		}
		k.started = true
	}
	return nil
}

// Stop waits for in-flight handlers and closes the readers.
func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, c := range k.consumers {
		c.cancel()
	}
	var errs []error
	for _, c := range k.consumers {
		if err := c.wait(); err != nil {
			errs = append(errs, err)
		}
	}
	k.started = false
	return errors.Join(errs...)
}

// Ping dials the first broker.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial %s: %w", k.config.Brokers[0], err)
	}
	return conn.Close()
}

// Close stops consumers and flushes the producer.
func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	stopErr := k.Stop()
	return errors.Join(stopErr, k.writer.Close())
}

func (k *KafkaQueue) newReader(topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       topic,
		GroupID:     group,
		Dialer:      k.dialer,
		MinBytes:    k.config.MinBytes,
		MaxBytes:    k.config.MaxBytes,
		MaxWait:     k.config.MaxWait,
		StartOffset: kafka.LastOffset,
	})
}

func encodeMessage(topic string, message *Message) kafka.Message {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	headers := make([]kafka.Header, 0, len(message.Headers)+5)
	add := func(key, value string) {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	for key, value := range message.Headers {
		add(key, value)
	}
	if message.ID != "" {
		add(headerID, message.ID)
	}
	add(headerTimestamp, message.Timestamp.Format(time.RFC3339Nano))
	if message.RetryCount > 0 {
		add(headerRetryCount, strconv.Itoa(message.RetryCount))
	}
	if message.MaxRetries > 0 {
		add(headerMaxRetries, strconv.Itoa(message.MaxRetries))
	}
	if message.Expiration > 0 {
		add(headerExpiration, strconv.FormatInt(message.Expiration.Milliseconds(), 10))
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(message.ID),
		Value:   message.Body,
		Headers: headers,
		Time:    message.Timestamp,
	}
}

func decodeMessage(msg kafka.Message) *Message {
	m := &Message{
		ID:        string(msg.Key),
		Body:      msg.Value,
		Headers:   make(map[string]string, len(msg.Headers)),
		Timestamp: msg.Time,
	}
	for _, h := range msg.Headers {
		value := string(h.Value)
		switch h.Key {
		case headerID:
			m.ID = value
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
				m.Timestamp = ts
			}
		case headerRetryCount:
			m.RetryCount = nonNegativeInt(value)
		case headerMaxRetries:
			m.MaxRetries = nonNegativeInt(value)
		case headerExpiration:
			m.Expiration = time.Duration(nonNegativeInt(value)) * time.Millisecond
		default:
			m.Headers[h.Key] = value
		}
	}
	return m
}

func nonNegativeInt(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
