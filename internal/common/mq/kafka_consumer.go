package mq

import (
	"context"
	"errors"
	"sync"
	"time"

	"nodeo/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const fetchErrorBackoff = 200 * time.Millisecond

// consumer is one topic subscription: a fetch loop feeding Concurrency
// handler goroutines. A message is committed once it was handled, expired
// or dead-lettered, so one bad run never blocks its partition.
type consumer struct {
	queue   *KafkaQueue
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	parent  context.Context

	reader *kafka.Reader
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

func (c *consumer) start() {
	c.reader = c.queue.newReader(c.topic, c.opts.ConsumerGroup)
	c.ctx, c.stop = context.WithCancel(c.parent)

	fetched := make(chan kafka.Message, c.opts.Concurrency)
	c.wg.Add(1 + c.opts.Concurrency)
	go c.fetchLoop(fetched)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func() {
			defer c.wg.Done()
			for msg := range fetched {
				c.process(msg)
			}
		}()
	}
}

func (c *consumer) cancel() {
	if c.stop != nil {
		c.stop()
	}
}

func (c *consumer) wait() error {
	c.wg.Wait()
	if c.reader == nil {
		return nil
	}
	err := c.reader.Close()
	c.reader = nil
	return err
}

func (c *consumer) fetchLoop(out chan<- kafka.Message) {
	defer c.wg.Done()
	defer close(out)
	for {
		msg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			logger.Warn(c.ctx, "kafka fetch failed", zap.String("topic", c.topic), zap.Error(err))
			if !sleepCtx(c.ctx, fetchErrorBackoff) {
				return
			}
			continue
		}
		select {
		case out <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *consumer) process(msg kafka.Message) {
	m := decodeMessage(msg)
	if m.MaxRetries == 0 {
		m.MaxRetries = c.opts.MaxRetries
	}
	if m.Expiration == 0 {
		m.Expiration = c.opts.MessageTTL
	}
	if m.Expired(time.Now()) {
		logger.Warn(c.ctx, "dropping expired message", zap.String("topic", c.topic), zap.String("message_id", m.ID))
		c.commit(msg)
		return
	}

	for {
		err := c.handler(c.ctx, m)
		if err == nil {
			c.commit(msg)
			return
		}
		if c.ctx.Err() != nil {
			// Shutting down: leave the offset so the next consumer sees it again.
			return
		}
		m.RetryCount++
		if m.RetryCount > m.MaxRetries {
			c.deadLetter(m, err)
			c.commit(msg)
			return
		}
		delay := c.opts.Backoff(m.RetryCount)
		logger.Warn(c.ctx, "message handler failed, retrying",
			zap.String("topic", c.topic),
			zap.String("message_id", m.ID),
			zap.Int("attempt", m.RetryCount),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if !sleepCtx(c.ctx, delay) {
			return
		}
	}
}

func (c *consumer) deadLetter(m *Message, cause error) {
	logger.Error(c.ctx, "message exhausted retries",
		zap.String("topic", c.topic),
		zap.String("message_id", m.ID),
		zap.String("dead_letter_topic", c.opts.DeadLetterTopic),
		zap.Error(cause),
	)
	if c.opts.DeadLetterTopic == "" {
		return
	}
	m.SetHeader(HeaderDeadLetterReason, cause.Error())
	m.SetHeader(HeaderOriginTopic, c.topic)
	if err := c.queue.Publish(c.ctx, c.opts.DeadLetterTopic, m); err != nil {
		logger.Error(c.ctx, "dead letter publish failed", zap.String("message_id", m.ID), zap.Error(err))
	}
}

func (c *consumer) commit(msg kafka.Message) {
	if err := c.reader.CommitMessages(c.ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn(c.ctx, "kafka commit failed",
			zap.String("topic", c.topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
}

// sleepCtx reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
