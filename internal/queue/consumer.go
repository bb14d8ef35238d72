// internal/queue/consumer.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/downpricer/marketplace-backend/internal/services"
)

const (
	headerError           = "x-error"
	headerSourcePartition = "x-source-partition"
	headerSourceOffset    = "x-source-offset"

	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second
	maxBackoff         = 30 * time.Second
)

// Handler returns nil only when the job is done and its offset may be
// committed.
type Handler func(ctx context.Context, job services.NotificationJob) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r           messageReader
	dlq         messageWriter
	workers     int
	maxAttempts int
	backoff     time.Duration
}

// NewConsumer reads topic as part of group. Jobs that keep failing are moved
// to deadLetterTopic; with an empty deadLetterTopic they are logged and
// dropped.
func NewConsumer(brokers []string, group, topic, deadLetterTopic string, workers int) *Consumer {
	var dlq messageWriter
	if deadLetterTopic != "" {
		dlq = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        deadLetterTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	return newConsumer(kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	}), dlq, workers)
}

func newConsumer(r messageReader, dlq messageWriter, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:           r,
		dlq:         dlq,
		workers:     workers,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
}

// Start dispatches messages until ctx is cancelled. Kafka commits are
// cumulative per partition, so every partition is pinned to one worker and
// its messages are finished in offset order. A message is committed once it
// is delivered, undecodable, or parked on the dead-letter topic. Nothing is
// committed past a job that is still pending.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.close()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 4)
		wg.Add(1)
		go func(worker int, in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				// After shutdown begins the rest is left for redelivery.
				if ctx.Err() != nil {
					continue
				}
				c.handle(ctx, worker, m, h)
			}
		}(i, lanes[i])
	}

	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
		wg.Wait()
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, worker int, m kafka.Message, h Handler) {
	entry := logrus.WithFields(logrus.Fields{
		"worker":    worker,
		"partition": m.Partition,
		"offset":    m.Offset,
	})

	var job services.NotificationJob
	if err := json.Unmarshal(m.Value, &job); err != nil {
		entry.WithError(err).Error("Dropping undecodable notification")
		c.commit(ctx, entry, m)
		return
	}
	entry = entry.WithField("event", job.Event)

	err := c.deliver(ctx, job, h)
	if err == nil {
		c.commit(ctx, entry, m)
		return
	}
	if ctx.Err() != nil {
		entry.WithError(err).Warn("Delivery interrupted, job left for redelivery")
		return
	}

	entry.WithError(err).WithField("attempts", c.maxAttempts).Error("Notification delivery failed")
	if c.park(ctx, entry, m, err) {
		c.commit(ctx, entry, m)
	}
}

// deliver runs the handler up to maxAttempts times with a linear backoff.
func (c *Consumer) deliver(ctx context.Context, job services.NotificationJob, h Handler) error {
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = h(ctx, job); err == nil {
			return nil
		}
		if attempt == c.maxAttempts {
			break
		}
		if !c.sleep(ctx, attempt) {
			return err
		}
	}
	return err
}

// park copies m to the dead-letter topic, retrying until the write lands or
// ctx ends. It reports whether m may now be committed.
func (c *Consumer) park(ctx context.Context, entry *logrus.Entry, m kafka.Message, cause error) bool {
	if c.dlq == nil {
		entry.WithField("value", string(m.Value)).Error("No dead-letter topic, dropping notification")
		return true
	}

	headers := append([]kafka.Header(nil), m.Headers...)
	headers = append(headers,
		kafka.Header{Key: headerError, Value: []byte(cause.Error())},
		kafka.Header{Key: headerSourcePartition, Value: []byte(strconv.Itoa(m.Partition))},
		kafka.Header{Key: headerSourceOffset, Value: []byte(strconv.FormatInt(m.Offset, 10))},
	)
	dead := kafka.Message{Key: m.Key, Value: m.Value, Headers: headers}

	for attempt := 1; ; attempt++ {
		err := c.dlq.WriteMessages(ctx, dead)
		if err == nil {
			entry.Warn("Notification parked on dead-letter topic")
			return true
		}
		entry.WithError(err).WithField("attempt", attempt).Warn("Dead-letter publish failed")
		if !c.sleep(ctx, attempt) {
			return false
		}
	}
}

func (c *Consumer) sleep(ctx context.Context, attempt int) bool {
	wait := c.backoff * time.Duration(attempt)
	if wait > maxBackoff {
		wait = maxBackoff
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Consumer) commit(ctx context.Context, entry *logrus.Entry, m kafka.Message) {
	if err := c.r.CommitMessages(ctx, m); err != nil {
		entry.WithError(err).Warn("Offset commit failed")
	}
}

func (c *Consumer) close() {
	if err := c.r.Close(); err != nil {
		logrus.WithError(err).Warn("Kafka reader close failed")
	}
	if c.dlq != nil {
		if err := c.dlq.Close(); err != nil {
			logrus.WithError(err).Warn("Dead-letter writer close failed")
		}
	}
}
