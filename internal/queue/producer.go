// internal/queue/producer.go
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/downpricer/marketplace-backend/internal/services"
)

const headerEventType = "x-event-type"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes notification jobs to Kafka. It satisfies
// services.Notifier, so the API process can hand delivery to cmd/notifier.
type Producer struct {
	w       messageWriter
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}, buf)
}

func newProducer(w messageWriter, buf int) *Producer {
	if buf <= 0 {
		buf = 256
	}
	return &Producer{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the write loop until Close is called. Remaining messages are
// flushed before the writer is closed.
func (p *Producer) Start() {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				logrus.WithError(err).WithField("key", string(m.Key)).Error("Failed to publish notification")
			}
		}
		if err := p.w.Close(); err != nil {
			logrus.WithError(err).Warn("Kafka writer close failed")
		}
	}()
}

func (p *Producer) NotifyAdmin(ctx context.Context, event services.NotificationEvent, payload map[string]string) {
	p.publish(services.NotificationJob{Event: event, Payload: payload})
}

func (p *Producer) NotifyUser(ctx context.Context, event services.NotificationEvent, recipient string, payload map[string]string) {
	if recipient == "" {
		logrus.WithField("event", event).Warn("Skipping user notification without recipient")
		return
	}
	p.publish(services.NotificationJob{Event: event, Recipient: recipient, Payload: payload})
}

// publish never blocks the caller. A full buffer drops the job.
func (p *Producer) publish(job services.NotificationJob) {
	value, err := json.Marshal(job)
	if err != nil {
		logrus.WithError(err).WithField("event", job.Event).Error("Failed to encode notification")
		return
	}
	key := job.Recipient
	if job.ForAdmin() {
		key = "admin"
	}
	msg := kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: headerEventType, Value: []byte(job.Event)}},
	}
	select {
	case p.inbox <- msg:
	default:
		logrus.WithField("event", job.Event).Error("Notification queue full, dropping job")
	}
}

// Close stops accepting jobs and flushes the buffer.
func (p *Producer) Close() { close(p.inbox) }

// WaitClosed blocks until the write loop has exited.
func (p *Producer) WaitClosed() { <-p.closeCh }
