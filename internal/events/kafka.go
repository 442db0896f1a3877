package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/observability"
)

// enqueueTimeout bounds how long Publish waits for room in the producer's
// input buffer when the brokers have stopped draining it.
const enqueueTimeout = 2 * time.Second

var ErrPublishTimeout = errors.New("event producer is not accepting messages")

// KafkaPublisher writes events to one topic keyed by order id, so all events
// of an order land on the same partition in order. Publish only hands the
// message to the async producer; delivery results are logged from a
// background drain.
type KafkaPublisher struct {
	producer       sarama.AsyncProducer
	topic          string
	logger         *slog.Logger
	enqueueTimeout time.Duration
	drained        sync.WaitGroup
	closeOnce      sync.Once
}

// ProducerConfig is the sarama config used for order events. Network and
// broker timeouts are kept short so a stalled cluster surfaces as delivery
// errors within seconds.
func ProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Retry.Backoff = 250 * time.Millisecond
	config.Producer.Timeout = 5 * time.Second
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	// One in-flight request per broker keeps per-partition ordering across retries.
	config.Net.MaxOpenRequests = 1
	config.Net.DialTimeout = 3 * time.Second
	config.Net.ReadTimeout = 5 * time.Second
	config.Net.WriteTimeout = 5 * time.Second
	config.Metadata.Timeout = 5 * time.Second
	config.Version = sarama.V2_6_0_0
	return config
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	producer, err := sarama.NewAsyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, logger), nil
}

func NewKafkaPublisherWithProducer(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *KafkaPublisher {
	p := &KafkaPublisher{
		producer:       producer,
		topic:          topic,
		logger:         logging.FromContext(context.Background(), logger).With("component", "events"),
		enqueueTimeout: enqueueTimeout,
	}
	p.drained.Add(2)
	go p.drainSuccesses()
	go p.drainErrors()
	return p
}

// Publish queues the event. It returns once the producer has accepted the
// message, or with ErrPublishTimeout when the input buffer stays full.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.OrderID.String()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
		Metadata: event,
	}

	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()

	select {
	case p.producer.Input() <- msg:
		return nil
	case <-timer.C:
		return fmt.Errorf("failed to publish %s: %w", event.Type, ErrPublishTimeout)
	case <-ctx.Done():
		return fmt.Errorf("failed to publish %s: %w", event.Type, ctx.Err())
	}
}

func (p *KafkaPublisher) drainSuccesses() {
	defer p.drained.Done()
	for msg := range p.producer.Successes() {
		event, _ := msg.Metadata.(Event)
		p.logger.Debug("event published",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"event_type", event.Type,
			"order_id", event.OrderID,
		)
	}
}

func (p *KafkaPublisher) drainErrors() {
	defer p.drained.Done()
	for perr := range p.producer.Errors() {
		var event Event
		if perr.Msg != nil {
			event, _ = perr.Msg.Metadata.(Event)
		}
		p.logger.Error("failed to deliver event",
			"error", perr.Err,
			"event_type", event.Type,
			"order_id", event.OrderID,
		)
		observability.MeterFromContext(context.Background()).Count(observability.MetricEventFailed, 1, sentry.WithAttributes(
			attribute.String("event_type", string(event.Type)),
		))
	}
}

// Close flushes buffered messages and waits until every delivery result has
// been logged.
func (p *KafkaPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.producer.AsyncClose()
		p.drained.Wait()
	})
	return nil
}
