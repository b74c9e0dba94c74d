package broker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"crmflow/internal/config"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/pkg/errors"
	"crmflow/pkg/logging"
	"crmflow/pkg/metrics"
	"crmflow/pkg/models"
	"crmflow/pkg/retry"
	"crmflow/pkg/tracing"
)

const (
	fetchErrorBackoff = time.Second

	dlqReasonExhausted = "max_retries_exceeded"
	dlqReasonFatal     = "fatal"
)

type KafkaProducer struct {
	writer  *kafka.Writer
	logger  logger.Logger
	service string
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	if log == nil {
		log = logger.NopLogger()
	}
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: constants.KafkaBatchTimeout,
			WriteTimeout: constants.KafkaWriteTimeout,
			RequiredAcks: kafka.RequireAll,
		},
		logger:  log,
		service: constants.ServiceTypeAutomation,
	}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", msg.Type, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     partitionKey(msg),
		Value:   body,
		Headers: tracing.InjectTraceContext(ctx, nil),
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}

	metrics.IncKafkaMessagesWritten(p.service, topic)
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads one topic per Consume call inside the configured consumer group.
// Offsets are committed only after the handler succeeded or the message was parked.
type KafkaConsumer struct {
	cfg     config.KafkaConfig
	logger  logger.Logger
	dlq     Producer
	service string
	policy  retry.Policy

	mu      sync.Mutex
	readers []*kafka.Reader
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	if log == nil {
		log = logger.NopLogger()
	}
	c := &KafkaConsumer{
		cfg:     cfg,
		logger:  log,
		service: "unknown",
		policy:  retry.FromConfig(cfg.Retry, retry.DefaultPolicy()),
	}
	if cfg.DLQTopic != "" {
		c.dlq = NewKafkaProducer(cfg, log)
	}
	return c
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.service = name
}

func (c *KafkaConsumer) newReader(topic string) *kafka.Reader {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	c.mu.Lock()
	c.readers = append(c.readers, r)
	c.mu.Unlock()
	return r
}

// Consume blocks until ctx is cancelled. Fetch errors are logged and retried after a short pause.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	ctx = logging.WithServiceName(ctx, c.service)
	reader := c.newReader(topic)
	c.logger.InfowCtx(ctx, "Consuming topic",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(ctx, "Stopped consuming", "topic", topic)
				return ctx.Err()
			}
			c.logger.ErrorwCtx(ctx, "Fetch failed", "topic", topic, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fetchErrorBackoff):
			}
			continue
		}

		metrics.IncKafkaMessagesRead(c.service, topic)
		c.deliver(ctx, m, handler)

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.ErrorwCtx(ctx, "Commit failed",
				"topic", topic,
				"partition", m.Partition,
				"offset", m.Offset,
				"error", err,
			)
		}
	}
}

func (c *KafkaConsumer) deliver(ctx context.Context, m kafka.Message, handler HandlerFunc) {
	var envelope models.MessageEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err != nil {
		// nothing to hand to the DLQ as an envelope; drop it
		c.logger.ErrorwCtx(ctx, "Undecodable message dropped",
			"topic", m.Topic,
			"partition", m.Partition,
			"offset", m.Offset,
			"error", err,
		)
		return
	}

	msgCtx, span := tracing.StartConsumerSpan(ctx, m.Topic, m.Headers)
	defer span.End()
	if envelope.Metadata.TraceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, envelope.Metadata.TraceID)
	}
	msgCtx = logging.WithMessageID(msgCtx, envelope.ID)

	err := c.handle(msgCtx, m.Topic, envelope, handler)
	if err == nil {
		return
	}

	reason := dlqReasonExhausted
	if retry.IsFatal(err) {
		reason = dlqReasonFatal
	}
	c.logger.ErrorwCtx(msgCtx, "Handler gave up on message",
		"topic", m.Topic,
		"type", envelope.Type,
		"reason", reason,
		"error", err,
	)
	if c.dlq == nil {
		c.logger.WarnwCtx(msgCtx, "No dead letter topic configured, message skipped", "topic", m.Topic)
		return
	}
	if err := c.park(msgCtx, envelope, m.Topic, reason, err); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Dead letter publish failed", "topic", m.Topic, "error", err)
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, topic string, envelope models.MessageEnvelope, handler HandlerFunc) error {
	attempt := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Handler panicked", "topic", topic, "error", err)
			}
		}()
		return handler(ctx, envelope)
	}
	return retry.Do(ctx, c.policy, attempt, func(n int, err error, wait time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.service, topic).Inc()
		c.logger.WarnwCtx(ctx, "Handler failed, retrying",
			"topic", topic,
			"attempt", n,
			"max_attempts", c.policy.MaxAttempts,
			"next_delay", wait,
			"error", err,
		)
	})
}

// park copies the envelope to the dead letter topic with the failure recorded in its attributes.
func (c *KafkaConsumer) park(ctx context.Context, envelope models.MessageEnvelope, source, reason string, cause error) error {
	attrs := make(map[string]interface{}, len(envelope.Metadata.Attributes)+4)
	for k, v := range envelope.Metadata.Attributes {
		attrs[k] = v
	}
	attrs["dlq_reason"] = reason
	attrs["dlq_error"] = cause.Error()
	attrs["dlq_source_topic"] = source
	attrs["dlq_timestamp"] = time.Now().UTC()
	envelope.Metadata.Attributes = attrs

	if err := c.dlq.Publish(context.WithoutCancel(ctx), c.cfg.DLQTopic, envelope); err != nil {
		return err
	}
	metrics.DLQMessagesTotal.WithLabelValues(c.service, source, reason).Inc()
	c.logger.InfowCtx(ctx, "Message parked on dead letter topic",
		"source_topic", source,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", reason,
	)
	return nil
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	readers := c.readers
	c.readers = nil
	c.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.dlq != nil {
		if err := c.dlq.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
