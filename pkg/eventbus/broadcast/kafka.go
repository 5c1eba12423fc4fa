package broadcast

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/core/logger"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const headerContentType = "content-type"

type kafkaProducer interface {
	Produce(message *kafka.Message, deliveryChan chan kafka.Event) error
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	Flush(timeoutMs int) int
	Close()
}

type kafkaConsumer interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	StoreOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
	Close() error
}

// kafkaBroadcaster publishes to one topic per category. Every node reads all
// topics in its own consumer group, so each envelope reaches every node.
type kafkaBroadcaster struct {
	conf        KafkaConfig
	groupID     string
	producer    kafkaProducer
	newConsumer func(groupID string) (kafkaConsumer, error)
	tracer      trace.Tracer
	log         *zap.Logger
	throttler   *logger.LogThrottler
}

func newKafkaBroadcaster(conf KafkaConfig, groupID string, producer kafkaProducer, newConsumer func(string) (kafkaConsumer, error), log *zap.Logger) *kafkaBroadcaster {
	log = log.With(zap.String("component", "kafka-broadcaster"))
	return &kafkaBroadcaster{
		conf:        conf,
		groupID:     groupID,
		producer:    producer,
		newConsumer: newConsumer,
		tracer:      otel.Tracer("eventbus.broadcast"),
		log:         log,
		throttler:   logger.NewLogThrottler(log, time.Minute),
	}
}

// NewKafkaProducer creates a confluent producer for conf.
func NewKafkaProducer(conf KafkaConfig) (*kafka.Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  conf.Brokers,
		"enable.idempotence": true,
		"acks":               "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return p, nil
}

func kafkaConsumerFactory(conf KafkaConfig) func(string) (kafkaConsumer, error) {
	return func(groupID string) (kafkaConsumer, error) {
		c, err := kafka.NewConsumer(&kafka.ConfigMap{
			"bootstrap.servers":        conf.Brokers,
			"group.id":                 groupID,
			"auto.offset.reset":        conf.AutoOffsetReset,
			"enable.auto.commit":       true,
			"enable.auto.offset.store": false,
			"auto.commit.interval.ms":  3000,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create consumer: %w", err)
		}
		return c, nil
	}
}

// GroupID is the consumer group of one node.
func GroupID(prefix, serviceName string, nodeID int64) string {
	return prefix + "." + serviceName + ".node-" + strconv.FormatInt(nodeID, 10)
}

func (b *kafkaBroadcaster) topic(c event.Category) string {
	return b.conf.TopicPrefix + "." + string(c)
}

func (b *kafkaBroadcaster) topics() []string {
	return lo.Map(event.Categories(), func(c event.Category, _ int) string { return b.topic(c) })
}

// Durable is true: a produced envelope stays in the topic until every node
// has stored its offset past it.
func (b *kafkaBroadcaster) Durable() bool { return true }

func (b *kafkaBroadcaster) Send(ctx context.Context, env event.Envelope) error {
	return b.SendAll(ctx, []event.Envelope{env})
}

// SendAll produces every envelope and waits for all delivery reports.
func (b *kafkaBroadcaster) SendAll(ctx context.Context, envs []event.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.conf.DeliveryTimeout)
	defer cancel()

	deliveryChan := make(chan kafka.Event, len(envs))
	spans := make(map[string]trace.Span, len(envs))
	defer func() {
		for _, span := range spans {
			span.End()
		}
	}()

	var errs []error
	for _, env := range envs {
		msg, span, err := b.newMessage(env)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := b.producer.Produce(msg, deliveryChan); err != nil {
			span.RecordError(err)
			span.End()
			errs = append(errs, fmt.Errorf("failed to produce event %s: %w", env.Event.EventID, err))
			continue
		}
		spans[env.Event.EventID.String()] = span
	}

	for pending := len(spans); pending > 0; pending-- {
		select {
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for %d delivery reports: %w", pending, ctx.Err()))
			return errors.Join(errs...)
		case ev := <-deliveryChan:
			if err := b.confirm(ev, spans); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (b *kafkaBroadcaster) newMessage(env event.Envelope) (*kafka.Message, trace.Span, error) {
	payload, err := event.Encode(env)
	if err != nil {
		return nil, nil, err
	}

	topic := b.topic(env.Event.Category())
	id := env.Event.EventID.String()

	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.MapCarrier(env.TraceContext))
	ctx, span := b.tracer.Start(ctx, "eventbus.broadcast",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", topic),
			attribute.String("messaging.message.id", id),
			attribute.String("eventbus.event_type", env.EventType()),
		),
	)

	carrier := propagation.MapCarrier(maps.Clone(env.TraceContext))
	if carrier == nil {
		carrier = propagation.MapCarrier{}
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]kafka.Header, 0, len(carrier)+1)
	headers = append(headers, kafka.Header{Key: headerContentType, Value: []byte(event.ContentType)})
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(env.Event.AggregateID),
		Value:          payload,
		Headers:        headers,
		Opaque:         id,
	}, span, nil
}

func (b *kafkaBroadcaster) confirm(ev kafka.Event, spans map[string]trace.Span) error {
	msg, ok := ev.(*kafka.Message)
	if !ok {
		return fmt.Errorf("unexpected delivery event %T", ev)
	}
	id, _ := msg.Opaque.(string)
	span := spans[id]
	delete(spans, id)
	if span != nil {
		defer span.End()
	}

	if msg.TopicPartition.Error != nil {
		if span != nil {
			span.RecordError(msg.TopicPartition.Error)
		}
		return fmt.Errorf("delivery of event %s failed: %w", id, msg.TopicPartition.Error)
	}
	return nil
}

// Subscribe starts a consumer in this node's group and streams decoded
// envelopes until ctx is done. A message's offset is stored for commit only
// once its delivery and every earlier one on the partition are settled.
func (b *kafkaBroadcaster) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	consumer, err := b.newConsumer(b.groupID)
	if err != nil {
		return nil, err
	}
	if err := consumer.SubscribeTopics(b.topics(), nil); err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	offsets := newOffsetTracker(consumer.StoreOffsets, func(err error) {
		b.throttler.Warn("store-offset", "failed to store offset", zap.Error(err))
	})
	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer func() {
			offsets.close()
			if err := consumer.Close(); err != nil {
				b.log.Error("failed to close kafka consumer", zap.Error(err))
			}
		}()
		b.read(ctx, consumer, offsets, out)
	}()

	b.log.Info("subscribed to broadcast topics", zap.String("groupId", b.groupID), zap.Strings("topics", b.topics()))
	return out, nil
}

func (b *kafkaBroadcaster) read(ctx context.Context, consumer kafkaConsumer, offsets *offsetTracker, out chan<- Delivery) {
	for ctx.Err() == nil {
		msg, err := consumer.ReadMessage(b.conf.PollTimeout)
		if err != nil {
			b.handleReadError(ctx, err)
			continue
		}

		settle := offsets.track(msg.TopicPartition)
		env, err := event.Decode(msg.Value)
		if err != nil {
			b.throttler.Warn("decode", "skipping undecodable broadcast message",
				zap.Stringp("topic", msg.TopicPartition.Topic),
				zap.Error(err))
			settle()
			continue
		}
		if tc := traceHeaders(msg.Headers); len(tc) > 0 {
			env.TraceContext = tc
		}

		select {
		case out <- NewDelivery(env, settle):
		case <-ctx.Done():
			return
		}
	}
}

func (b *kafkaBroadcaster) handleReadError(ctx context.Context, err error) {
	var kafkaErr kafka.Error
	if !errors.As(err, &kafkaErr) {
		b.throttler.Warn("read", "failed to read message", zap.Error(err))
		sleep(ctx, time.Second)
		return
	}

	switch {
	case kafkaErr.IsTimeout():
	case kafkaErr.Code() == kafka.ErrUnknownTopicOrPart:
		b.throttler.Warn("topic", "topic not available, waiting for topic creation", zap.Error(err))
		sleep(ctx, 10*time.Second)
	case kafkaErr.Code() == kafka.ErrTransport,
		kafkaErr.Code() == kafka.ErrAllBrokersDown,
		kafkaErr.Code() == kafka.ErrNetworkException:
		b.throttler.Warn("broker", "broker connection issue, retrying", zap.Error(err))
		sleep(ctx, 5*time.Second)
	case kafkaErr.Code() == kafka.ErrLeaderNotAvailable,
		kafkaErr.Code() == kafka.ErrNotLeaderForPartition:
		b.log.Debug("partition leader changing, retrying", zap.Error(err))
		sleep(ctx, 2*time.Second)
	default:
		b.throttler.Warn("read", "failed to read message", zap.Error(err))
	}
}

// traceHeaders returns the W3C headers of a message.
func traceHeaders(headers []kafka.Header) map[string]string {
	fields := otel.GetTextMapPropagator().Fields()
	out := make(map[string]string)
	for _, h := range headers {
		if lo.Contains(fields, h.Key) {
			out[h.Key] = string(h.Value)
		}
	}
	return out
}

// waitForBrokers polls metadata until a broker answers or ctx is done.
func waitForBrokers(ctx context.Context, p kafkaProducer, timeout time.Duration, log *zap.Logger) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	log.Info("waiting for kafka brokers", zap.Duration("timeout", timeout))
	for {
		if meta, err := p.GetMetadata(nil, false, 5000); err == nil && len(meta.Brokers) > 0 {
			log.Info("kafka brokers available", zap.Int("brokers", len(meta.Brokers)))
			return nil
		}
		if !sleep(ctx, 500*time.Millisecond) {
			return fmt.Errorf("kafka brokers not available: %w", ctx.Err())
		}
	}
}

func (b *kafkaBroadcaster) close() {
	if remaining := b.producer.Flush(int(b.conf.DeliveryTimeout.Milliseconds())); remaining > 0 {
		b.log.Warn("kafka producer closed with undelivered messages", zap.Int("remaining", remaining))
	}
	b.producer.Close()
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
