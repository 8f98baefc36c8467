// Package events publishes transcript events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/sjawhar/meetscribe/internal/config"
	"github.com/sjawhar/meetscribe/internal/metrics"
)

// PartialEvent is published for every partial transcript a session emits.
type PartialEvent struct {
	SessionID   string    `json:"sessionId"`
	Owner       string    `json:"owner"`
	ChunkNumber int       `json:"chunkNumber"`
	Text        string    `json:"text"`
	Timestamp   int64     `json:"timestamp"`
	Confidence  float64   `json:"confidence"`
	EmittedAt   time.Time `json:"emittedAt"`
}

// FinalEvent is published once per finalized session.
type FinalEvent struct {
	SessionID       string    `json:"sessionId"`
	Owner           string    `json:"owner"`
	Mode            string    `json:"mode"`
	Status          string    `json:"status"`
	Transcript      string    `json:"transcript"`
	Summary         string    `json:"summary"`
	DurationSeconds float64   `json:"durationSeconds"`
	ChunkCount      int       `json:"chunkCount"`
	EmittedAt       time.Time `json:"emittedAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes partial and final events to separate Kafka topics. With
// no brokers configured it only logs.
type Publisher struct {
	writerPartial messageWriter
	writerFinal   messageWriter
	principal     string
	topicPartial  string
	topicFinal    string
	enabled       bool
	metrics       *metrics.Metrics
}

func New(cfg config.Kafka, m *metrics.Metrics) *Publisher {
	if len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:    cfg.Principal,
			topicPartial: cfg.TopicPartial,
			topicFinal:   cfg.TopicFinal,
			metrics:      m,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerPartial: newWriter(cfg.TopicPartial),
		writerFinal:   newWriter(cfg.TopicFinal),
		principal:     cfg.Principal,
		topicPartial:  cfg.TopicPartial,
		topicFinal:    cfg.TopicFinal,
		enabled:       true,
		metrics:       m,
	}
}

func (p *Publisher) Enabled() bool {
	return p != nil && p.enabled
}

// PublishPartial keys the message by session so one session's partials land
// on one partition in order.
func (p *Publisher) PublishPartial(ctx context.Context, event PartialEvent) error {
	return p.publish(ctx, p.writerPartial, p.topicPartial, "partial", event.SessionID, event)
}

func (p *Publisher) PublishFinal(ctx context.Context, event FinalEvent) error {
	return p.publish(ctx, p.writerFinal, p.topicFinal, "final", event.SessionID, event)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

func (p *Publisher) Close() error {
	var err error
	if p.writerPartial != nil {
		if e := p.writerPartial.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing partial writer")
			err = e
		}
	}
	if p.writerFinal != nil {
		if e := p.writerFinal.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing final writer")
			err = e
		}
	}
	return err
}
