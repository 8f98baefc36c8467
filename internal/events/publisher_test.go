package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"

	"github.com/sjawhar/meetscribe/internal/config"
	"github.com/sjawhar/meetscribe/internal/metrics"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestNewWithoutBrokersIsLogOnly(t *testing.T) {
	p := New(config.Kafka{TopicPartial: "p", TopicFinal: "f", Principal: "svc"}, nil)

	if p.Enabled() {
		t.Fatal("expected publisher to be disabled")
	}
	if p.writerPartial != nil || p.writerFinal != nil {
		t.Fatal("expected no writers when disabled")
	}
	if p.topicPartial != "p" || p.topicFinal != "f" || p.principal != "svc" {
		t.Fatalf("unexpected config values %+v", p)
	}
	if err := p.PublishPartial(context.Background(), PartialEvent{SessionID: "s1"}); err != nil {
		t.Fatalf("expected no error when disabled, got %v", err)
	}
	if err := p.PublishFinal(context.Background(), FinalEvent{SessionID: "s1"}); err != nil {
		t.Fatalf("expected no error when disabled, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestNewWithBrokersCreatesWriters(t *testing.T) {
	p := New(config.Kafka{Brokers: []string{"localhost:9092"}, TopicPartial: "p", TopicFinal: "f"}, nil)
	t.Cleanup(func() { _ = p.Close() })

	if !p.Enabled() {
		t.Fatal("expected publisher to be enabled")
	}
	w, ok := p.writerPartial.(*kafka.Writer)
	if !ok || w.Topic != "p" {
		t.Fatalf("expected partial writer for topic p, got %#v", p.writerPartial)
	}
}

func TestPublishPartialWritesKeyedMessage(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	partial := &fakeWriter{}
	p := &Publisher{
		writerPartial: partial,
		principal:     "meetscribe",
		topicPartial:  "partials",
		enabled:       true,
		metrics:       m,
	}

	event := PartialEvent{SessionID: "s1", ChunkNumber: 2, Text: "hello"}
	if err := p.PublishPartial(context.Background(), event); err != nil {
		t.Fatalf("PublishPartial failed: %v", err)
	}

	if len(partial.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(partial.msgs))
	}
	msg := partial.msgs[0]
	if string(msg.Key) != "s1" {
		t.Fatalf("expected key s1, got %q", msg.Key)
	}
	var decoded PartialEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.ChunkNumber != 2 || decoded.Text != "hello" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("partials", "partial")); got != 1 {
		t.Fatalf("expected 1 publish, got %v", got)
	}
}

func TestPublishFinalReportsWriterError(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	final := &fakeWriter{err: errors.New("broker down")}
	p := &Publisher{writerFinal: final, topicFinal: "finals", enabled: true, metrics: m}

	if err := p.PublishFinal(context.Background(), FinalEvent{SessionID: "s1"}); err == nil {
		t.Fatal("expected writer error")
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("finals", "final")); got != 1 {
		t.Fatalf("expected 1 publish error, got %v", got)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !final.closed {
		t.Fatal("expected final writer to be closed")
	}
}
