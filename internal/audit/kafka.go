package audit

import (
	"context"
	"encoding/json"
	"time"

	"social-login-service/internal/auth/flow"
	"social-login-service/internal/logger"

	"github.com/segmentio/kafka-go"
)

const writeTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the record written to the audit topic.
type Envelope struct {
	Kind  flow.Kind  `json:"kind"`
	Event flow.Event `json:"event"`
}

// KafkaSink forwards flow events to a Kafka topic.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink returns nil when brokers or topic are not configured; a nil
// sink discards events.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("audit: kafka write failed", map[string]any{
					"topic":    topic,
					"messages": len(msgs),
					"error":    err.Error(),
				})
			}
		},
	}
	return &KafkaSink{writer: writer, topic: topic}
}

// Handle matches flow.Handler.
func (s *KafkaSink) Handle(ctx context.Context, e flow.Event) {
	if s == nil || s.writer == nil || e == nil {
		return
	}

	payload, err := json.Marshal(Envelope{Kind: e.Kind(), Event: e})
	if err != nil {
		logger.Error("audit: marshal event failed", map[string]any{
			"kind":  e.Kind(),
			"error": err.Error(),
		})
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	err = s.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(providerOf(e)),
		Value: payload,
	})
	if err != nil {
		logger.Warn("audit: kafka emit failed", map[string]any{
			"topic": s.topic,
			"kind":  e.Kind(),
			"error": err.Error(),
		})
	}
}

// Close flushes and closes the writer. Safe on a nil sink.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

func providerOf(e flow.Event) string {
	switch ev := e.(type) {
	case flow.LinkBuilt:
		return ev.Provider
	case flow.LoginFailed:
		return ev.Provider
	case flow.LoginSucceeded:
		return ev.Provider
	}
	return ""
}
