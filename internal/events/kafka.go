// Пакет events — публикация событий аудита во внешнюю шину (Kafka).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

// AuditMessage — формат события аудита в топике.
type AuditMessage struct {
	ID         int64          `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	TargetType string         `json:"targetType"`
	TargetID   string         `json:"targetId"`
	Success    bool           `json:"success"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// KafkaPublisher — публикация событий аудита в топик Kafka.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher создаёт продюсера. Топик создаётся автоматически,
// запись подтверждается всеми репликами.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		AllowAutoTopicCreation: true,
		Balancer:               &kafka.Hash{},
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            5,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
	}

	logger.Info("Kafka producer создан",
		slog.Any("brokers", brokers),
		slog.String("topic", topic),
	)

	return &KafkaPublisher{
		writer: writer,
		topic:  topic,
		logger: logger.With(slog.String("component", "kafka_publisher")),
	}
}

// Publish отправляет пачку событий одним вызовом.
// Ключ сообщения — ID цели: события одной сущности попадают в одну партицию.
func (p *KafkaPublisher) Publish(ctx context.Context, batch []*model.AuditEvent) error {
	if len(batch) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(batch))
	for _, e := range batch {
		msg, err := toMessage(p.topic, e)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("ошибка публикации %d событий в %s: %w", len(msgs), p.topic, err)
	}

	p.logger.Debug("События аудита опубликованы",
		slog.Int("count", len(msgs)),
	)
	return nil
}

// Close закрывает продюсера.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func toMessage(topic string, e *model.AuditEvent) (kafka.Message, error) {
	data, err := json.Marshal(AuditMessage{
		ID:         e.ID,
		Actor:      e.Actor,
		Action:     e.Action,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Success:    e.Success,
		Metadata:   e.Metadata,
		CreatedAt:  e.CreatedAt,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("ошибка сериализации события %d: %w", e.ID, err)
	}

	return kafka.Message{
		Topic: topic,
		Key:   []byte(e.TargetID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(strconv.FormatInt(e.ID, 10))},
			{Key: "action", Value: []byte(e.Action)},
		},
		Time: e.CreatedAt,
	}, nil
}
