package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Notifier publishes operator notifications. The callers treat it as
// fire-and-forget: a delivery failure is theirs to log, never to propagate.
type Notifier struct {
	Writer *kafka.Writer
}

type notificationEvent struct {
	Type    string    `json:"type"`
	Email   string    `json:"email"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func NewNotifier(address, topic string) *Notifier {
	return &Notifier{
		Writer: &kafka.Writer{
			Addr:                   kafka.TCP(address),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

func (n *Notifier) Notify(ctx context.Context, operatorEmail, message string) error {
	data, err := json.Marshal(notificationEvent{
		Type:    "operator_notification",
		Email:   operatorEmail,
		Message: message,
		At:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := n.Writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(operatorEmail),
		Value: data,
	}); err != nil {
		return fmt.Errorf("kafka: write failed: %w", err)
	}
	return nil
}

func (n *Notifier) Close() error {
	return n.Writer.Close()
}
