// internal/services/event_publisher.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/printshop/storefront-backend/internal/config"
	"github.com/printshop/storefront-backend/internal/models"
)

type OrderCreatedEvent struct {
	EventType  string            `json:"event_type"`
	OrderID    string            `json:"order_id"`
	PaymentID  string            `json:"payment_id"`
	ArtistIDs  []string          `json:"artist_ids"`
	Total      float64           `json:"total"`
	Currency   string            `json:"currency"`
	Products   []models.LineItem `json:"products"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher emits order events to Kafka, keyed by order id.
type EventPublisher struct {
	writer messageWriter
}

// NewEventPublisher returns nil when no brokers are configured; callers treat
// a nil publisher as disabled.
func NewEventPublisher(cfg config.KafkaConfig) *EventPublisher {
	if len(cfg.Brokers) == 0 {
		return nil
	}
	return &EventPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.OrderEventsTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *EventPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	if p == nil {
		return nil
	}

	artists := make([]string, 0, len(order.Status))
	for artistID := range order.Status {
		artists = append(artists, artistID)
	}
	sort.Strings(artists)

	payload, err := json.Marshal(OrderCreatedEvent{
		EventType:  "order.created",
		OrderID:    order.ID,
		PaymentID:  order.PaymentID,
		ArtistIDs:  artists,
		Total:      order.Total,
		Currency:   order.Currency,
		Products:   order.Products,
		OccurredAt: order.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode order event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(order.ID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("failed to publish order event: %w", err)
	}
	return nil
}

func (p *EventPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
