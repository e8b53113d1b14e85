package kafka

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

// Topics для Kafka
const (
	TopicOrders          = "orders"
	TopicDeadLetterQueue = "orders.dlq" // Dead Letter Queue для необработанных заказов
)

// Kafka headers dead-letter сообщений
const (
	HeaderDeadLetterID   = "x-dead-letter-id"
	HeaderOriginalTopic  = "x-original-topic"
	HeaderOriginalOffset = "x-original-offset"
	HeaderErrorMessage   = "x-error-message"
	HeaderFailedAt       = "x-failed-at"
)

// OrderPayload — формат входящего сообщения о покупке.
type OrderPayload struct {
	Item   string          `json:"item"`
	Amount decimal.Decimal `json:"amount"`
}

// MarshalJSON пишет amount числом, а не строкой.
func (p OrderPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Item   string      `json:"item"`
		Amount json.Number `json:"amount"`
	}{
		Item:   p.Item,
		Amount: json.Number(p.Amount.String()),
	})
}

// DeadLetterEnvelope — JSON-конверт сообщения в DLQ topic.
// Исходные key и value кодируются в base64: payload может быть не UTF-8.
type DeadLetterEnvelope struct {
	ID                string    `json:"id"`
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       []byte    `json:"original_key"`
	OriginalValue     []byte    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	Field             string    `json:"field,omitempty"`
	FailedAt          time.Time `json:"failed_at"`
}

// NewDeadLetterEnvelope строит конверт из dead-letter записи.
func NewDeadLetterEnvelope(letter domain.DeadLetter) DeadLetterEnvelope {
	return DeadLetterEnvelope{
		ID:                letter.ID.String(),
		OriginalTopic:     letter.Source.Topic,
		OriginalPartition: letter.Source.Partition,
		OriginalOffset:    letter.Source.Offset,
		OriginalKey:       letter.Source.Key,
		OriginalValue:     letter.Source.Payload,
		ErrorMessage:      letter.Reason,
		Field:             letter.Field,
		FailedAt:          letter.FailedAt.UTC(),
	}
}

// Headers возвращает служебные заголовки конверта.
func (e DeadLetterEnvelope) Headers() map[string]string {
	return map[string]string{
		HeaderDeadLetterID:   e.ID,
		HeaderOriginalTopic:  e.OriginalTopic,
		HeaderOriginalOffset: strconv.FormatInt(e.OriginalOffset, 10),
		HeaderErrorMessage:   e.ErrorMessage,
		HeaderFailedAt:       e.FailedAt.Format(time.RFC3339),
	}
}
