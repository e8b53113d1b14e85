// Package decoder превращает сырые payload'ы из брокера в заказы.
package decoder

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

const (
	FieldItem   = "item"
	FieldAmount = "amount"
)

// JSONDecoder разбирает payload вида {"item":"widget","amount":9.99}.
// Amount принимается только как JSON-число; строки ("9.99") отклоняются.
// Отрицательные суммы и суммы вне NUMERIC(38,18) отклоняются.
type JSONDecoder struct{}

// New возвращает декодер заказов.
func New() *JSONDecoder {
	return &JSONDecoder{}
}

type orderPayload struct {
	Item   json.RawMessage `json:"item"`
	Amount json.RawMessage `json:"amount"`
}

// Decode не имеет побочных эффектов и никогда не паникует: любая проблема
// возвращается как *domain.DecodeError.
func (d *JSONDecoder) Decode(payload []byte) (domain.OrderRecord, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return domain.OrderRecord{}, domain.NewDecodeError("", domain.ErrMalformedPayload)
	}

	var raw orderPayload
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return domain.OrderRecord{}, domain.NewDecodeError("", domain.ErrMalformedPayload)
	}

	item, err := decodeItem(raw.Item)
	if err != nil {
		return domain.OrderRecord{}, err
	}
	amount, err := decodeAmount(raw.Amount)
	if err != nil {
		return domain.OrderRecord{}, err
	}

	return domain.OrderRecord{Item: item, Amount: amount}, nil
}

func decodeItem(raw json.RawMessage) (string, error) {
	if isAbsent(raw) {
		return "", domain.NewDecodeError(FieldItem, domain.ErrMissingField)
	}

	var item string
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", domain.NewDecodeError(FieldItem, domain.ErrMalformedPayload)
	}
	if strings.TrimSpace(item) == "" {
		return "", domain.NewDecodeError(FieldItem, domain.ErrBlankItem)
	}
	return item, nil
}

func decodeAmount(raw json.RawMessage) (decimal.Decimal, error) {
	if isAbsent(raw) {
		return decimal.Decimal{}, domain.NewDecodeError(FieldAmount, domain.ErrMissingField)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return decimal.Decimal{}, domain.NewDecodeError(FieldAmount, domain.ErrNonNumericAmount)
	}
	number, ok := value.(json.Number)
	if !ok {
		return decimal.Decimal{}, domain.NewDecodeError(FieldAmount, domain.ErrNonNumericAmount)
	}

	amount, err := decimal.NewFromString(number.String())
	if err != nil {
		return decimal.Decimal{}, domain.NewDecodeError(FieldAmount, domain.ErrNonNumericAmount)
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, domain.NewDecodeError(FieldAmount, domain.ErrNegativeAmount)
	}
	if !domain.AmountInRange(amount) {
		return decimal.Decimal{}, domain.NewDecodeError(FieldAmount, domain.ErrAmountOutOfRange)
	}
	if amount.IsZero() {
		return decimal.Zero, nil
	}
	return amount, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

var _ domain.OrderDecoder = (*JSONDecoder)(nil)
