package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxAmountIntegerDigits — цифр в целой части суммы.
	MaxAmountIntegerDigits = 20
	// MaxAmountScale — цифр после запятой.
	MaxAmountScale = 18
)

// AmountInRange сообщает, помещается ли сумма в NUMERIC(38,18).
// Проверка идёт по коэффициенту и экспоненте, без построения строки:
// 1e2000000000 отклоняется без аллокации всех цифр.
func AmountInRange(amount decimal.Decimal) bool {
	if amount.IsZero() {
		return true
	}
	exp := int64(amount.Exponent())
	if exp < -MaxAmountScale {
		return false
	}
	return int64(amount.NumDigits())+exp <= MaxAmountIntegerDigits
}

// OrderRecord — декодированное событие покупки.
type OrderRecord struct {
	Item   string
	Amount decimal.Decimal
}

// Validate проверяет инварианты записи перед сохранением.
func (r OrderRecord) Validate() error {
	if strings.TrimSpace(r.Item) == "" {
		return fmt.Errorf("%w: item is required", ErrInvalidOrder)
	}
	if r.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must be non-negative", ErrInvalidOrder)
	}
	if !AmountInRange(r.Amount) {
		return fmt.Errorf("%w: amount is out of range", ErrInvalidOrder)
	}
	return nil
}

// Equal сравнивает содержимое записей без учёта масштаба суммы (9.9 == 9.90).
func (r OrderRecord) Equal(other OrderRecord) bool {
	return r.Item == other.Item && r.Amount.Equal(other.Amount)
}

// PersistedOrder — заказ, сохранённый в хранилище.
type PersistedOrder struct {
	ID             int64
	IdempotencyKey IdempotencyKey
	Item           string
	Amount         decimal.Decimal
	Source         SourceCoordinates
	CreatedAt      time.Time
	// Created равен false, если запись уже существовала (повторная доставка).
	Created bool
}

// Record возвращает содержимое заказа без служебных полей.
func (o PersistedOrder) Record() OrderRecord {
	return OrderRecord{Item: o.Item, Amount: o.Amount}
}
