package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// InsertIfAbsent вставляет заказ за один round trip. Если ключ уже занят,
	// возвращает существующую запись с Created=false.
	InsertIfAbsent(ctx context.Context, key IdempotencyKey, record OrderRecord, source SourceCoordinates) (PersistedOrder, error)
	// FindByID возвращает заказ по суррогатному ключу или ErrOrderNotFound.
	FindByID(ctx context.Context, id int64) (PersistedOrder, error)
	// FindByIdempotencyKey возвращает заказ по ключу идемпотентности или ErrOrderNotFound.
	FindByIdempotencyKey(ctx context.Context, key IdempotencyKey) (PersistedOrder, error)
}
