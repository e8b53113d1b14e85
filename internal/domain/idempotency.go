package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// SourceCoordinates — координаты исходного сообщения в брокере.
type SourceCoordinates struct {
	Topic     string
	Partition int32
	Offset    int64
}

// IdempotencyKey уникально идентифицирует исходное сообщение: topic/partition/offset.
type IdempotencyKey string

// NewIdempotencyKey строит ключ из координат сообщения.
func NewIdempotencyKey(src SourceCoordinates) IdempotencyKey {
	return IdempotencyKey(src.Topic + "/" + strconv.FormatInt(int64(src.Partition), 10) + "/" + strconv.FormatInt(src.Offset, 10))
}

// String реализует fmt.Stringer.
func (k IdempotencyKey) String() string {
	return string(k)
}

// Coordinates разбирает ключ обратно в координаты.
// Topic может содержать '/', поэтому разбор идёт с конца строки.
func (k IdempotencyKey) Coordinates() (SourceCoordinates, error) {
	raw := string(k)
	lastSlash := strings.LastIndex(raw, "/")
	if lastSlash <= 0 {
		return SourceCoordinates{}, fmt.Errorf("%w: %q", ErrIdempotencyKeyInvalid, raw)
	}
	partSlash := strings.LastIndex(raw[:lastSlash], "/")
	if partSlash <= 0 {
		return SourceCoordinates{}, fmt.Errorf("%w: %q", ErrIdempotencyKeyInvalid, raw)
	}

	partition, err := strconv.ParseInt(raw[partSlash+1:lastSlash], 10, 32)
	if err != nil {
		return SourceCoordinates{}, fmt.Errorf("%w: partition in %q", ErrIdempotencyKeyInvalid, raw)
	}
	offset, err := strconv.ParseInt(raw[lastSlash+1:], 10, 64)
	if err != nil {
		return SourceCoordinates{}, fmt.Errorf("%w: offset in %q", ErrIdempotencyKeyInvalid, raw)
	}

	return SourceCoordinates{
		Topic:     raw[:partSlash],
		Partition: int32(partition),
		Offset:    offset,
	}, nil
}
