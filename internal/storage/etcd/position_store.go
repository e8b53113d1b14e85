// Package etcd хранит позиции потребления в etcd.
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

// DefaultPrefix — префикс ключей позиций по умолчанию.
const DefaultPrefix = "/order-consumer/positions"

const (
	defaultTimeout = 5 * time.Second
	maxCASAttempts = 5
	dialTimeout    = 5 * time.Second
)

type positionValue struct {
	NextOffset int64     `json:"next_offset"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PositionStore реализует domain.PositionStore поверх etcd.
// Монотонность обеспечивается compare-and-swap по ModRevision.
type PositionStore struct {
	kv      clientv3.KV
	prefix  string
	timeout time.Duration
}

// NewClient подключается к кластеру etcd.
func NewClient(endpoints []string) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return client, nil
}

// NewPositionStore создаёт хранилище позиций с заданным префиксом ключей.
func NewPositionStore(kv clientv3.KV, prefix string) *PositionStore {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &PositionStore{kv: kv, prefix: prefix, timeout: defaultTimeout}
}

func (s *PositionStore) key(tp domain.TopicPartition) string {
	return s.prefix + "/" + tp.Topic + "/" + strconv.FormatInt(int64(tp.Partition), 10)
}

func (s *PositionStore) Load(ctx context.Context, tp domain.TopicPartition) (domain.ConsumptionPosition, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.kv.Get(ctx, s.key(tp))
	if err != nil {
		return domain.ConsumptionPosition{}, fmt.Errorf("%w: etcd get: %w", domain.ErrStoreUnavailable, err)
	}
	if len(resp.Kvs) == 0 {
		return domain.ConsumptionPosition{}, domain.ErrPositionNotFound
	}
	return decodePosition(tp, resp.Kvs[0].Value)
}

func (s *PositionStore) Save(ctx context.Context, position domain.ConsumptionPosition) (domain.ConsumptionPosition, error) {
	if position.UpdatedAt.IsZero() {
		position.UpdatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tp := position.TopicPartition()
	key := s.key(tp)
	value, err := encodePosition(position)
	if err != nil {
		return domain.ConsumptionPosition{}, err
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		resp, err := s.kv.Get(ctx, key)
		if err != nil {
			return domain.ConsumptionPosition{}, fmt.Errorf("%w: etcd get: %w", domain.ErrStoreUnavailable, err)
		}

		cmp := clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
		if len(resp.Kvs) > 0 {
			current, err := decodePosition(tp, resp.Kvs[0].Value)
			if err != nil {
				return domain.ConsumptionPosition{}, err
			}
			if current.NextOffset > position.NextOffset {
				return current, nil
			}
			cmp = clientv3.Compare(clientv3.ModRevision(key), "=", resp.Kvs[0].ModRevision)
		}

		txn, err := s.kv.Txn(ctx).If(cmp).Then(clientv3.OpPut(key, value)).Commit()
		if err != nil {
			return domain.ConsumptionPosition{}, fmt.Errorf("%w: etcd txn: %w", domain.ErrStoreUnavailable, err)
		}
		if txn.Succeeded {
			return position, nil
		}
	}

	return domain.ConsumptionPosition{}, fmt.Errorf("%w: etcd position %s changed concurrently", domain.ErrStoreUnavailable, tp)
}

func (s *PositionStore) List(ctx context.Context) ([]domain.ConsumptionPosition, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.kv.Get(ctx, s.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("%w: etcd list: %w", domain.ErrStoreUnavailable, err)
	}

	positions := make([]domain.ConsumptionPosition, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		tp, err := s.parseKey(string(kv.Key))
		if err != nil {
			return nil, err
		}
		position, err := decodePosition(tp, kv.Value)
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Topic != positions[j].Topic {
			return positions[i].Topic < positions[j].Topic
		}
		return positions[i].Partition < positions[j].Partition
	})
	return positions, nil
}

func (s *PositionStore) parseKey(key string) (domain.TopicPartition, error) {
	rest := strings.TrimPrefix(key, s.prefix+"/")
	idx := strings.LastIndex(rest, "/")
	if idx <= 0 {
		return domain.TopicPartition{}, fmt.Errorf("unexpected etcd position key %q", key)
	}
	partition, err := strconv.ParseInt(rest[idx+1:], 10, 32)
	if err != nil {
		return domain.TopicPartition{}, fmt.Errorf("unexpected etcd position key %q: %w", key, err)
	}
	return domain.TopicPartition{Topic: rest[:idx], Partition: int32(partition)}, nil
}

func encodePosition(position domain.ConsumptionPosition) (string, error) {
	if position.NextOffset < 0 {
		return "", errors.New("next offset must be non-negative")
	}
	data, err := json.Marshal(positionValue{NextOffset: position.NextOffset, UpdatedAt: position.UpdatedAt.UTC()})
	if err != nil {
		return "", fmt.Errorf("encode position: %w", err)
	}
	return string(data), nil
}

func decodePosition(tp domain.TopicPartition, raw []byte) (domain.ConsumptionPosition, error) {
	var value positionValue
	if err := json.Unmarshal(raw, &value); err != nil {
		return domain.ConsumptionPosition{}, fmt.Errorf("decode etcd position %s: %w", tp, err)
	}
	return domain.ConsumptionPosition{
		Topic:      tp.Topic,
		Partition:  tp.Partition,
		NextOffset: value.NextOffset,
		UpdatedAt:  value.UpdatedAt,
	}, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
