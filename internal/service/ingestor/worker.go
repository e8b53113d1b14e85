package ingestor

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

var errBatchAbandoned = errors.New("batch abandoned after shutdown grace period")

type decodedRecord struct {
	raw    domain.RawRecord
	record domain.OrderRecord
}

// partitionWorker обрабатывает одну партицию строго последовательно.
type partitionWorker struct {
	ingestor *Ingestor
	source   PartitionSource
	tp       domain.TopicPartition
	logger   *log.Entry

	// next — первый необработанный offset; -1, пока позиция неизвестна.
	next int64
}

func (w *partitionWorker) setState(state domain.PartitionState) {
	w.ingestor.registry.set(w.tp, state)
}

func (w *partitionWorker) run(ctx context.Context) error {
	w.setState(domain.PartitionStateIdle)

	position, found, err := w.ingestor.committer.Load(ctx, w.tp)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return w.fail(fmt.Errorf("load position: %w", err))
	}
	if found {
		w.next = position.NextOffset
		w.logger.WithField("next_offset", w.next).Info("Resuming partition from stored position")
	} else {
		w.logger.Info("No stored position, starting from broker offset")
	}

	for {
		if ctx.Err() != nil {
			w.logger.Info("Partition worker stopped")
			return nil
		}

		w.setState(domain.PartitionStateFetching)
		records, err := w.source.Fetch(ctx, w.ingestor.cfg.MaxBatchSize, w.ingestor.cfg.IdleWait)
		if err != nil {
			if errors.Is(err, ErrSourceClosed) || ctx.Err() != nil {
				w.logger.Info("Partition source closed")
				return nil
			}
			return w.fail(fmt.Errorf("fetch: %w", err))
		}
		if len(records) == 0 {
			continue
		}
		w.ingestor.metrics.RecordFetched(w.tp.Topic, len(records))

		if err := w.processBatch(ctx, records); err != nil {
			if errors.Is(err, errBatchAbandoned) {
				w.logger.WithError(err).Warn("In-flight batch not committed, records will be redelivered")
				return nil
			}
			return w.fail(err)
		}
	}
}

// processBatch доводит пачку до коммита. После отмены ctx пачка
// дорабатывается в отвязанном контексте не дольше ShutdownGrace.
func (w *partitionWorker) processBatch(parent context.Context, records []domain.RawRecord) error {
	started := time.Now()
	defer func() { w.ingestor.metrics.RecordBatchDuration(time.Since(started)) }()

	ctx, release := w.batchContext(parent)
	defer release()

	pending := w.skipHandled(records)
	if len(pending) == 0 {
		w.source.Acknowledge(w.next)
		return nil
	}

	w.setState(domain.PartitionStateDecoding)
	decoded := make([]decodedRecord, 0, len(pending))
	for _, raw := range pending {
		record, err := w.ingestor.decoder.Decode(raw.Payload)
		if err != nil {
			if err := w.deadLetter(ctx, raw, err); err != nil {
				return err
			}
			continue
		}
		decoded = append(decoded, decodedRecord{raw: raw, record: record})
	}

	w.setState(domain.PartitionStatePersisting)
	for _, item := range decoded {
		if err := w.persist(ctx, item); err != nil {
			return err
		}
	}

	w.setState(domain.PartitionStateCommitting)
	last := pending[len(pending)-1].Offset
	position, err := w.ingestor.committer.Commit(ctx, w.tp, last+1)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", errBatchAbandoned, err)
		}
		return err
	}

	w.next = position.NextOffset
	w.source.Acknowledge(position.NextOffset)
	w.ingestor.metrics.RecordCommitted(w.tp.Topic, w.tp.Partition, position.NextOffset)

	w.logger.WithFields(log.Fields{
		"records":     len(pending),
		"persisted":   len(decoded),
		"next_offset": position.NextOffset,
	}).Debug("Batch committed")

	return nil
}

func (w *partitionWorker) skipHandled(records []domain.RawRecord) []domain.RawRecord {
	if w.next < 0 {
		return records
	}

	pending := records[:0:0]
	for _, record := range records {
		if record.Offset < w.next {
			w.logger.WithField("offset", record.Offset).Debug("Skipping already handled record")
			continue
		}
		pending = append(pending, record)
	}
	return pending
}

func (w *partitionWorker) persist(ctx context.Context, item decodedRecord) error {
	key := domain.NewIdempotencyKey(item.raw.Source())

	var order domain.PersistedOrder
	_, err := w.ingestor.persistRetry.Do(ctx, "persist "+key.String(), func(ctx context.Context) error {
		persisted, err := w.ingestor.persister.Persist(ctx, item.record, key)
		if err != nil {
			return err
		}
		order = persisted
		return nil
	})

	switch {
	case err == nil:
		w.ingestor.metrics.RecordPersisted(order.Created)
		if !order.Created {
			w.logger.WithFields(log.Fields{
				"offset":   item.raw.Offset,
				"order_id": order.ID,
			}).Debug("Duplicate delivery, order already stored")
		}
		return nil
	case domain.IsDeadLetterable(err):
		return w.deadLetter(ctx, item.raw, err)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", errBatchAbandoned, err)
	default:
		return fmt.Errorf("persist offset %d: %w", item.raw.Offset, err)
	}
}

func (w *partitionWorker) deadLetter(ctx context.Context, raw domain.RawRecord, cause error) error {
	letter := domain.NewDeadLetter(raw, cause)

	_, err := w.ingestor.deadLetterRetry.Do(ctx, "dead-letter", func(ctx context.Context) error {
		return w.ingestor.sink.Send(ctx, letter)
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", errBatchAbandoned, err)
		}
		return fmt.Errorf("dead-letter offset %d: %w", raw.Offset, err)
	}

	w.ingestor.metrics.RecordDeadLettered(domain.DeadLetterReason(cause))

	w.logger.WithFields(log.Fields{
		"offset":      raw.Offset,
		"dead_letter": letter.ID.String(),
		"reason":      letter.Reason,
	}).Warn("Record routed to dead-letter sink")

	return nil
}

func (w *partitionWorker) fail(err error) error {
	w.ingestor.registry.markFailed(w.tp, err)
	w.logger.WithError(err).Error("Partition failed, stopping consumption until restart")
	return fmt.Errorf("%w: %s: %w", domain.ErrPartitionFailed, w.tp, err)
}

// batchContext отвязывает обработку пачки от отмены родителя: после
// отмены у пачки есть ShutdownGrace, чтобы дойти до коммита.
func (w *partitionWorker) batchContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	done := make(chan struct{})
	grace := w.ingestor.cfg.ShutdownGrace

	go func() {
		select {
		case <-parent.Done():
			timer := time.NewTimer(grace)
			defer timer.Stop()
			select {
			case <-timer.C:
				cancel()
			case <-done:
			}
		case <-done:
		}
	}()

	return ctx, func() {
		close(done)
		cancel()
	}
}
