package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
	"github.com/vladislavdragonenkov/order-consumer/internal/messaging/kafka"
)

// orderPublisher — отправка событий в Kafka; реализуется kafka.Producer.
type orderPublisher interface {
	PublishEvent(topic string, key string, event interface{}) error
	Close() error
}

var newOrderPublisher = func(brokers []string) (orderPublisher, error) {
	return kafka.NewProducer(brokers)
}

type produceOptions struct {
	topic  string
	count  int
	item   string
	amount string
	key    string
}

func newProduceCmd(root *rootOptions) *cobra.Command {
	opts := produceOptions{}

	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Publish sample order payloads for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			brokers, err := root.kafkaBrokers()
			if err != nil {
				return err
			}
			payloads, err := samplePayloads(opts)
			if err != nil {
				return err
			}

			publisher, err := newOrderPublisher(brokers)
			if err != nil {
				return err
			}
			defer func() { _ = publisher.Close() }()

			for i, payload := range payloads {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				if err := publisher.PublishEvent(opts.topic, opts.key, payload); err != nil {
					return fmt.Errorf("publish order %d: %w", i+1, err)
				}
			}

			log.WithFields(log.Fields{
				"topic": opts.topic,
				"count": len(payloads),
			}).Info("sample orders published")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %d orders to %s\n", len(payloads), opts.topic)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.topic, "topic", kafka.TopicOrders, "target topic")
	flags.IntVar(&opts.count, "count", 1, "number of orders to publish")
	flags.StringVar(&opts.item, "item", "", "item name (default: item-N)")
	flags.StringVar(&opts.amount, "amount", "9.99", "order amount")
	flags.StringVar(&opts.key, "key", "", "message key (empty: partitioner decides)")
	return cmd
}

func samplePayloads(opts produceOptions) ([]kafka.OrderPayload, error) {
	if opts.count <= 0 {
		return nil, fmt.Errorf("count must be > 0")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(opts.amount))
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative")
	}
	if !domain.AmountInRange(amount) {
		return nil, fmt.Errorf("amount %s exceeds %d integer or %d fraction digits", opts.amount, domain.MaxAmountIntegerDigits, domain.MaxAmountScale)
	}

	payloads := make([]kafka.OrderPayload, 0, opts.count)
	for i := 1; i <= opts.count; i++ {
		item := strings.TrimSpace(opts.item)
		if item == "" {
			item = "item-" + strconv.Itoa(i)
		}
		payloads = append(payloads, kafka.OrderPayload{Item: item, Amount: amount})
	}
	return payloads, nil
}
