package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
	"github.com/vladislavdragonenkov/order-consumer/internal/storage/etcd"
	"github.com/vladislavdragonenkov/order-consumer/internal/storage/postgres"
)

type positionsOptions struct {
	backend       string
	etcdEndpoints []string
	etcdPrefix    string
	topic         string
	asJSON        bool
}

// positionLister — часть domain.PositionStore, нужная для просмотра.
type positionLister interface {
	List(ctx context.Context) ([]domain.ConsumptionPosition, error)
}

var openPositionLister = func(ctx context.Context, root *rootOptions, opts positionsOptions) (positionLister, func() error, error) {
	switch opts.backend {
	case "postgres":
		dsn, err := root.postgresDSN()
		if err != nil {
			return nil, nil, err
		}
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return postgres.NewPositionStore(store), store.Close, nil
	case "etcd":
		if len(opts.etcdEndpoints) == 0 {
			return nil, nil, fmt.Errorf("--etcd-endpoints is required for etcd backend")
		}
		client, err := etcd.NewClient(opts.etcdEndpoints)
		if err != nil {
			return nil, nil, err
		}
		return etcd.NewPositionStore(client, opts.etcdPrefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported backend %q (use postgres|etcd)", opts.backend)
	}
}

func newPositionsCmd(root *rootOptions) *cobra.Command {
	opts := positionsOptions{}

	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Inspect stored consumption positions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print stored positions per topic partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := root.context(cmd)
			defer cancel()

			lister, closeFn, err := openPositionLister(ctx, root, opts)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			positions, err := lister.List(ctx)
			if err != nil {
				return fmt.Errorf("list positions: %w", err)
			}
			positions = filterPositions(positions, opts.topic)

			if opts.asJSON {
				return writePositionsJSON(cmd.OutOrStdout(), positions)
			}
			return writePositionsTable(cmd.OutOrStdout(), positions)
		},
	}
	list.Flags().StringVar(&opts.backend, "backend", "postgres", "position store backend: postgres|etcd")
	list.Flags().StringSliceVar(&opts.etcdEndpoints, "etcd-endpoints", nil, "etcd endpoints")
	list.Flags().StringVar(&opts.etcdPrefix, "etcd-prefix", etcd.DefaultPrefix, "etcd key prefix")
	list.Flags().StringVar(&opts.topic, "topic", "", "show only this topic")
	list.Flags().BoolVar(&opts.asJSON, "json", false, "print JSON")

	cmd.AddCommand(list)
	return cmd
}

func filterPositions(positions []domain.ConsumptionPosition, topic string) []domain.ConsumptionPosition {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return positions
	}
	filtered := make([]domain.ConsumptionPosition, 0, len(positions))
	for _, p := range positions {
		if p.Topic == topic {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

type positionView struct {
	Topic      string    `json:"topic"`
	Partition  int32     `json:"partition"`
	NextOffset int64     `json:"next_offset"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func writePositionsJSON(out io.Writer, positions []domain.ConsumptionPosition) error {
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, positionView{
			Topic:      p.Topic,
			Partition:  p.Partition,
			NextOffset: p.NextOffset,
			UpdatedAt:  p.UpdatedAt.UTC(),
		})
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

func writePositionsTable(out io.Writer, positions []domain.ConsumptionPosition) error {
	if len(positions) == 0 {
		_, err := fmt.Fprintln(out, "no stored positions")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TOPIC\tPARTITION\tNEXT_OFFSET\tUPDATED_AT")
	for _, p := range positions {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", p.Topic, p.Partition, p.NextOffset, p.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}
