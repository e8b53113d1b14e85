// Command orders-admin — служебные операции order-consumer: миграции,
// просмотр позиций, повторная отправка dead letters и тестовые заказы.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/order-consumer/internal/version"
)

const defaultTimeout = 30 * time.Second

// rootOptions — общие флаги всех подкоманд.
type rootOptions struct {
	dsn      string
	brokers  []string
	timeout  time.Duration
	logLevel string
}

// postgresDSN возвращает DSN из флага или ORDERS_POSTGRES_DSN.
func (o *rootOptions) postgresDSN() (string, error) {
	dsn := strings.TrimSpace(o.dsn)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("ORDERS_POSTGRES_DSN"))
	}
	if dsn == "" {
		return "", errors.New("ORDERS_POSTGRES_DSN (or --dsn) is required")
	}
	return dsn, nil
}

// kafkaBrokers возвращает брокеры из флага или KAFKA_BROKERS.
func (o *rootOptions) kafkaBrokers() ([]string, error) {
	brokers := parseBrokers(strings.Join(o.brokers, ","))
	if len(brokers) == 0 {
		brokers = parseBrokers(os.Getenv("KAFKA_BROKERS"))
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required (--brokers or KAFKA_BROKERS)")
	}
	return brokers, nil
}

func (o *rootOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, o.timeout)
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "orders-admin",
		Short:         "Administrative tooling for order-consumer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := log.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("parse log level: %w", err)
			}
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
			log.SetOutput(cmd.ErrOrStderr())
			log.SetLevel(level)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: ORDERS_POSTGRES_DSN)")
	flags.StringSliceVar(&opts.brokers, "brokers", nil, "Kafka brokers (fallback: KAFKA_BROKERS)")
	flags.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall command timeout")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newPositionsCmd(opts))
	cmd.AddCommand(newDLQCmd(opts))
	cmd.AddCommand(newProduceCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
