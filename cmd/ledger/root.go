package main

import (
	"context"
	"fmt"
	"os"

	"pocket-ledger/pkg/backend"
	"pocket-ledger/pkg/boxes"
	"pocket-ledger/pkg/config"
	"pocket-ledger/pkg/ledger"
	"pocket-ledger/pkg/logging"
	"pocket-ledger/pkg/metrics"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries what every command shares: the resolved configuration and
// the process logger.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *logging.Logger
}

// session is one opened store with the ledger and the registry over it.
type session struct {
	ledger *ledger.Ledger
	boxes  *boxes.Registry
	store  *backend.Result
}

func (s *session) Close() error {
	return s.store.Cleanup()
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "ledger",
		Short: "Local balance, transaction history and savings boxes",
		Long: `ledger keeps a balance and an append-only transaction history in a
key-value store (sqlite, redis, postgres or memory), together with the list
of savings boxes. Every mutation writes the balance and the history in one
atomic step.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a TOML config file (default $LEDGER_CONFIG)")

	root.AddCommand(
		newServeCmd(a),
		newBalanceCmd(a),
		newDepositCmd(a),
		newTransferCmd(a),
		newReceiveCmd(a),
		newHistoryCmd(a),
		newShowCmd(a),
		newVerifyCmd(a),
		newBoxesCmd(a),
	)
	return root
}

// setup loads .env, the config file and the environment, then installs the
// global logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	// .env is optional
	_ = godotenv.Load()

	path := a.configPath
	if path == "" {
		path = os.Getenv("LEDGER_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logging.SetGlobal(logger)

	a.cfg = cfg
	a.logger = logger
	return nil
}

// open builds the store stack and the services over it.
func (a *app) open(ctx context.Context, collector metrics.MetricsCollector) (*session, error) {
	result, err := backend.NewFactory(a.logger.Named("backend"), collector).Create(ctx, a.cfg)
	if err != nil {
		return nil, err
	}

	l, err := ledger.NewWithConfig(result.Store, ledger.Config{
		Namespace: a.cfg.Namespace,
		Metrics:   collector,
		Logger:    a.logger.Named("ledger"),
	})
	if err != nil {
		_ = result.Cleanup()
		return nil, err
	}

	b, err := boxes.NewWithConfig(result.Store, boxes.Config{
		Namespace: a.cfg.Namespace,
		Metrics:   collector,
		Logger:    a.logger.Named("boxes"),
	})
	if err != nil {
		_ = result.Cleanup()
		return nil, err
	}

	return &session{ledger: l, boxes: b, store: result}, nil
}

// withSession opens a session for a one-shot command and closes it after.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			a.logger.Warn("close store", zap.Error(err))
		}
	}()

	return fn(ctx, s)
}
