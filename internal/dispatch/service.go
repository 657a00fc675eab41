package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/coldbell/predict/backend/internal/clock"
	"github.com/coldbell/predict/backend/internal/config"
	"github.com/coldbell/predict/backend/internal/ledger"
	"github.com/coldbell/predict/backend/internal/program"
	"github.com/prometheus/client_golang/prometheus"
)

type Service struct {
	cfg       config.ProcessorConfig
	processor *program.Processor
	registry  *prometheus.Registry
	closeFn   func() error
	stdin     io.Reader
	logger    *slog.Logger
}

func New(ctx context.Context, cfg config.ProcessorConfig, logger *slog.Logger) (*Service, error) {
	rent := ledger.DefaultRent()
	if cfg.Program.RentLamportsPerByteYear > 0 {
		rent.LamportsPerByteYear = cfg.Program.RentLamportsPerByteYear
	}

	store, err := ledger.NewPostgresStore(ctx, cfg.LedgerDSN, rent)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	var clk clock.Clock = clock.System{}
	if cfg.ClockSource == config.ClockSourceCluster {
		clk = clock.NewCluster(cfg.RPCURL, cfg.Commitment, logger)
	}

	svc := NewWithStore(cfg, store, clk, logger, program.WithRent(rent))
	svc.closeFn = store.Close
	return svc, nil
}

// NewWithStore builds a service over an already opened ledger.
func NewWithStore(cfg config.ProcessorConfig, store ledger.Store, clk clock.Clock, logger *slog.Logger, opts ...program.Option) *Service {
	if cfg.DryRun {
		store = ledger.DryRun(store)
	}
	registry := prometheus.NewRegistry()
	opts = append(opts, program.WithRegisterer(registry))

	return &Service{
		cfg:       cfg,
		processor: program.NewProcessor(cfg.Program, store, clk, logger, opts...),
		registry:  registry,
		closeFn:   func() error { return nil },
		stdin:     os.Stdin,
		logger:    logger,
	}
}

func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Run executes the single invocation named by the configuration.
func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.closeFn(); err != nil {
			s.logger.Error("failed to close ledger", "err", err)
		}
	}()

	s.logger.Info("processor started",
		"program_id", s.cfg.Program.ProgramID.String(),
		"clock", s.cfg.ClockSource,
		"input", s.cfg.InvocationPath,
		"dry_run", s.cfg.DryRun,
	)

	envelope, err := s.readEnvelope()
	if err != nil {
		return err
	}

	invokeErr := s.Invoke(ctx, envelope)
	if err := s.writeMetrics(); err != nil {
		s.logger.Error("failed to write metrics textfile", "path", s.cfg.MetricsTextfile, "err", err)
	}
	return invokeErr
}

func (s *Service) Invoke(ctx context.Context, envelope Envelope) error {
	invocation, err := envelope.Invocation()
	if err != nil {
		return err
	}

	if s.cfg.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.InvokeTimeout)
		defer cancel()
	}

	err = s.processor.Execute(ctx, invocation.ProgramID, invocation.Accounts, invocation.Data)
	if errors.Is(err, ledger.ErrRollback) {
		s.logger.Info("dry run succeeded, changes discarded")
		return nil
	}
	return err
}

func (s *Service) readEnvelope() (Envelope, error) {
	if s.cfg.InvocationPath == "" || s.cfg.InvocationPath == "-" {
		return ReadEnvelope(s.stdin)
	}

	file, err := os.Open(s.cfg.InvocationPath)
	if err != nil {
		return Envelope{}, fmt.Errorf("open invocation %q: %w", s.cfg.InvocationPath, err)
	}
	defer file.Close()
	return ReadEnvelope(file)
}

func (s *Service) writeMetrics() error {
	if s.cfg.MetricsTextfile == "" {
		return nil
	}
	return prometheus.WriteToTextfile(s.cfg.MetricsTextfile, s.registry)
}
