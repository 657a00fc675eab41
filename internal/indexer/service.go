package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/coldbell/predict/backend/internal/config"
	"github.com/coldbell/predict/backend/internal/ledger"
)

type Service struct {
	cfg     config.IndexerConfig
	query   *Query
	closeFn func() error
	stdout  io.Writer
	logger  *slog.Logger
}

func New(ctx context.Context, cfg config.IndexerConfig, logger *slog.Logger) (*Service, error) {
	store, err := ledger.NewPostgresStore(ctx, cfg.LedgerDSN, nil)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	svc := NewWithScanner(cfg, store, logger)
	svc.closeFn = store.Close
	return svc, nil
}

func NewWithScanner(cfg config.IndexerConfig, scanner ledger.Scanner, logger *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		query:   NewQuery(scanner, cfg.Program.ProgramID),
		closeFn: func() error { return nil },
		stdout:  os.Stdout,
		logger:  logger,
	}
}

// Run writes one snapshot, or one per PollInterval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.closeFn(); err != nil {
			s.logger.Error("failed to close ledger", "err", err)
		}
	}()

	s.logger.Info("indexer started",
		"program_id", s.cfg.Program.ProgramID.String(),
		"output", s.cfg.OutputPath,
		"resolution", s.cfg.Resolution,
		"poll_interval", s.cfg.PollInterval.String(),
	)

	if err := s.syncOnce(ctx); err != nil {
		return err
	}
	if s.cfg.PollInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("indexer stopped")
			return nil
		case <-ticker.C:
			if err := s.syncOnce(ctx); err != nil {
				s.logger.Error("sync failed", "err", err)
			}
		}
	}
}

func (s *Service) syncOnce(ctx context.Context) error {
	snapshot, err := s.query.ListMarkets(ctx, MarketFilter{
		Resolution: s.cfg.Resolution,
		Limit:      s.cfg.Limit,
		Offset:     s.cfg.Offset,
	})
	if err != nil {
		return err
	}
	if snapshot.Skipped > 0 {
		s.logger.Warn("skipped undecodable program accounts", "count", snapshot.Skipped)
	}

	if err := s.writeSnapshot(snapshot); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	s.logger.Info("snapshot written",
		"markets", len(snapshot.Markets),
		"open_predictions", snapshot.OpenPredictions,
	)
	return nil
}

func (s *Service) writeSnapshot(snapshot Snapshot) error {
	body, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	body = append(body, '\n')

	if s.cfg.OutputPath == "" || s.cfg.OutputPath == "-" {
		_, err := s.stdout.Write(body)
		return err
	}

	// Replace the file atomically.
	tmp, err := os.CreateTemp(filepath.Dir(s.cfg.OutputPath), filepath.Base(s.cfg.OutputPath)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.cfg.OutputPath)
}
