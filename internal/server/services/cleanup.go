package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/accountd/internal/logging"
	"github.com/dmitrijs2005/accountd/internal/server/config"
	"github.com/dmitrijs2005/accountd/internal/server/repositories/repomanager"
)

// CleanupService periodically purges stale token records: expired ones
// immediately, revoked ones once the retention window has passed. A failed
// sweep is logged and retried on the next tick; it never takes the process
// down or touches request handling.
type CleanupService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	interval    time.Duration
	retention   time.Duration
}

func NewCleanupService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *CleanupService {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	return &CleanupService{
		db:          db,
		repomanager: m,
		logger:      logger.With("module", "cleanup_service"),
		interval:    interval,
		retention:   cfg.RetentionWindow,
	}
}

// Run sweeps once immediately, then on every tick until ctx is canceled.
// Sweeping at startup bounds growth accumulated during downtime.
func (s *CleanupService) Run(ctx context.Context) {
	s.logger.Info(ctx, "starting cleanup loop", "interval", s.interval.String(), "retention", s.retention.String())

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "stopping cleanup loop")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Sweep runs a single purge pass. Exposed so callers can trigger an
// out-of-band purge; Run uses it internally.
func (s *CleanupService) Sweep(ctx context.Context) (int64, error) {
	repo := s.repomanager.Tokens(s.db)
	return repo.DeleteStale(ctx, s.retention)
}

func (s *CleanupService) sweep(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error(ctx, "token purge failed", "error", err.Error())
		return
	}
	s.logger.Info(ctx, "purged stale tokens", "deleted", n)
}
