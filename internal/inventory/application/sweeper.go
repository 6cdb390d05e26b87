package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/storeit-dev/storeit/internal/inventory/domain"
)

// Sweeper reclaims stock from reservations whose TTL elapsed before
// payment completed. Each reservation is expired in its own transaction
// so one bad row never blocks the rest of the batch.
type Sweeper struct {
	log      *slog.Logger
	svc      *Service
	repo     StockRepository
	interval time.Duration
	batch    int
}

func NewSweeper(log *slog.Logger, svc *Service, repo StockRepository, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Sweeper{log: log, svc: svc, repo: repo, interval: interval, batch: 500}
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweep stopping")
			return nil
		case <-t.C:
			reclaimed, err := s.SweepOnce(ctx)
			if err != nil {
				s.log.Error("expiry sweep failed", "err", err)
				continue
			}
			if reclaimed > 0 {
				s.log.Info("expiry sweep reclaimed stock", "reservations", reclaimed)
			}
		}
	}
}

// SweepOnce expires every stale active reservation it can and returns
// how many it reclaimed. Candidates are listed without locks; Expire
// re-checks status under the row lock, so racing a concurrent consume
// resolves to a benign no-op here.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	stale, err := s.repo.ListExpired(ctx, time.Now(), s.batch)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, r := range stale {
		if err := s.svc.Expire(ctx, r.ID); err != nil {
			if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrNotFound) {
				continue
			}
			s.log.Error("expiring reservation failed", "reservation_id", r.ID, "err", err)
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}
