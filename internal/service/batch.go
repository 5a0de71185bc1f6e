package service

import (
	"context"
	"sync"
	"time"

	"github.com/argumentlab/dialectic/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultBatchInterval      = 24 * time.Hour
	defaultRunStalenessWindow = 30 * time.Minute
	batchCycleTimeout         = 30 * time.Minute
)

// BatchService drives the nightly pipeline: reclaim stuck analysis runs,
// recompute propagation over the whole graph, then settle bounties and
// karma against the resulting flip diff. The same steps back the manual
// trigger endpoints.
type BatchService struct {
	runs        domain.RunStore
	propagation *PropagationService
	settlement  *SettlementService
	logger      *zap.Logger

	interval  time.Duration
	staleness time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewBatchService(runs domain.RunStore, propagation *PropagationService, settlement *SettlementService, logger *zap.Logger) *BatchService {
	return &BatchService{
		runs:        runs,
		propagation: propagation,
		settlement:  settlement,
		logger:      logger,
		interval:    defaultBatchInterval,
		staleness:   defaultRunStalenessWindow,
		stopCh:      make(chan struct{}),
	}
}

func (s *BatchService) SetInterval(d time.Duration) {
	s.interval = d
}

func (s *BatchService) SetStalenessWindow(d time.Duration) {
	s.staleness = d
}

func (s *BatchService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("batch worker started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), batchCycleTimeout)
				if err := s.RunOnce(ctx); err != nil {
					s.logger.Error("batch cycle failed", zap.Error(err))
				}
				cancel()
			case <-s.stopCh:
				s.logger.Info("batch worker stopped")
				return
			}
		}
	}()
}

func (s *BatchService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// RunOnce executes one full pipeline pass. Propagation and settlement
// share the cycle's flip diff, so settlement always follows propagation
// within the same call.
func (s *BatchService) RunOnce(ctx context.Context) error {
	if _, err := s.ReclaimStaleRuns(ctx); err != nil {
		return err
	}
	flips, err := s.propagation.RunCycle(ctx)
	if err != nil {
		return err
	}
	_, err = s.settlement.RunCycle(ctx, flips, time.Now().UTC())
	return err
}

// ReclaimStaleRuns requeues runs stuck in processing past the staleness
// window, typically after an ingestion worker crash.
func (s *BatchService) ReclaimStaleRuns(ctx context.Context) (int64, error) {
	n, err := s.runs.ReclaimStale(ctx, s.staleness)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("reclaimed stale runs", zap.Int64("count", n))
	}
	return n, nil
}
