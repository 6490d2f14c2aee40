// Package retention runs the TTL expire worker, the plan-gated prune and
// scheduled message delivery on background tickers.
package retention

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veilchat/backend/go/internal/v1/logging"
	"github.com/veilchat/backend/go/internal/v1/message"
	"github.com/veilchat/backend/go/internal/v1/metrics"
	"github.com/veilchat/backend/go/internal/v1/store"
)

const pruneInterval = 6 * time.Hour

// Worker drives the periodic retention passes.
type Worker struct {
	store    store.Store
	messages *message.Service

	interval             time.Duration
	batch                int
	freeRetentionDays    int
	premiumRetentionDays int

	now func() time.Time
	wg  sync.WaitGroup
}

// NewWorker wires the retention passes. Retention day values of zero mean
// unlimited (no prune for that plan).
func NewWorker(st store.Store, messages *message.Service, interval time.Duration, batch, freeDays, premiumDays int) *Worker {
	return &Worker{
		store:                st,
		messages:             messages,
		interval:             interval,
		batch:                batch,
		freeRetentionDays:    freeDays,
		premiumRetentionDays: premiumDays,
		now:                  time.Now,
	}
}

// Start launches the tickers. They stop when ctx is cancelled; Wait blocks
// until both loops have exited.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.ExpirePass(ctx); err != nil {
					logging.Error(ctx, "Expire pass failed", zap.Error(err))
				}
				if _, err := w.messages.DeliverDue(ctx, w.batch); err != nil {
					logging.Error(ctx, "Scheduled delivery failed", zap.Error(err))
				}
			}
		}
	}()
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.PrunePass(ctx); err != nil {
					logging.Error(ctx, "Prune pass failed", zap.Error(err))
				}
			}
		}
	}()
}

// Wait blocks until the loops have stopped.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// ExpirePass claims up to batch expired live messages, tombstones them in
// one statement and emits an upsert per claimed row. Emit failures are
// logged and never rewind the tombstones.
func (w *Worker) ExpirePass(ctx context.Context) (int, error) {
	now := w.now().UTC().Truncate(time.Millisecond)

	ids, err := w.store.ExpireCandidates(ctx, now, w.batch)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := w.store.TombstoneBatch(ctx, ids, now); err != nil {
		return 0, err
	}

	claimed, err := w.store.ListTombstonedAt(ctx, now)
	if err != nil {
		// Tombstones are durable; only the emits were lost.
		logging.Error(ctx, "Failed to re-fetch claimed tombstones", zap.Error(err))
		return len(ids), nil
	}
	for _, msg := range claimed {
		w.messages.EmitUpsert(ctx, msg)
	}
	metrics.MessagesExpired.Add(float64(len(claimed)))

	logging.Info(ctx, "Expired messages",
		zap.Int("claimed", len(claimed)), zap.Int("candidates", len(ids)))
	return len(claimed), nil
}

// PrunePass hard-deletes messages past each plan's retention horizon.
func (w *Worker) PrunePass(ctx context.Context) error {
	now := w.now().UTC()

	if w.freeRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -w.freeRetentionDays)
		n, err := w.store.PruneMessagesBefore(ctx, store.PlanFree, cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			metrics.MessagesPruned.WithLabelValues("FREE").Add(float64(n))
			logging.Info(ctx, "Pruned free-plan messages", zap.Int64("count", n))
		}
	}
	if w.premiumRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -w.premiumRetentionDays)
		n, err := w.store.PruneMessagesBefore(ctx, store.PlanPremium, cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			metrics.MessagesPruned.WithLabelValues("PREMIUM").Add(float64(n))
			logging.Info(ctx, "Pruned premium-plan messages", zap.Int64("count", n))
		}
	}
	return nil
}
