package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RetentionCleaner periodically deletes event records older than the
// configured retention period.
type RetentionCleaner struct {
	store         *Store
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewRetentionCleaner starts a cleaner. Returns nil when retentionDays is 0 (disabled).
func NewRetentionCleaner(store *Store, retentionDays int, logger *slog.Logger) *RetentionCleaner {
	if retentionDays <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := &RetentionCleaner{
		store:         store,
		retentionDays: retentionDays,
		interval:      time.Hour,
		logger:        logger,
		done:          make(chan struct{}),
	}

	// Startup cleanup to catch up after downtime.
	rc.cleanup()

	rc.wg.Add(1)
	go rc.tickLoop()

	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanup() {
	cutoff := time.Now().Add(-time.Duration(rc.retentionDays) * 24 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := rc.store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		rc.logger.Error("retention cleanup failed", "error", err)
		return
	}
	if rows > 0 {
		rc.logger.Info("retention cleanup deleted expired events", "rows", rows, "retention_days", rc.retentionDays)
	}
}

// Stop signals the cleaner to stop and waits for it to finish.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
