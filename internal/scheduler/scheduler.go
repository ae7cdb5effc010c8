// Package scheduler runs the sync pipeline on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SyncScheduler triggers a sync job on a five-field cron schedule.
// Overlapping triggers are skipped: at most one sync runs at a time.
type SyncScheduler struct {
	schedule string
	job      func(ctx context.Context)

	cron       *cron.Cron
	entryID    cron.EntryID
	mu         sync.RWMutex
	isRunning  bool
	isSyncing  bool
	cancelFunc context.CancelFunc
}

// NewSyncScheduler creates a scheduler running job per the given schedule.
func NewSyncScheduler(schedule string, job func(ctx context.Context)) *SyncScheduler {
	return &SyncScheduler{
		schedule: schedule,
		job:      job,
		cron:     cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
	}
}

// ValidateSchedule reports whether the expression is a valid five-field
// cron schedule.
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", schedule, err)
	}
	return nil
}

// Start begins scheduling. It returns immediately; jobs run on the cron
// goroutine until ctx is cancelled or Stop is called.
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if err := ValidateSchedule(s.schedule); err != nil {
		return err
	}

	entryID, err := s.cron.AddFunc(s.schedule, func() {
		s.runSync(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sync job: %w", err)
	}
	s.entryID = entryID

	var cancelCtx context.Context
	cancelCtx, s.cancelFunc = context.WithCancel(ctx)

	s.cron.Start()
	s.isRunning = true

	log.Printf("Sync scheduler: started with schedule '%s'. Next run: %v", s.schedule, s.nextRunLocked())

	go func() {
		<-cancelCtx.Done()
		s.Stop()
	}()

	return nil
}

// Stop halts scheduling and waits for a running job to finish.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.isRunning = false
	s.cancelFunc = nil

	log.Printf("Sync scheduler: stopped")
}

// RunNow triggers an immediate sync outside the schedule.
func (s *SyncScheduler) RunNow(ctx context.Context) {
	go s.runSync(ctx)
}

// IsRunning returns whether the scheduler is active.
func (s *SyncScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// IsSyncing returns whether a sync is currently in progress.
func (s *SyncScheduler) IsSyncing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isSyncing
}

// NextRunTime returns when the next scheduled sync will occur, nil when
// the scheduler is stopped.
func (s *SyncScheduler) NextRunTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return nil
	}
	return s.nextRunLocked()
}

func (s *SyncScheduler) nextRunLocked() *time.Time {
	for _, entry := range s.cron.Entries() {
		if entry.ID == s.entryID {
			t := entry.Next
			return &t
		}
	}
	return nil
}

func (s *SyncScheduler) runSync(ctx context.Context) {
	s.mu.Lock()
	if s.isSyncing {
		s.mu.Unlock()
		log.Printf("Sync scheduler: run skipped (already syncing)")
		return
	}
	s.isSyncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isSyncing = false
		s.mu.Unlock()
	}()

	log.Printf("Sync scheduler: starting scheduled sync")
	startTime := time.Now()

	s.job(ctx)

	log.Printf("Sync scheduler: finished in %v", time.Since(startTime).Round(time.Millisecond))
}
