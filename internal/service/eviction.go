package service

import (
	"context"
	"log"
	"sync"
	"time"
)

// EvictionConfig holds configuration for the eviction scheduler.
type EvictionConfig struct {
	// IdleThreshold is how long an account may sit unused before it is evicted.
	// Default: 30 minutes
	IdleThreshold time.Duration

	// SweepInterval is how often the sweep runs.
	// Default: 1 minute
	SweepInterval time.Duration
}

// DefaultEvictionConfig returns default eviction configuration.
func DefaultEvictionConfig() EvictionConfig {
	return EvictionConfig{
		IdleThreshold: 30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// EvictionScheduler periodically retries pending saves and drops idle
// accounts from the registry.
type EvictionScheduler struct {
	registry  *Registry
	config    EvictionConfig
	ticker    *time.Ticker
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewEvictionScheduler creates a new eviction scheduler.
func NewEvictionScheduler(registry *Registry, config EvictionConfig) *EvictionScheduler {
	defaults := DefaultEvictionConfig()
	if config.IdleThreshold <= 0 {
		config.IdleThreshold = defaults.IdleThreshold
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}

	return &EvictionScheduler{
		registry: registry,
		config:   config,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the eviction scheduler.
func (s *EvictionScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.SweepInterval)
	s.mu.Unlock()

	log.Printf("[EvictionScheduler] Started - Interval: %v, Idle threshold: %v",
		s.config.SweepInterval, s.config.IdleThreshold)

	go s.run()
}

func (s *EvictionScheduler) run() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.ticker.C:
			s.RunNow()
		case <-s.stopCh:
			log.Printf("[EvictionScheduler] Stopped")
			return
		}
	}
}

// RunNow performs one sweep immediately.
func (s *EvictionScheduler) RunNow() SweepResult {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res := s.registry.Sweep(ctx, s.config.IdleThreshold)
	if res.Evicted > 0 || res.Failed > 0 || res.Saved > 0 {
		log.Printf("[EvictionScheduler] Saved %d, failed %d, evicted %d, %d accounts loaded (%d with staged changes)",
			res.Saved, res.Failed, res.Evicted, res.Remaining, res.Pending)
	}
	return res
}

// Stop stops the scheduler and flushes every dirty document.
func (s *EvictionScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()

		if running {
			<-s.doneCh
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		res := s.registry.Flush(ctx)
		log.Printf("[EvictionScheduler] Final flush: saved %d, failed %d", res.Saved, res.Failed)
	})
}
