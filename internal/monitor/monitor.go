// Package monitor samples simulator health on a fixed interval.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stagesim/pioneer/pkg/core"
)

const defaultInterval = 10 * time.Second

// StatusSource reports the current counters.
type StatusSource interface {
	Status() core.StatusSample
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Source   StatusSource
	Logger   *slog.Logger
	Clock    clock.Clock
	Interval time.Duration
	// Record receives every sample, typically storage.Backend.RecordStatus.
	Record func(*core.StatusSample) error
	// StatusFile, when set, is rewritten with the latest sample as JSON.
	StatusFile string
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	last      core.StatusSample
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Interval <= 0 {
		deps.Interval = defaultInterval
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Last returns the most recent sample.
func (s *Service) Last() core.StatusSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Sample takes one snapshot, logs it and hands it to the recorder.
func (s *Service) Sample() core.StatusSample {
	sample := s.deps.Source.Status()
	if sample.Time.IsZero() {
		sample.Time = s.deps.Clock.Now()
	}

	s.mu.Lock()
	s.last = sample
	s.mu.Unlock()

	s.deps.Logger.Info("status",
		"ticks", sample.Ticks,
		"stalls", sample.Stalls,
		"collisions", sample.Collisions,
		"devices", sample.Devices,
		"queues", sample.QueueLengths,
	)

	if s.deps.Record != nil {
		if err := s.deps.Record(&sample); err != nil {
			s.deps.Logger.Error("Error recording status sample", "error", err)
		}
	}
	if s.deps.StatusFile != "" {
		if err := writeStatusFile(s.deps.StatusFile, sample); err != nil {
			s.deps.Logger.Error("Error writing status file", "path", s.deps.StatusFile, "error", err)
		}
	}
	return sample
}

func writeStatusFile(path string, sample core.StatusSample) error {
	data, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.deps.Source == nil {
		s.mu.Unlock()
		return fmt.Errorf("monitor: no status source")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	ticker := s.deps.Clock.Ticker(s.deps.Interval)
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		defer ticker.Stop()
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.deps.Logger.Debug("Starting status monitor", "interval", s.deps.Interval)
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.Sample()
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for it to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
