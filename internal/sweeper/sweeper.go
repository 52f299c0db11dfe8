// Package sweeper runs periodic housekeeping tasks in the background.
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one named housekeeping job. Run returns how many items it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Sweeper runs every task once per interval until stopped.
type Sweeper struct {
	interval time.Duration
	timeout  time.Duration
	tasks    []Task
	log      *zap.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// New constructs a Sweeper. Each run of a task is bounded by the interval.
func New(interval time.Duration, log *zap.Logger, tasks ...Task) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		interval: interval,
		timeout:  interval,
		tasks:    tasks,
		log:      log,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. It must be called at most once.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.RunOnce(context.Background())
			case <-s.stopChan:
				s.log.Info("sweeper stopped")
				return
			}
		}
	}()
	s.log.Info("sweeper started", zap.Duration("interval", s.interval), zap.Int("tasks", len(s.tasks)))
}

// Stop halts the loop and waits for the current run to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
}

// RunOnce runs every task in order. A failing task does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) map[string]int {
	out := make(map[string]int, len(s.tasks))
	for _, t := range s.tasks {
		tctx, cancel := context.WithTimeout(ctx, s.timeout)
		n, err := t.Run(tctx)
		cancel()
		if err != nil {
			s.log.Error("sweep task failed", zap.String("task", t.Name), zap.Error(err))
			continue
		}
		out[t.Name] = n
		if n > 0 {
			s.log.Info("sweep task", zap.String("task", t.Name), zap.Int("removed", n))
		}
	}
	return out
}
