// Package scheduler runs the engine's named periodic tasks. Each task owns
// its own timer and cancellation; a failing or panicking sweep logs and
// skips to the next interval, never stopping itself or its siblings.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Task is one periodic job. Exactly one of Every or Cron must be set.
type Task struct {
	Name  string
	Every time.Duration
	Cron  string
	Run   func(ctx context.Context) error
}

// Runner hosts tasks, each on its own goroutine with an independent cancel.
type Runner struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewRunner() *Runner {
	return &Runner{cancels: make(map[string]context.CancelFunc)}
}

// Add validates the task and starts its loop. The loop stops when the
// parent context is cancelled or the task is stopped by name.
func (r *Runner) Add(ctx context.Context, t Task) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("scheduler: task needs a name and a run func")
	}
	if (t.Every <= 0) == (t.Cron == "") {
		return fmt.Errorf("scheduler: task %s: exactly one of interval or cron expression required", t.Name)
	}
	if t.Cron != "" {
		if _, err := cronParser.Parse(t.Cron); err != nil {
			return fmt.Errorf("scheduler: task %s: parse cron %q: %w", t.Name, t.Cron, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cancels[t.Name]; exists {
		return fmt.Errorf("scheduler: task %s already registered", t.Name)
	}
	taskCtx, cancel := context.WithCancel(ctx)
	r.cancels[t.Name] = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(taskCtx, t)
	}()
	return nil
}

// Stop cancels one task by name. Returns false if the task is unknown.
func (r *Runner) Stop(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[name]
	if !ok {
		return false
	}
	cancel()
	delete(r.cancels, name)
	return true
}

// StopAll cancels every task.
func (r *Runner) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, cancel := range r.cancels {
		cancel()
		delete(r.cancels, name)
	}
}

// Wait blocks until all task loops have exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, t Task) {
	timer := time.NewTimer(r.interval(t))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			r.runOnce(ctx, t)
			timer.Reset(r.interval(t))
		}
	}
}

// interval returns the wait until the task's next fire.
func (r *Runner) interval(t Task) time.Duration {
	if t.Every > 0 {
		return t.Every
	}
	sched, err := cronParser.Parse(t.Cron)
	if err != nil {
		// Validated at Add; unreachable short of a parser change.
		return time.Minute
	}
	d := time.Until(sched.Next(time.Now()))
	if d < 0 {
		return 0
	}
	return d
}

// runOnce executes one sweep, containing panics and logging errors so the
// loop always reaches its next interval.
func (r *Runner) runOnce(ctx context.Context, t Task) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("scheduler: task %s panicked: %v", t.Name, rec)
		}
	}()
	if err := t.Run(ctx); err != nil {
		log.Printf("scheduler: task %s: %v", t.Name, err)
	}
}
