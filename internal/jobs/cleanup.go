package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CleanupFunc removes stale entries and reports how many were removed.
type CleanupFunc func(ctx context.Context) (int64, error)

type cleanupTask struct {
	name string
	fn   CleanupFunc
}

type CleanupJob struct {
	name     string
	tasks    []cleanupTask
	interval time.Duration
	timeout  time.Duration
	done     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex
	running  bool
}

func NewCleanupJob(name string, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		name:     name,
		interval: interval,
		timeout:  30 * time.Second,
	}
}

// Add registers a task. Tasks added after Start are picked up on the next tick.
func (j *CleanupJob) Add(name string, fn CleanupFunc) *CleanupJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tasks = append(j.tasks, cleanupTask{name: name, fn: fn})
	return j
}

func (j *CleanupJob) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	j.done = make(chan struct{})
	j.stopped = make(chan struct{})
	go j.run(j.done, j.stopped)
	log.Info().Str("job", j.name).Dur("interval", j.interval).Msg("cleanup job started")
}

// Stop halts the job and waits for an in-flight run to finish. Safe to call
// more than once.
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	close(j.done)
	stopped := j.stopped
	j.mu.Unlock()

	<-stopped
	log.Info().Str("job", j.name).Msg("cleanup job stopped")
}

func (j *CleanupJob) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *CleanupJob) run(done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	j.mu.Lock()
	tasks := make([]cleanupTask, len(j.tasks))
	copy(tasks, j.tasks)
	j.mu.Unlock()

	for _, task := range tasks {
		j.runCleanup(ctx, task.name, task.fn)
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn CleanupFunc) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Str("job", j.name).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Str("job", j.name).Int64("count", count).Msgf("cleaned up %s", name)
	}
}
