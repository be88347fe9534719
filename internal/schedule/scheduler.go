package schedule

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Logger is the minimal logging interface the scheduler needs.
// Satisfied by logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TaskFunc is the unit of scheduled work. The context is cancelled when
// the scheduler stops; tasks must honour it on blocking operations.
type TaskFunc func(ctx context.Context)

// task is an entry in the delay queue. A task is identified by the
// (DeviceID, Name) pair; scheduling the same pair again replaces the
// pending entry.
type task struct {
	deviceID  string
	name      string
	runAt     time.Time
	fn        TaskFunc
	cancelled bool
	index     int
}

// taskHeap orders tasks by runAt, earliest first.
type taskHeap []*task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].runAt.Before(h[j].runAt) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x any)         { t := x.(*task); t.index = len(*h); *h = append(*h, t) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

type taskKey struct {
	deviceID string
	name     string
}

// Scheduler runs delayed tasks on a bounded worker pool.
//
// Thread Safety: all methods are safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	queue   taskHeap
	pending map[taskKey]*task
	wake    chan struct{}

	workers   int
	queueSize int
	work      chan *task

	logger Logger

	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler with the given worker pool size and
// dispatch queue capacity. Both must be positive; zero values fall back
// to small defaults.
func NewScheduler(workers, queueSize int) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Scheduler{
		pending:   make(map[taskKey]*task),
		wake:      make(chan struct{}, 1),
		workers:   workers,
		queueSize: queueSize,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger. Must be called before Start.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start launches the dispatch loop and the worker pool. The provided
// context bounds the scheduler's lifetime; Stop cancels it as well.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.work = make(chan *task, s.queueSize)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.wg.Add(1)
	go s.dispatch(ctx)

	s.logger.Info("scheduler started", "workers", s.workers, "queue_size", s.queueSize)
}

// Stop cancels all pending tasks and waits for in-flight tasks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Schedule queues fn to run after delay, keyed by (deviceID, name).
// If a task with the same key is already pending it is replaced; the
// new delay wins. A negative delay runs as soon as a worker is free.
func (s *Scheduler) Schedule(deviceID, name string, delay time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	key := taskKey{deviceID: deviceID, name: name}
	if existing, ok := s.pending[key]; ok {
		existing.cancelled = true
		delete(s.pending, key)
	}

	t := &task{
		deviceID: deviceID,
		name:     name,
		runAt:    time.Now().Add(delay),
		fn:       fn,
	}
	heap.Push(&s.queue, t)
	s.pending[key] = t
	s.signal()
}

// Cancel removes every pending task for the device and returns how many
// were cancelled. Tasks already handed to a worker are not interrupted.
func (s *Scheduler) Cancel(deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, t := range s.pending {
		if key.deviceID == deviceID {
			t.cancelled = true
			delete(s.pending, key)
			n++
		}
	}
	if n > 0 {
		s.logger.Debug("cancelled pending tasks", "device_id", deviceID, "count", n)
	}
	return n
}

// CancelTask removes one pending task identified by its key. Returns
// true if a pending task was found.
func (s *Scheduler) CancelTask(deviceID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := taskKey{deviceID: deviceID, name: name}
	t, ok := s.pending[key]
	if !ok {
		return false
	}
	t.cancelled = true
	delete(s.pending, key)
	return true
}

// Pending returns the number of tasks waiting to run. Intended for
// status reporting and tests.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// signal nudges the dispatch loop after the queue changed. Callers must
// hold mu.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch pops due tasks off the heap and hands them to the worker
// pool. It sleeps until the next task's deadline or until woken by a
// queue change.
func (s *Scheduler) dispatch(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var next *task
		for s.queue.Len() > 0 {
			head := s.queue[0]
			if head.cancelled {
				heap.Pop(&s.queue)
				continue
			}
			if time.Until(head.runAt) > 0 {
				next = head
				break
			}
			heap.Pop(&s.queue)
			delete(s.pending, taskKey{deviceID: head.deviceID, name: head.name})
			s.mu.Unlock()

			select {
			case s.work <- head:
			case <-ctx.Done():
				return
			}

			s.mu.Lock()
		}

		var wait time.Duration
		if next != nil {
			wait = time.Until(next.runAt)
		} else {
			wait = time.Hour
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-s.wake:
		case <-ctx.Done():
			return
		}
	}
}

// worker executes dispatched tasks one at a time.
func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case t := <-s.work:
			s.run(ctx, t)
		case <-ctx.Done():
			return
		}
	}
}

// run executes a single task, recovering from panics so one bad task
// cannot take down the pool.
func (s *Scheduler) run(ctx context.Context, t *task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked",
				"device_id", t.deviceID, "task", t.name, "panic", r)
		}
	}()
	t.fn(ctx)
}
