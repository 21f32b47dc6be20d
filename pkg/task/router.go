package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bitter-oolong/telepage/pkg/alog"
)

// Handler processes a task payload.
type Handler func(ctx context.Context, payload any) error

// Options configures how a task is dispatched and executed.
type Options struct {
	// GroupKey serializes execution for tasks sharing the same group. The
	// engine uses one group per chat user so a user's interactions are
	// processed strictly in order. Empty means the global group.
	GroupKey string

	// IdempotencyKey deduplicates tasks enqueued within the IdempotencyTTL
	// window.
	IdempotencyKey string

	// MaxAttempts caps handler retries; 0 uses Config.DefaultMaxAttempts.
	MaxAttempts int

	// IdempotencyTTL overrides Config.IdempotencyTTL when non-zero.
	IdempotencyTTL time.Duration
}

// Task is one unit of work for the router.
type Task struct {
	Type    string
	Payload any
	Options Options
}

// Config configures the Router.
type Config struct {
	DefaultMaxAttempts int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	IdempotencyTTL     time.Duration
	GroupBuffer        int
	GroupIdleTTL       time.Duration
	CleanupInterval    time.Duration
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		DefaultMaxAttempts: 3,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         30 * time.Second,
		IdempotencyTTL:     60 * time.Second,
		GroupBuffer:        64,
		GroupIdleTTL:       5 * time.Minute,
		CleanupInterval:    1 * time.Minute,
	}
}

// Errors returned by the router.
var (
	ErrRouterClosed    = errors.New("task router is closed")
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrDuplicateTask   = errors.New("duplicate task (idempotency key present)")
)

const globalGroup = "_global"

// Router is an in-memory dispatcher with per-group serialized execution,
// idempotency-window dedupe and retry with exponential backoff. One worker
// goroutine per group guarantees in-order handling within a group while
// different groups run concurrently.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	groups   map[string]*groupWorker
	recent   map[string]time.Time // idempotency key -> expiry
	closed   bool
	cfg      Config
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	jobMu sync.Mutex
	jobs  []*periodicJob
}

type groupWorker struct {
	key        string
	ch         chan *queuedTask
	lastActive time.Time
	stopping   bool

	// pendingRetries pins the group: cleanup must not close a channel a
	// retry goroutine is still going to send to.
	pendingRetries int
}

type queuedTask struct {
	task    Task
	attempt int
}

type periodicJob struct {
	interval time.Duration
	task     Task
	lastRun  time.Time
	stopped  bool
}

// NewRouter creates a Router; zero config fields fall back to Defaults.
func NewRouter(cfg Config) *Router {
	def := Defaults()
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = def.DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}
	if cfg.GroupBuffer <= 0 {
		cfg.GroupBuffer = def.GroupBuffer
	}
	if cfg.GroupIdleTTL <= 0 {
		cfg.GroupIdleTTL = def.GroupIdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	r := &Router{
		handlers: make(map[string]Handler),
		groups:   make(map[string]*groupWorker),
		recent:   make(map[string]time.Time),
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.backgroundLoop()
	return r
}

// RegisterHandler registers a handler for the given task type.
func (r *Router) RegisterHandler(taskType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = handler
}

// Dispatch enqueues a task, respecting grouping and idempotency.
func (r *Router) Dispatch(ctx context.Context, t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRouterClosed
	}
	if handler := r.handlers[t.Type]; handler == nil {
		return ErrUnknownTaskType
	}

	if key := t.Options.IdempotencyKey; key != "" {
		ttl := t.Options.IdempotencyTTL
		if ttl <= 0 {
			ttl = r.cfg.IdempotencyTTL
		}
		if expiry, exists := r.recent[key]; exists && time.Now().Before(expiry) {
			return ErrDuplicateTask
		}
		r.recent[key] = time.Now().Add(ttl)
	}

	groupKey := t.Options.GroupKey
	if groupKey == "" {
		groupKey = globalGroup
	}
	gw := r.ensureGroupLocked(groupKey)

	select {
	case gw.ch <- &queuedTask{task: t, attempt: 1}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScheduleEvery dispatches the task at the given interval until the
// returned cancel function is called. Granularity is the cleanup interval.
func (r *Router) ScheduleEvery(interval time.Duration, t Task) func() {
	job := &periodicJob{interval: interval, task: t}
	r.jobMu.Lock()
	r.jobs = append(r.jobs, job)
	r.jobMu.Unlock()

	return func() {
		r.jobMu.Lock()
		job.stopped = true
		r.jobMu.Unlock()
	}
}

// Close stops the router and waits for the workers to drain. Tasks still
// queued may be dropped.
func (r *Router) Close() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		for _, gw := range r.groups {
			if gw != nil && !gw.stopping {
				gw.stopping = true
				close(gw.ch)
			}
		}
		r.mu.Unlock()
		close(r.stopCh)
		r.wg.Wait()
	})
}

func (r *Router) ensureGroupLocked(key string) *groupWorker {
	if gw, ok := r.groups[key]; ok && gw != nil {
		return gw
	}
	gw := &groupWorker{
		key:        key,
		ch:         make(chan *queuedTask, r.cfg.GroupBuffer),
		lastActive: time.Now(),
	}
	r.groups[key] = gw
	r.wg.Add(1)
	go r.groupLoop(gw)
	return gw
}

func (r *Router) groupLoop(gw *groupWorker) {
	defer r.wg.Done()

	for qt := range gw.ch {
		gw.lastActive = time.Now()

		r.mu.RLock()
		handler := r.handlers[qt.task.Type]
		r.mu.RUnlock()
		if handler == nil {
			alog.Warnf("task %q dropped: handler unregistered (group %s)", qt.task.Type, gw.key)
			continue
		}

		err := handler(context.Background(), qt.task.Payload)
		if err == nil {
			continue
		}

		maxAttempts := qt.task.Options.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = r.cfg.DefaultMaxAttempts
		}
		if qt.attempt >= maxAttempts {
			alog.ErrorWithErr("task "+qt.task.Type+" failed; max attempts reached", err)
			continue
		}

		delay := r.backoff(qt.attempt)
		alog.Warnf("task %q failed (attempt %d/%d), retrying in %s: %v",
			qt.task.Type, qt.attempt, maxAttempts, delay, err)
		qt.attempt++

		r.mu.Lock()
		gw.pendingRetries++
		r.mu.Unlock()

		r.wg.Add(1)
		go func(qt *queuedTask, d time.Duration) {
			defer r.wg.Done()
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				// The read lock is held across the send so Close cannot
				// close the channel mid-send.
				r.mu.RLock()
				if !r.closed && !gw.stopping {
					select {
					case gw.ch <- qt:
					case <-r.stopCh:
					}
				}
				r.mu.RUnlock()
			case <-r.stopCh:
			}
			r.mu.Lock()
			gw.pendingRetries--
			r.mu.Unlock()
		}(qt, delay)
	}
}

func (r *Router) backoff(attempt int) time.Duration {
	d := r.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return d
}

func (r *Router) backgroundLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.cleanupOnce()
			r.runPeriodicOnce()
		}
	}
}

func (r *Router) cleanupOnce() {
	now := time.Now()
	r.mu.Lock()
	for k, expiry := range r.recent {
		if now.After(expiry) {
			delete(r.recent, k)
		}
	}
	for key, gw := range r.groups {
		if gw == nil || gw.stopping {
			continue
		}
		if now.Sub(gw.lastActive) >= r.cfg.GroupIdleTTL && len(gw.ch) == 0 && gw.pendingRetries == 0 {
			gw.stopping = true
			close(gw.ch)
			delete(r.groups, key)
		}
	}
	r.mu.Unlock()
}

func (r *Router) runPeriodicOnce() {
	now := time.Now()
	r.jobMu.Lock()
	defer r.jobMu.Unlock()
	for _, job := range r.jobs {
		if job == nil || job.stopped {
			continue
		}
		if job.lastRun.IsZero() || now.Sub(job.lastRun) >= job.interval {
			_ = r.Dispatch(context.Background(), job.task)
			job.lastRun = now
		}
	}
}
