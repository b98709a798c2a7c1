package lanes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/lanes/internal/observability"
	"github.com/harun/lanes/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "lanes"

// Work is a unit of work run by a lane. ctx is cancelled when the lane is
// cancelled; long-running work should honor it.
type Work func(ctx context.Context) error

// TaskOptions provides configuration for a single submission
type TaskOptions struct {
	// WarnAfter logs a warning (and calls OnWait) if the task has not started after this long.
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
	// RequestID makes the submission idempotent within the registry's dedup TTL.
	RequestID string
}

// State is the lifecycle state of a lane worker
type State int

const (
	StateRunning State = iota
	StateCancelRequested
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCancelRequested:
		return "cancel_requested"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// LaneStats is a point-in-time view of a lane
type LaneStats struct {
	Queued  int
	Running bool
	State   State
}

// taskRecord tracks a submitted task until it runs or is dropped
type taskRecord struct {
	id         string
	work       Work
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
}

// Lane is a single named serial execution channel.
type Lane struct {
	name   string
	logger zerolog.Logger
	emit   func(Event)

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	pending    []*taskRecord
	running    *taskRecord
	state      State
	drained    chan struct{}
	isDrained  bool
	wake       chan struct{}
	disposeOne sync.Once
	done       chan struct{}
}

// NewLane creates a standalone lane and starts its worker.
func NewLane(name string) *Lane {
	return newLane(name, log.Logger, nil)
}

func newLane(name string, logger zerolog.Logger, emit func(Event)) *Lane {
	observability.EnsureRegistered()

	if emit == nil {
		emit = func(Event) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Lane{
		name:    name,
		logger:  logger,
		emit:    emit,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateRunning,
		drained: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	go l.run()

	l.logger.Debug().Str("lane", name).Msg("Lane started")
	return l
}

// Name returns the lane name
func (l *Lane) Name() string {
	return l.name
}

// Submit enqueues work and returns its task ID. It never waits for the work to run.
func (l *Lane) Submit(ctx context.Context, work Work, options *TaskOptions) (string, error) {
	if work == nil {
		return "", ErrNilWork
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetLane(ctx) != l.name {
		ctx = tracing.WithLane(ctx, l.name)
	}

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	id, _ := gonanoid.New()
	record := &taskRecord{
		id:         l.name + "-" + id,
		work:       work,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
	}

	l.mu.Lock()
	if l.state != StateRunning {
		l.mu.Unlock()
		return "", ErrLaneCancelled
	}
	l.pending = append(l.pending, record)
	queueSize := len(l.pending)
	if l.isDrained {
		l.drained = make(chan struct{})
		l.isDrained = false
	}
	l.mu.Unlock()

	l.notify()

	logger := tracing.LoggerFromContext(ctx, l.logger)
	logger.Debug().
		Str("taskId", record.id).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(l.name, queueSize)

	l.emit(Event{
		Type:   EventEnqueued,
		Lane:   l.name,
		TaskID: record.id,
		Data: map[string]interface{}{
			"queueSize": queueSize,
		},
	})

	if opts.WarnAfter > 0 {
		go l.startWarnTimer(record)
	}

	return record.id, nil
}

// WaitDrained blocks until the lane has no pending or running work, or the
// timeout elapses. A lane that has never drained reports false until it does.
func (l *Lane) WaitDrained(timeout time.Duration) bool {
	return l.waitUntil(time.Now().Add(timeout))
}

func (l *Lane) waitUntil(deadline time.Time) bool {
	l.mu.Lock()
	drained := l.drained
	l.mu.Unlock()

	remaining := time.Until(deadline)
	if remaining <= 0 {
		select {
		case <-drained:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-drained:
		return true
	case <-timer.C:
		return false
	}
}

// Clear discards all pending work that has not started and returns how many
// tasks were dropped. The running task, if any, is left alone.
func (l *Lane) Clear() int {
	l.mu.Lock()
	dropped := l.pending
	l.pending = nil
	if l.running == nil {
		l.markDrainedLocked()
	}
	l.mu.Unlock()

	count := len(dropped)
	observability.RecordQueueCleared(l.name, count)

	if count > 0 {
		l.logger.Info().Str("lane", l.name).Int("cleared", count).Msg("Lane cleared")
	}

	l.emit(Event{
		Type: EventCleared,
		Lane: l.name,
		Data: map[string]interface{}{
			"cleared": count,
		},
	})

	return count
}

// Dispose requests cancellation and drops pending work. It does not wait for
// the running task; use Done to observe worker exit. Safe to call repeatedly.
func (l *Lane) Dispose() {
	l.disposeOne.Do(func() {
		defer func() {
			if rec := recover(); rec != nil {
				l.logger.Error().Str("lane", l.name).Interface("panic", rec).Msg("Lane dispose panicked")
			}
		}()

		l.mu.Lock()
		if l.state == StateRunning {
			l.state = StateCancelRequested
		}
		l.mu.Unlock()

		l.cancel()
		l.Clear()

		l.logger.Debug().Str("lane", l.name).Msg("Lane disposed")
		l.emit(Event{Type: EventDisposed, Lane: l.name})
	})
}

// CancelHandle returns the context cancelled when the lane is cancelled.
func (l *Lane) CancelHandle() context.Context {
	return l.ctx
}

// CancelRequested reports whether the lane stopped accepting work.
func (l *Lane) CancelRequested() bool {
	return l.ctx.Err() != nil
}

// Done is closed once the worker goroutine has exited.
func (l *Lane) Done() <-chan struct{} {
	return l.done
}

// State returns the current lifecycle state
func (l *Lane) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Len returns the number of pending tasks
func (l *Lane) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Running reports whether a task is executing
func (l *Lane) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running != nil
}

// Stats returns a snapshot of the lane
func (l *Lane) Stats() LaneStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LaneStats{
		Queued:  len(l.pending),
		Running: l.running != nil,
		State:   l.state,
	}
}

func (l *Lane) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// markDrainedLocked fires the drained signal. l.mu must be held.
func (l *Lane) markDrainedLocked() {
	if !l.isDrained {
		close(l.drained)
		l.isDrained = true
	}
}

// run is the worker loop
func (l *Lane) run() {
	defer close(l.done)
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error().Str("lane", l.name).Interface("panic", rec).Msg("Lane worker crashed")
		}
		l.Dispose()
		l.finish()
	}()

	for {
		record, ok := l.next()
		if !ok {
			return
		}
		l.execute(record)
	}
}

// next blocks until a task is available or the lane is cancelled.
// Cancellation wins over pending tasks.
func (l *Lane) next() (*taskRecord, bool) {
	for {
		l.mu.Lock()
		if l.ctx.Err() != nil {
			l.mu.Unlock()
			return nil, false
		}
		if len(l.pending) > 0 {
			record := l.pending[0]
			l.pending[0] = nil
			l.pending = l.pending[1:]
			l.running = record
			queueSize := len(l.pending)
			l.mu.Unlock()

			observability.RecordQueueStart(l.name, time.Since(record.enqueuedAt), queueSize)
			return record, true
		}
		l.mu.Unlock()

		select {
		case <-l.wake:
		case <-l.ctx.Done():
			return nil, false
		}
	}
}

// execute runs a task to completion. Failures are logged and discarded.
func (l *Lane) execute(record *taskRecord) {
	taskCtx := tracing.WithTaskID(context.WithoutCancel(record.ctx), record.id)
	taskCtx, span := tracing.StartSpan(
		taskCtx,
		tracerName,
		"lanes.execute_task",
		attribute.String("lane", l.name),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(l.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	logger := tracing.LoggerFromContext(runCtx, l.logger)
	logger.Debug().
		Dur("wait", time.Since(record.enqueuedAt)).
		Msg("Task started")

	startTime := time.Now()

	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = record.work(runCtx)
	})

	duration := time.Since(startTime)

	status := observability.StatusSuccess
	if recovered := pc.Recovered(); recovered != nil {
		status = observability.StatusPanic
		err = recovered.AsError()
		logger.Error().
			Dur("duration", duration).
			Interface("panic", recovered.Value).
			Str("stack", string(recovered.Stack)).
			Msg("Task panicked")
	} else if err != nil && l.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		status = observability.StatusCancelled
		logger.Debug().
			Dur("duration", duration).
			Msg("Task cancelled")
	} else if err != nil {
		status = observability.StatusError
		logger.Error().
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Dur("duration", duration).
			Msg("Task completed")
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	l.mu.Lock()
	queueSize := len(l.pending)
	l.mu.Unlock()

	observability.RecordQueueCompletion(l.name, duration, status, queueSize)

	// Completion handlers run before drain waiters are released.
	l.emit(Event{
		Type:   EventCompleted,
		Lane:   l.name,
		TaskID: record.id,
		Data: map[string]interface{}{
			"duration": duration.Milliseconds(),
			"success":  status == observability.StatusSuccess,
			"status":   status,
		},
	})

	l.mu.Lock()
	l.running = nil
	if len(l.pending) == 0 {
		l.markDrainedLocked()
	}
	l.mu.Unlock()
}

// finish marks the worker as gone and releases drain waiters
func (l *Lane) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = StateDisposed
	l.running = nil
	l.markDrainedLocked()
}

// startWarnTimer warns when a task waits in the queue longer than expected
func (l *Lane) startWarnTimer(record *taskRecord) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		l.mu.Lock()
		queuePos := -1
		for i, r := range l.pending {
			if r == record {
				queuePos = i
				break
			}
		}
		l.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			logger := tracing.LoggerFromContext(record.ctx, l.logger)
			logger.Warn().
				Str("taskId", record.id).
				Dur("wait", wait).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-l.ctx.Done():
		return
	}
}
