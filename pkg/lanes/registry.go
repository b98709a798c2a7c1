package lanes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/lanes/internal/observability"
	"github.com/harun/lanes/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	// DefaultLane is the lane used for blank names unless Options.DefaultLane overrides it.
	DefaultLane = "main"
	// AllLanes addresses every lane in Clear and WaitDrained. It is not a valid lane name.
	AllLanes = "*"
)

// Options configures a Registry
type Options struct {
	// DefaultLane is the lane blank names resolve to.
	DefaultLane string
	// WarnAfter applies to submissions that do not set their own TaskOptions.WarnAfter.
	WarnAfter time.Duration
	// DedupTTL bounds how long request IDs are remembered.
	DedupTTL time.Duration
	// Logger overrides the global zerolog logger.
	Logger *zerolog.Logger
}

// Registry owns a set of named lanes and creates them on first use.
type Registry struct {
	lanes       map[string]*Lane
	retired     []*Lane
	disposed    bool
	mu          sync.Mutex
	defaultLane string
	warnAfter   time.Duration
	logger      zerolog.Logger
	dedup       *dedupCache

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a Registry with default options
func New() *Registry {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a Registry
func NewWithOptions(opts Options) *Registry {
	observability.EnsureRegistered()

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	defaultLane := normalizeName(opts.DefaultLane)
	if defaultLane == "" || defaultLane == AllLanes {
		defaultLane = DefaultLane
	}

	return &Registry{
		lanes:         make(map[string]*Lane),
		defaultLane:   defaultLane,
		warnAfter:     opts.WarnAfter,
		logger:        logger,
		dedup:         newDedupCache(context.Background(), opts.DedupTTL),
		eventHandlers: make(map[string][]EventHandler),
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// resolve maps a caller-supplied name to its lane key. Blank names map to the
// default lane; the AllLanes sentinel is returned unchanged.
func (r *Registry) resolve(name string) string {
	key := normalizeName(name)
	if key == "" {
		return r.defaultLane
	}
	return key
}

// Submit enqueues work on the named lane
func (r *Registry) Submit(name string, work Work) error {
	_, err := r.SubmitWithContext(context.Background(), name, work, nil)
	return err
}

// SubmitWithContext enqueues work on the named lane, creating the lane if
// needed, and returns the task ID. ctx contributes values (trace and request
// IDs) to the task; its cancellation does not affect the task.
func (r *Registry) SubmitWithContext(ctx context.Context, name string, work Work, options *TaskOptions) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	key := r.resolve(name)

	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"lanes.submit",
		attribute.String("lane", key),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger)

	reject := func(err error) (string, error) {
		observability.RecordRejected(rejectReason(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug().Str("lane", key).Err(err).Msg("Submission rejected")
		return "", err
	}

	if key == AllLanes {
		return reject(ErrInvalidLane)
	}
	if work == nil {
		return reject(ErrNilWork)
	}

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}
	if opts.WarnAfter == 0 {
		opts.WarnAfter = r.warnAfter
	}
	if opts.RequestID == "" {
		opts.RequestID = tracing.GetRequestID(ctx)
	}

	if opts.RequestID != "" {
		if !r.dedup.Claim(opts.RequestID) {
			err := ErrDuplicateRequest
			if original, ok := r.dedup.Get(opts.RequestID); ok && original != "" {
				err = fmt.Errorf("%w: %s already accepted as %s", ErrDuplicateRequest, opts.RequestID, original)
			}
			return reject(err)
		}
	}

	taskID, err := r.submitToLane(ctx, key, work, &opts)
	if err == nil {
		if opts.RequestID != "" {
			r.dedup.Set(opts.RequestID, taskID)
		}
		return taskID, nil
	}

	if opts.RequestID != "" {
		r.dedup.Release(opts.RequestID)
	}
	// Dispose can win between laneForSubmit and Lane.Submit; report it as such.
	if errors.Is(err, ErrLaneCancelled) && r.Disposed() {
		err = ErrDisposed
	}
	return reject(err)
}

func (r *Registry) submitToLane(ctx context.Context, key string, work Work, opts *TaskOptions) (string, error) {
	lane, err := r.laneForSubmit(key)
	if err != nil {
		return "", err
	}
	return lane.Submit(ctx, work, opts)
}

// laneForSubmit finds or creates the lane for key under the registry lock.
func (r *Registry) laneForSubmit(key string) (*Lane, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return nil, ErrDisposed
	}

	lane, ok := r.lanes[key]
	if !ok {
		lane = newLane(key, r.logger, r.emit)
		r.lanes[key] = lane
		observability.AddActiveLanes(1)
		r.logger.Debug().Str("lane", key).Int("lanes", len(r.lanes)).Msg("Lane created")
	}

	if lane.CancelRequested() {
		return nil, ErrLaneCancelled
	}
	return lane, nil
}

// match snapshots the lanes addressed by name. AllLanes matches every lane.
func (r *Registry) match(name string) []*Lane {
	key := r.resolve(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if key == AllLanes {
		return maps.Values(r.lanes)
	}
	if lane, ok := r.lanes[key]; ok {
		return []*Lane{lane}
	}
	return nil
}

// WaitDrained waits until the named lane (or every lane, for AllLanes) has
// drained. All lanes share one deadline. It returns false on timeout or when
// no lane matches.
func (r *Registry) WaitDrained(name string, timeout time.Duration) bool {
	matched := r.match(name)
	if len(matched) == 0 {
		return false
	}

	deadline := time.Now().Add(timeout)
	for _, lane := range matched {
		if !lane.waitUntil(deadline) {
			r.logger.Debug().
				Str("lane", lane.Name()).
				Dur("timeout", timeout).
				Msg("Timeout waiting for lane to drain")
			return false
		}
	}
	return true
}

// Clear drops pending work from the named lane, or from every lane for
// AllLanes, and returns the number of dropped tasks. Unknown names are a no-op.
func (r *Registry) Clear(name string) int {
	cleared := 0
	for _, lane := range r.match(name) {
		cleared += lane.Clear()
	}
	return cleared
}

// CancelHandle returns the cancellation context of the named lane. For a name
// with no lane it returns a context that is never cancelled. Only the
// AllLanes sentinel is an error.
func (r *Registry) CancelHandle(name string) (context.Context, error) {
	key := r.resolve(name)
	if key == AllLanes {
		return nil, ErrInvalidLane
	}

	r.mu.Lock()
	lane, ok := r.lanes[key]
	r.mu.Unlock()

	if !ok {
		return context.Background(), nil
	}
	return lane.CancelHandle(), nil
}

// Dispose stops accepting work, removes every lane and disposes them outside
// the lock. Running tasks are not interrupted beyond their cancellation
// context. Safe to call repeatedly.
func (r *Registry) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	snapshot := maps.Values(r.lanes)
	r.lanes = make(map[string]*Lane)
	r.retired = append(r.retired, snapshot...)
	r.mu.Unlock()

	for _, lane := range snapshot {
		r.disposeLane(lane)
	}

	observability.AddActiveLanes(-len(snapshot))
	r.dedup.Stop()
	r.dedup.Clear()

	r.logger.Info().Int("lanes", len(snapshot)).Msg("Lane registry disposed")
}

func (r *Registry) disposeLane(lane *Lane) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("lane", lane.Name()).Interface("panic", rec).Msg("Lane teardown panicked")
		}
	}()
	lane.Dispose()
}

// Shutdown disposes the registry and waits for every lane worker to exit or
// for ctx to be done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.Dispose()

	r.mu.Lock()
	retired := slices.Clone(r.retired)
	r.mu.Unlock()

	for _, lane := range retired {
		select {
		case <-lane.Done():
		case <-ctx.Done():
			r.logger.Warn().Str("lane", lane.Name()).Msg("Shutdown interrupted before lane worker exited")
			return ctx.Err()
		}
	}
	return nil
}

// Disposed reports whether Dispose has been called
func (r *Registry) Disposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}

// Names returns the sorted names of all live lanes
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := maps.Keys(r.lanes)
	r.mu.Unlock()

	slices.Sort(names)
	return names
}

// Len returns the number of pending tasks for a lane
func (r *Registry) Len(name string) int {
	total := 0
	for _, lane := range r.match(name) {
		total += lane.Len()
	}
	return total
}

// Stats returns a snapshot of every lane
func (r *Registry) Stats() map[string]LaneStats {
	r.mu.Lock()
	snapshot := maps.Clone(r.lanes)
	r.mu.Unlock()

	stats := make(map[string]LaneStats, len(snapshot))
	for name, lane := range snapshot {
		stats[name] = lane.Stats()
	}
	return stats
}
