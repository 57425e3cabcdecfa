package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/psyserve/internal/config"
	"github.com/roach88/psyserve/internal/core"
	"github.com/roach88/psyserve/internal/store"
	"github.com/roach88/psyserve/internal/strategy"
)

// ErrStopped is returned by Submit after the engine stopped.
var ErrStopped = errors.New("engine stopped")

// Engine is the message dispatcher.
//
// Thread-safety model:
//   - Submit(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Handle*(): safe from any goroutine; serialized with Run by mu
type Engine struct {
	mu sync.Mutex

	store       *store.Store
	ids         IDGenerator
	logger      *slog.Logger
	configs     *config.Cache
	registry    *strategy.Registry
	metrics     *metrics
	strictTells bool

	session *Session
	queue   *requestQueue
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithIDGenerator sets the experiment id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithStrictTells rejects a tell that does not answer an outstanding ask.
// An experiment's own strict_tells setting takes precedence.
func WithStrictTells(strict bool) Option {
	return func(e *Engine) {
		e.strictTells = strict
	}
}

// WithModelRegistry sets the registry used to build strategy models.
func WithModelRegistry(r *strategy.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithConfigCache shares a parsed-config cache with other components.
func WithConfigCache(c *config.Cache) Option {
	return func(e *Engine) {
		e.configs = c
	}
}

// WithMetricsRegisterer registers the engine's collectors on reg instead
// of the default Prometheus registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.metrics = newMetrics(reg)
	}
}

// New creates an Engine backed by the given store.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
		queue:  newRequestQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.configs == nil {
		e.configs = config.NewCache()
	}
	if e.registry == nil {
		e.registry = strategy.NewRegistry()
	}
	if e.metrics == nil {
		e.metrics = sharedMetrics()
	}
	return e
}

// Handle routes a request the way a connection does: requests carrying a
// version go to HandleVersioned, others to HandleUnversioned.
func (e *Engine) Handle(ctx context.Context, req core.Request) (core.Response, error) {
	if req.Version != "" {
		return e.HandleVersioned(ctx, req)
	}
	return e.HandleUnversioned(ctx, req)
}

// HandleVersioned handles a request that names its protocol version.
// Unknown versions are rejected before any side effect.
func (e *Engine) HandleVersioned(ctx context.Context, req core.Request) (core.Response, error) {
	if !slices.Contains(SupportedVersions, req.Version) {
		err := core.NewUnsupportedVersionError(req.Version, SupportedVersions)
		e.metrics.observe(req.Type, time.Now(), err)
		return nil, err
	}
	return e.dispatch(ctx, req)
}

// HandleUnversioned handles a request under the latest protocol version.
func (e *Engine) HandleUnversioned(ctx context.Context, req core.Request) (core.Response, error) {
	return e.dispatch(ctx, req)
}

func (e *Engine) dispatch(ctx context.Context, req core.Request) (resp core.Response, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	defer func() {
		e.metrics.observe(req.Type, start, err)
		if err != nil {
			e.logFailure(req, err)
		}
	}()

	switch req.Type {
	case core.MessageSetup:
		return e.handleSetup(ctx, req)
	case core.MessageAsk:
		return e.handleAsk(ctx)
	case core.MessageTell:
		return e.handleTell(ctx, req)
	case core.MessageResume:
		return e.handleResume(ctx, req)
	case core.MessageExit:
		return e.handleExit(ctx)
	case core.MessageInfo:
		return e.handleInfo(ctx)
	case core.MessageGetConfig:
		return e.handleGetConfig()
	case core.MessageCanModel:
		return e.handleCanModel()
	case core.MessageQuery:
		return e.handleQuery(ctx, req)
	case "":
		return nil, core.NewProtocolError("request has no type")
	default:
		return nil, core.NewProtocolError("unknown message type %q", req.Type)
	}
}

// logFailure logs a failed request. A store failure of the active
// experiment also ends the session, since the trial store is the only
// record of what happened.
func (e *Engine) logFailure(req core.Request, err error) {
	attrs := []any{"type", req.Type, "error", err}
	if e.session != nil {
		attrs = append(attrs, "experiment", e.session.ExperimentID)
	}

	if e.endsSession(err) {
		e.logger.Error("store failure, ending session", attrs...)
		e.session = nil
		return
	}
	e.logger.Warn("request rejected", attrs...)
}

// endsSession reports whether err is a store error raised for the active
// experiment. Failures while creating or resuming another experiment leave
// the session alone.
func (e *Engine) endsSession(err error) bool {
	var ce *core.Error
	if e.session == nil || !errors.As(err, &ce) || ce.Code != core.ErrCodeStore {
		return false
	}
	return ce.ExperimentID == e.session.ExperimentID
}

// Status reports the active session, if any.
func (e *Engine) Status() (InfoReply, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return InfoReply{}, false
	}
	return e.info(), true
}

// Submit enqueues a request for the Run loop and waits for its reply.
// Thread-safe: may be called from any goroutine.
func (e *Engine) Submit(ctx context.Context, req core.Request) (core.Response, error) {
	j := job{ctx: ctx, req: req, reply: make(chan result, 1)}
	if !e.queue.Enqueue(j) {
		return nil, ErrStopped
	}

	select {
	case r := <-j.reply:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run starts the single-writer request loop.
// Blocks until ctx is cancelled or Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		if j, ok := e.queue.TryDequeue(); ok {
			e.process(j)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.failPending(e.queue.Close())
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes when the queue is closed.
			if e.stopped() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the request queue, which makes Run return.
func (e *Engine) Stop() {
	e.failPending(e.queue.Close())
}

func (e *Engine) stopped() bool {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	return e.queue.closed
}

func (e *Engine) process(j job) {
	// A submitter that gave up is not answered, and its request is not
	// applied.
	if err := j.ctx.Err(); err != nil {
		j.reply <- result{err: err}
		return
	}
	resp, err := e.Handle(j.ctx, j.req)
	j.reply <- result{resp: resp, err: err}
}

func (e *Engine) failPending(jobs []job) {
	for _, j := range jobs {
		j.reply <- result{err: ErrStopped}
	}
}
