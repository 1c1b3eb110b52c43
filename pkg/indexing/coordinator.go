// Package indexing provides the single-flight coordination of index
// rebuilds: at most one rebuild per named operation runs concurrently, a
// minimum interval is enforced between runs, and a test-mode gate
// suppresses automatic triggers during deterministic tests.
package indexing

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/arcledger/arcledger/pkg/ledgererr"
)

// Well-known operation names registered by the default index consumers.
const (
	OpMetadataIndexRebuild      = "METADATA_INDEX_REBUILD"
	OpEncryptedBlocksCacheRebuild = "ENCRYPTED_BLOCKS_CACHE_REBUILD"
	OpRecipientIndexRebuild     = "RECIPIENT_INDEX_REBUILD"
)

// Status is the outcome of a coordinated rebuild request.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Result is the outcome of a single Coordinate call.
type Result struct {
	Status     Status
	DurationMS int64
	Message    string
}

// Request parameterizes a single coordinated rebuild call.
type Request struct {
	Operation    string
	MinInterval  time.Duration
	CanWait      bool
	Force        bool
	ForceRebuild bool
	BlockNumbers []uint64
}

// Handler performs the actual rebuild work for a named operation.
type Handler func(ctx context.Context, req Request) error

// Future is the async handle returned by Coordinate. Callers that don't
// need the result can discard it; callers that do call Wait.
type Future struct {
	done   chan struct{}
	result Result
}

// Wait blocks until the coordinated call completes and returns its result.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ledgererr.New(ledgererr.Cancelled, "wait for coordinated result cancelled")
	}
}

type opState struct {
	mu      sync.Mutex
	running bool
	lastRun time.Time
	waiters []chan Result
}

// Coordinator is an explicitly constructed, explicitly shut-down service,
// never a process-wide singleton. Inject it into components that need to
// trigger or observe index rebuilds.
type Coordinator struct {
	mu       sync.Mutex
	handlers map[string]Handler
	states   map[string]*opState
	testMode bool
	logger   *log.Logger
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithTestMode starts the coordinator with the test-mode gate enabled.
func WithTestMode(enabled bool) Option {
	return func(c *Coordinator) { c.testMode = enabled }
}

// WithLogger sets a custom logger for the coordinator.
func WithLogger(logger *log.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// New constructs a Coordinator. Call Shutdown when the host is done with it.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		handlers: make(map[string]Handler),
		states:   make(map[string]*opState),
		logger:   log.New(log.Writer(), "[indexing] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Shutdown releases any resources held by the coordinator. It does not
// cancel in-flight rebuilds; callers should cancel their own contexts first.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = make(map[string]Handler)
}

// Register binds a handler to an operation name.
func (c *Coordinator) Register(operation string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[operation] = handler
}

// SetTestMode toggles the test-mode gate at runtime.
func (c *Coordinator) SetTestMode(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.testMode = enabled
}

func (c *Coordinator) stateFor(operation string) *opState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[operation]
	if !ok {
		s = &opState{}
		c.states[operation] = s
	}
	return s
}

func (c *Coordinator) handlerFor(operation string) (Handler, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handlers[operation]
	return h, ok
}

func (c *Coordinator) isTestMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.testMode
}

// Coordinate requests a rebuild for req.Operation, returning immediately
// with a Future. At most one rebuild per operation name runs concurrently;
// a call arriving within MinInterval of the last successful run is
// Skipped unless Force is set; test mode suppresses execution unless
// Force is set. A call to an unregistered operation logs a warning and
// completes with StatusCompleted without running anything: no handler is
// invoked and no rebuild work is done for it.
func (c *Coordinator) Coordinate(ctx context.Context, req Request) *Future {
	future := &Future{done: make(chan struct{})}

	handler, registered := c.handlerFor(req.Operation)
	if !registered {
		c.logger.Printf("warning: operation %q has no registered handler; nothing will run", req.Operation)
		go c.runInline(ctx, req, future)
		return future
	}

	if c.isTestMode() && !req.Force {
		c.complete(future, Result{Status: StatusSkipped, Message: "test mode: automatic triggers suppressed"})
		return future
	}

	state := c.stateFor(req.Operation)
	state.mu.Lock()

	if !req.Force && !state.lastRun.IsZero() && time.Since(state.lastRun) < req.MinInterval {
		state.mu.Unlock()
		c.complete(future, Result{Status: StatusSkipped, Message: "Recently executed"})
		return future
	}

	if state.running {
		if !req.CanWait {
			state.mu.Unlock()
			c.complete(future, Result{Status: StatusSkipped, Message: "Recently executed: concurrent execution in progress"})
			return future
		}
		waitCh := make(chan Result, 1)
		state.waiters = append(state.waiters, waitCh)
		state.mu.Unlock()

		go func() {
			select {
			case res := <-waitCh:
				c.complete(future, res)
			case <-ctx.Done():
				c.complete(future, Result{Status: StatusSkipped, Message: "wait cancelled"})
			}
		}()
		return future
	}

	state.running = true
	state.mu.Unlock()

	go c.run(ctx, req, handler, state, future)
	return future
}

func (c *Coordinator) run(ctx context.Context, req Request, handler Handler, state *opState, future *Future) {
	start := time.Now()
	err := handler(ctx, req)
	duration := time.Since(start)

	result := Result{DurationMS: duration.Milliseconds()}
	if err != nil {
		result.Status = StatusFailed
		result.Message = err.Error()
	} else {
		result.Status = StatusCompleted
		result.Message = fmt.Sprintf("rebuild of %q completed", req.Operation)
	}

	state.mu.Lock()
	state.running = false
	if result.Status == StatusCompleted {
		state.lastRun = time.Now()
	}
	waiters := state.waiters
	state.waiters = nil
	state.mu.Unlock()

	for _, w := range waiters {
		w <- result
	}
	c.complete(future, result)
}

func (c *Coordinator) runInline(ctx context.Context, req Request, future *Future) {
	start := time.Now()
	result := Result{Status: StatusCompleted, Message: "no registered handler: nothing was run", DurationMS: time.Since(start).Milliseconds()}
	c.complete(future, result)
}

func (c *Coordinator) complete(future *Future, result Result) {
	future.result = result
	close(future.done)
}

// EnqueueUpdate implements chain.IndexEnqueuer: it fires an incremental
// metadata index rebuild for the given block numbers without waiting for
// the result.
func (c *Coordinator) EnqueueUpdate(ctx context.Context, blockNumbers []uint64) {
	c.Coordinate(ctx, Request{
		Operation:    OpMetadataIndexRebuild,
		MinInterval:  0,
		CanWait:      false,
		Force:        false,
		BlockNumbers: blockNumbers,
	})
}
