// Package dispatch routes decoded gateway events to enabled modules' handlers.
// Routing is permission-aware: a module only ever sees events whose required
// permission it declared, and handler failures never propagate past the
// module boundary.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Breadcord/Breadcord/core/entry"
	"github.com/Breadcord/Breadcord/core/errors"
	"github.com/Breadcord/Breadcord/core/gateway"
	"github.com/Breadcord/Breadcord/core/logger"
	"github.com/Breadcord/Breadcord/core/metrics"
	"github.com/Breadcord/Breadcord/core/permissions"
)

// Subscription pairs an event category with a module handler.
type Subscription struct {
	Category string
	Handler  entry.Handler
}

// registration is one module's dispatch state.
type registration struct {
	moduleID string
	grant    permissions.Grant
	// handlers per category, in the order the module subscribed.
	handlers map[string][]entry.Handler
	// order preserves module registration order for deterministic delivery.
	order int
}

// Dispatcher fans gateway events out to registered modules. Events are
// processed by a single goroutine in arrival order; modules receive each
// event in their registration order.
type Dispatcher struct {
	mu      sync.RWMutex
	regs    map[string]*registration
	nextOrd int

	queue   chan gateway.Event
	timeout time.Duration
	done    chan struct{}
	once    sync.Once
}

// New creates a Dispatcher. queueSize bounds the number of events buffered
// ahead of processing; handlerTimeout bounds each handler invocation.
func New(queueSize int, handlerTimeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		regs:    make(map[string]*registration),
		queue:   make(chan gateway.Event, queueSize),
		timeout: handlerTimeout,
		done:    make(chan struct{}),
	}
}

// Register adds a module's subscriptions under its permission grant.
// Called by the lifecycle manager when a module becomes enabled.
func (d *Dispatcher) Register(moduleID string, grant permissions.Grant, subs []Subscription) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.regs[moduleID]; ok {
		return errors.Wrap(errors.ErrAlreadyExists, fmt.Sprintf("module %q is already registered", moduleID))
	}
	reg := &registration{
		moduleID: moduleID,
		grant:    grant,
		handlers: make(map[string][]entry.Handler),
		order:    d.nextOrd,
	}
	d.nextOrd++
	for _, sub := range subs {
		reg.handlers[sub.Category] = append(reg.handlers[sub.Category], sub.Handler)
	}
	d.regs[moduleID] = reg
	return nil
}

// Unregister removes a module's subscriptions. Events already queued are
// still delivered to the remaining modules only.
func (d *Dispatcher) Unregister(moduleID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.regs, moduleID)
}

// Registered reports whether a module currently receives events.
func (d *Dispatcher) Registered(moduleID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.regs[moduleID]
	return ok
}

// SetHandlerTimeout replaces the per-handler timeout, taking effect for
// subsequent invocations. Used when the host configuration is reloaded.
func (d *Dispatcher) SetHandlerTimeout(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeout = timeout
}

func (d *Dispatcher) handlerTimeout() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.timeout
}

// Enqueue queues an event for dispatch without blocking the caller. When the
// queue is full the event is dropped and counted; the gateway's read loop is
// never stalled by slow module handlers.
func (d *Dispatcher) Enqueue(ctx context.Context, ev gateway.Event) {
	select {
	case <-d.done:
		return
	default:
	}
	select {
	case d.queue <- ev:
	default:
		metrics.EventDispatchCounter.WithLabelValues("", ev.Category, "dropped").Inc()
		logger.Warn(ctx, "Dispatch queue full, dropping event",
			zap.String("category", ev.Category))
	}
}

// Run processes queued events until the context is cancelled or Close is
// called. Intended to run as a dedicated goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case ev := <-d.queue:
			d.dispatch(ctx, ev)
		}
	}
}

// Close stops the dispatcher. Queued events are discarded.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.done) })
}

// dispatch delivers one event to every registered module holding the
// required permission, in module registration order.
func (d *Dispatcher) dispatch(ctx context.Context, ev gateway.Event) {
	d.mu.RLock()
	ordered := make([]*registration, 0, len(d.regs))
	for _, reg := range d.regs {
		ordered = append(ordered, reg)
	}
	d.mu.RUnlock()
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })

	for _, reg := range ordered {
		if ev.RequiredPermission != "" && !reg.grant.Has(ev.RequiredPermission) {
			continue
		}
		for _, h := range reg.handlers[ev.Category] {
			d.invoke(ctx, reg.moduleID, ev, h)
		}
	}
}

// invoke runs a single handler with its own timeout and panic containment.
// One module's failure never affects delivery to the others. The handler runs
// on its own goroutine so a handler that ignores its context cannot stall the
// dispatch loop: on timeout the invocation is counted as failed and dispatch
// moves on, leaving the stray goroutine to finish in the background.
func (d *Dispatcher) invoke(ctx context.Context, moduleID string, ev gateway.Event, h entry.Handler) {
	hctx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout := d.handlerTimeout(); timeout > 0 {
		hctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	start := time.Now()
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		result <- h(hctx, ev)
	}()

	var err error
	select {
	case err = <-result:
	case <-hctx.Done():
		err = fmt.Errorf("handler did not return in time: %w", hctx.Err())
	}
	metrics.HandlerDuration.WithLabelValues(moduleID, ev.Category).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.EventDispatchCounter.WithLabelValues(moduleID, ev.Category, "failed").Inc()
		logger.Error(ctx, "Module handler failed",
			zap.String("module", moduleID),
			zap.String("category", ev.Category),
			zap.Error(err))
		return
	}
	metrics.EventDispatchCounter.WithLabelValues(moduleID, ev.Category, "success").Inc()
}
