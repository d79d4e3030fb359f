package messaging

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/pkg/logger"
	"github.com/studyforge/studyplanner/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// Routes bus events to named handlers with middleware, retries and a
// dead letter queue.
// ══════════════════════════════════════════════════════════════════════════════

// HandlerRegistration describes one handler.
type HandlerRegistration struct {
	Name    string
	Handler shared.EventHandler
	// MaxAttempts counts the first attempt. Zero uses the dispatcher default.
	MaxAttempts int
}

// Middleware wraps handler execution.
type Middleware func(name string, next shared.EventHandler) shared.EventHandler

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	MaxAttempts         int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	DeadLetterQueueSize int
	Logger              *logger.Logger
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxAttempts:         3,
		InitialBackoff:      100 * time.Millisecond,
		MaxBackoff:          5 * time.Second,
		DeadLetterQueueSize: 1000,
	}
}

// Dispatcher subscribes to an EventSubscriber and fans events out to
// registered handlers.
type Dispatcher struct {
	cfg         DispatcherConfig
	log         *logger.Logger
	mu          sync.RWMutex
	handlers    map[shared.EventType][]HandlerRegistration
	middlewares []Middleware
	deadLetterQ *DeadLetterQueue
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.DeadLetterQueueSize <= 0 {
		cfg.DeadLetterQueueSize = def.DeadLetterQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:         cfg,
		log:         cfg.Logger.With(logger.Component("dispatcher")),
		handlers:    make(map[shared.EventType][]HandlerRegistration),
		deadLetterQ: NewDeadLetterQueue(cfg.DeadLetterQueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Register adds a handler for an event type.
func (d *Dispatcher) Register(eventType shared.EventType, reg HandlerRegistration) error {
	if reg.Handler == nil {
		return fmt.Errorf("dispatcher: handler %q is nil", reg.Name)
	}
	if reg.MaxAttempts <= 0 {
		reg.MaxAttempts = d.cfg.MaxAttempts
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], reg)
	return nil
}

// Use appends middleware. The first added runs outermost.
func (d *Dispatcher) Use(mw Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, mw)
}

// Start subscribes the dispatcher to every event type it has handlers for.
func (d *Dispatcher) Start(sub shared.EventSubscriber) error {
	d.mu.RLock()
	types := make([]shared.EventType, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	d.mu.RUnlock()

	for _, t := range types {
		if err := sub.Subscribe(t, d.Dispatch); err != nil {
			return fmt.Errorf("dispatcher: subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Dispatch runs every handler registered for the event's type.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	d.mu.RLock()
	regs := d.handlers[event.EventType()]
	mws := d.middlewares
	d.mu.RUnlock()

	var firstErr error
	for _, reg := range regs {
		if err := d.execute(event, reg, mws); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Dispatcher) execute(event shared.Event, reg HandlerRegistration, mws []Middleware) error {
	handler := reg.Handler
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i](reg.Name, handler)
	}

	attempts := 0
	err := retry.Do(d.ctx, func(context.Context) error {
		attempts++
		return handler(event)
	},
		retry.WithMaxAttempts(reg.MaxAttempts),
		retry.WithInitialDelay(d.cfg.InitialBackoff),
		retry.WithMaxDelay(d.cfg.MaxBackoff),
		retry.WithRetryIf(func(err error) bool { return !retry.IsPermanent(err) }),
	)
	if err == nil {
		return nil
	}

	d.deadLetterQ.Add(DeadLetterEntry{
		Event:       event,
		HandlerName: reg.Name,
		Error:       err,
		Attempts:    attempts,
		FailedAt:    time.Now(),
	})
	d.log.Error("handler failed",
		logger.String("handler", reg.Name),
		logger.String("event_type", string(event.EventType())),
		logger.Int("attempts", attempts),
		logger.Err(err),
	)
	return fmt.Errorf("handler %s failed after %d attempts: %w", reg.Name, attempts, err)
}

// Stop aborts pending retries.
func (d *Dispatcher) Stop() {
	d.cancel()
}

// DeadLetterQueue returns the dead letter queue.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.deadLetterQ
}

// RecoveryMiddleware turns handler panics into errors.
func RecoveryMiddleware(log *logger.Logger) Middleware {
	return func(name string, next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic",
						logger.String("handler", name),
						logger.Any("panic", r),
						logger.String("stack", string(debug.Stack())),
					)
					err = retry.Permanent(fmt.Errorf("%w: %v", ErrHandlerPanic, r))
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs each handler run at debug level.
func LoggingMiddleware(log *logger.Logger) Middleware {
	return func(name string, next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			log.Debug("handler executed",
				logger.String("handler", name),
				logger.String("event_type", string(event.EventType())),
				logger.Latency(time.Since(start)),
				logger.Bool("ok", err == nil),
			)
			return err
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is an event a handler could not process.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       error
	Attempts    int
	FailedAt    time.Time
}

// DeadLetterQueue keeps the most recent failures, oldest dropped first.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a queue.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add appends an entry.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of all entries.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetterEntry(nil), q.entries...)
}

// Size returns the number of entries.
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
