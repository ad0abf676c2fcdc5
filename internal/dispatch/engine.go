package dispatch

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberlink/emberlink/internal/classify"
	"github.com/emberlink/emberlink/internal/dedup"
	"github.com/emberlink/emberlink/internal/hub"
	"github.com/emberlink/emberlink/internal/monitoring"
	"github.com/emberlink/emberlink/internal/push"
	"github.com/emberlink/emberlink/internal/registry"
)

// Logger is the minimal logging interface used by the engine.
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

// Recipients is the slice of the device registry the engine needs.
type Recipients interface {
	ResolveRecipients(householdID string) []registry.Registration
	Get(id string) (*registry.Registration, error)
	Unregister(ctx context.Context, id string) error
}

// Deliverer sends one notification with retries and reports the result.
type Deliverer interface {
	Deliver(ctx context.Context, token string, payload push.Payload) push.Result
}

// Broadcaster pushes notices onto the app event feed.
type Broadcaster interface {
	Broadcast(v any)
}

// Metrics records dispatch observability data. Implementations must not
// block; a nil Metrics disables recording.
type Metrics interface {
	WriteDispatchOutcome(entityID, category, outcome string, recipients int)
	WriteDeliveryAttempt(deviceID, result string, attempts int, latency time.Duration)
	WriteQueueDepth(depth, capacity int)
}

// Options configures the engine.
type Options struct {
	HouseholdID   string
	HouseholdName string

	// QueueSize bounds the intake queue; a full queue backpressures
	// the hub subscription instead of dropping events.
	QueueSize int

	// Workers is the number of shard workers. Events shard by entity
	// id, preserving per-entity order.
	Workers int

	// EventDedupSize bounds the duplicate event id window.
	EventDedupSize int

	// SweepInterval paces the overflow flush and cooldown prune.
	SweepInterval time.Duration

	// ShutdownGrace bounds the drain of in-flight work on Stop.
	ShutdownGrace time.Duration
}

// Engine consumes the hub event stream and drives classification,
// rate limiting, recipient resolution and delivery.
type Engine struct {
	opts       Options
	monitor    *monitoring.Store
	recipients Recipients
	limiter    *dedup.Limiter
	sender     Deliverer
	outcomes   OutcomeRepository

	logger      Logger
	broadcaster Broadcaster
	metrics     Metrics

	intake chan hub.StateChangeEvent
	shards []chan hub.StateChangeEvent

	procWG sync.WaitGroup
	auxWG  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	closeMu  sync.Mutex
	closed   bool
	stopping chan struct{}

	// now is replaceable in tests.
	now func() time.Time
}

// defaultSweepInterval paces overflow flushes when unset.
const defaultSweepInterval = time.Minute

// New creates an engine. Call Start before offering events.
func New(opts Options, monitor *monitoring.Store, recipients Recipients,
	limiter *dedup.Limiter, sender Deliverer, outcomes OutcomeRepository) *Engine {
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}

	return &Engine{
		opts:       opts,
		monitor:    monitor,
		recipients: recipients,
		limiter:    limiter,
		sender:     sender,
		outcomes:   outcomes,
		logger:     noopLogger{},
		intake:     make(chan hub.StateChangeEvent, opts.QueueSize),
		stopping:   make(chan struct{}),
		now:        time.Now,
	}
}

// SetLogger replaces the engine's logger.
func (e *Engine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetBroadcaster wires the app event feed.
func (e *Engine) SetBroadcaster(b Broadcaster) { e.broadcaster = b }

// SetMetrics wires outcome metrics recording.
func (e *Engine) SetMetrics(m Metrics) { e.metrics = m }

// Start launches the intake router, shard workers and the overflow
// sweep. The engine runs until Stop.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.shards = make([]chan hub.StateChangeEvent, e.opts.Workers)
	for i := range e.shards {
		e.shards[i] = make(chan hub.StateChangeEvent, e.opts.QueueSize)
	}

	e.procWG.Add(1)
	go e.route()

	for i := range e.shards {
		e.procWG.Add(1)
		go e.work(e.shards[i])
	}

	e.auxWG.Add(1)
	go e.sweep()

	e.logger.Info("dispatch engine started",
		"workers", e.opts.Workers,
		"queue_size", e.opts.QueueSize)
}

// Offer hands one event to the engine, blocking while the intake queue
// is full so backpressure reaches the hub subscription. Returns
// ErrStopped once Stop begins, or the context error if ctx ends first.
func (e *Engine) Offer(ctx context.Context, ev hub.StateChangeEvent) error {
	e.closeMu.Lock()
	closed := e.closed
	e.closeMu.Unlock()
	if closed {
		return ErrStopped
	}

	select {
	case e.intake <- ev:
		return nil
	case <-e.stopping:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth returns the current intake backlog.
func (e *Engine) QueueDepth() int { return len(e.intake) }

// OverflowBacklog returns how many devices currently hold suppressed
// events awaiting an aggregated notification.
func (e *Engine) OverflowBacklog() int {
	return len(e.limiter.PendingOverflow())
}

// Stop drains in-flight work up to the shutdown grace period, then
// cancels whatever remains. Safe to call concurrently with Offer: the
// intake channel is never closed, offers blocked on a full queue are
// released with ErrStopped, and the router forwards whatever was
// buffered before exiting.
func (e *Engine) Stop() {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	close(e.stopping)
	e.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.procWG.Wait()
		close(done)
	}()

	grace := e.opts.ShutdownGrace
	if grace <= 0 {
		grace = time.Second
	}

	select {
	case <-done:
	case <-time.After(grace):
		e.logger.Warn("shutdown grace expired, abandoning in-flight deliveries")
	}

	if e.cancel != nil {
		e.cancel()
	}
	<-done
	e.auxWG.Wait()
	e.logger.Info("dispatch engine stopped")
}

// route consumes intake, drops duplicate event ids, and forwards each
// event to its entity's shard so per-entity order is preserved.
func (e *Engine) route() {
	defer e.procWG.Done()
	defer func() {
		for _, shard := range e.shards {
			close(shard)
		}
	}()

	seen := newEventLRU(e.opts.EventDedupSize)
	for {
		select {
		case <-e.stopping:
			// Forward what is already buffered, then shut the shards.
			for {
				select {
				case ev := <-e.intake:
					e.forward(seen, ev)
				default:
					return
				}
			}
		case ev := <-e.intake:
			e.forward(seen, ev)
		}
	}
}

// forward drops duplicate event ids and hands the event to its shard.
func (e *Engine) forward(seen *eventLRU, ev hub.StateChangeEvent) {
	if seen.Seen(ev.EventID) {
		e.logger.Debug("duplicate event dropped", "event_id", ev.EventID)
		return
	}
	e.shards[e.shardFor(ev.Entity.EntityID())] <- ev
}

// shardFor maps an entity id onto a worker index.
func (e *Engine) shardFor(entityID string) int {
	h := fnv.New32a()
	h.Write([]byte(entityID)) //nolint:errcheck // fnv never fails
	return int(h.Sum32() % uint32(len(e.shards)))
}

// work processes one shard's events sequentially.
func (e *Engine) work(shard <-chan hub.StateChangeEvent) {
	defer e.procWG.Done()
	for ev := range shard {
		e.process(ev)
	}
}

// process walks one event through classification, rate limiting,
// recipient resolution and fan-out delivery.
func (e *Engine) process(ev hub.StateChangeEvent) {
	entityID := ev.Entity.EntityID()

	verdict := classify.Classify(ev, e.monitor.Current())
	switch verdict.Level {
	case classify.LevelNone:
		e.logger.Debug("event rejected",
			"event_id", ev.EventID, "entity_id", entityID, "new_state", ev.NewState)
		return
	case classify.LevelWarning:
		e.logger.Debug("warning event",
			"event_id", ev.EventID, "entity_id", entityID, "category", verdict.Category)
		e.broadcast(Notice{
			Type:      NoticeWarningEvent,
			EventID:   ev.EventID,
			EntityID:  entityID,
			Category:  verdict.Category,
			Level:     string(classify.LevelWarning),
			State:     ev.NewState,
			Timestamp: ev.Timestamp,
		})
		return
	}

	now := e.now()
	if !e.limiter.ShouldDispatch(entityID, ev.NewState, now) {
		e.logger.Debug("event suppressed by cooldown",
			"event_id", ev.EventID, "entity_id", entityID, "new_state", ev.NewState)
		return
	}

	recipients := e.recipients.ResolveRecipients(e.opts.HouseholdID)
	if len(recipients) == 0 {
		e.logger.Warn("critical event has no recipients",
			"event_id", ev.EventID, "entity_id", entityID, "category", verdict.Category)
		e.finish(ev, verdict.Category, EventNoRecipients, 0)
		return
	}

	payload := buildPayload(ev, verdict.Category, e.opts.HouseholdName)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		attempted int
	)
	for i := range recipients {
		rec := recipients[i]
		if !e.limiter.AllowDevice(rec.ID) {
			e.limiter.AddOverflow(rec.ID, verdict.Category, now)
			e.logger.Debug("device over rate cap, queued for aggregation",
				"event_id", ev.EventID, "device_id", rec.ID)
			continue
		}

		attempted++
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.deliverTo(ev, rec, payload) {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	outcome := aggregateOutcome(attempted, delivered)
	e.finish(ev, verdict.Category, outcome, attempted)
}

// deliverTo sends one notification to one device, records the result,
// and self-heals the registry on permanent token failure. Reports
// whether delivery succeeded.
func (e *Engine) deliverTo(ev hub.StateChangeEvent, rec registry.Registration, payload push.Payload) bool {
	start := time.Now()
	result := e.sender.Deliver(e.ctx, rec.PushToken, payload)

	errText := ""
	if result.Err != nil {
		errText = result.Err.Error()
	}
	e.recordAttempt(&AttemptRecord{
		EventID:   ev.EventID,
		EntityID:  ev.Entity.EntityID(),
		Category:  payload.Category,
		DeviceID:  rec.ID,
		Attempts:  result.Attempts,
		Outcome:   string(result.Outcome),
		LastError: errText,
	})
	if e.metrics != nil {
		e.metrics.WriteDeliveryAttempt(rec.ID, string(result.Outcome), result.Attempts, time.Since(start))
	}

	switch result.Outcome {
	case push.OutcomeDelivered:
		return true
	case push.OutcomePermanent:
		e.logger.Info("push token rejected, unregistering device",
			"device_id", rec.ID, "error", errText)
		if err := e.recipients.Unregister(e.ctx, rec.ID); err != nil {
			e.logger.Error("self-heal unregister failed", "device_id", rec.ID, "error", err)
		}
	default:
		e.logger.Warn("delivery abandoned after retries",
			"event_id", ev.EventID, "device_id", rec.ID,
			"attempts", result.Attempts, "error", errText)
	}
	return false
}

// finish logs, broadcasts and measures the event's terminal outcome.
func (e *Engine) finish(ev hub.StateChangeEvent, category string, outcome EventOutcome, recipients int) {
	e.logger.Info("critical event dispatched",
		"event_id", ev.EventID,
		"entity_id", ev.Entity.EntityID(),
		"category", category,
		"outcome", string(outcome),
		"recipients", recipients)

	if e.metrics != nil {
		e.metrics.WriteDispatchOutcome(ev.Entity.EntityID(), category, string(outcome), recipients)
		e.metrics.WriteQueueDepth(len(e.intake), e.opts.QueueSize)
	}

	e.broadcast(Notice{
		Type:       NoticeCriticalDispatch,
		EventID:    ev.EventID,
		EntityID:   ev.Entity.EntityID(),
		Category:   category,
		Level:      string(classify.LevelCritical),
		State:      ev.NewState,
		Outcome:    string(outcome),
		Recipients: recipients,
		Timestamp:  ev.Timestamp,
	})
}

// sweep periodically flushes aggregated overflow notifications and
// prunes expired cooldown records.
func (e *Engine) sweep() {
	defer e.auxWG.Done()

	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.flushOverflow()
			e.limiter.Prune(e.now())
		}
	}
}

// flushOverflow delivers one aggregated notification per device whose
// rate window has reopened.
func (e *Engine) flushOverflow() {
	for _, summary := range e.limiter.CollectOverflow() {
		reg, err := e.recipients.Get(summary.DeviceID)
		if err != nil {
			// Device unregistered while capped; its backlog dies with it.
			e.logger.Debug("overflow recipient gone", "device_id", summary.DeviceID)
			continue
		}

		eventID := uuid.NewString()
		payload := buildOverflowPayload(eventID, summary, e.opts.HouseholdName)
		result := e.sender.Deliver(e.ctx, reg.PushToken, payload)

		errText := ""
		if result.Err != nil {
			errText = result.Err.Error()
		}
		e.recordAttempt(&AttemptRecord{
			EventID:   eventID,
			Category:  payload.Category,
			DeviceID:  reg.ID,
			Attempts:  result.Attempts,
			Outcome:   string(result.Outcome),
			LastError: errText,
		})

		e.logger.Info("overflow notification dispatched",
			"device_id", reg.ID,
			"suppressed_events", summary.Events,
			"outcome", string(result.Outcome))
		e.broadcast(Notice{
			Type:      NoticeOverflow,
			EventID:   eventID,
			Category:  payload.Category,
			Outcome:   string(result.Outcome),
			Timestamp: summary.Since,
		})
	}
}

// recordAttempt persists one outcome row; failures are logged, never
// allowed to disturb dispatch.
func (e *Engine) recordAttempt(rec *AttemptRecord) {
	if e.outcomes == nil {
		return
	}
	if err := e.outcomes.RecordAttempt(e.ctx, rec); err != nil {
		e.logger.Error("recording delivery outcome failed",
			"event_id", rec.EventID, "device_id", rec.DeviceID, "error", err)
	}
}

// broadcast publishes a notice when a broadcaster is wired.
func (e *Engine) broadcast(n Notice) {
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(n)
	}
}

// aggregateOutcome folds per-device results into the event outcome.
func aggregateOutcome(attempted, delivered int) EventOutcome {
	switch {
	case attempted == 0:
		return EventRateCapped
	case delivered == attempted:
		return EventDelivered
	case delivered > 0:
		return EventPartiallyDelivered
	default:
		return EventAbandoned
	}
}
