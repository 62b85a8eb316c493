package tangguh

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// OperationType drives replay priority: deletes drain before updates, which
// drain before creates.
type OperationType string

const (
	OpCreate OperationType = "CREATE"
	OpUpdate OperationType = "UPDATE"
	OpDelete OperationType = "DELETE"
)

// ReplayPriority returns the queue priority for the type.
func (t OperationType) ReplayPriority() int {
	switch t {
	case OpDelete:
		return 3
	case OpUpdate:
		return 2
	case OpCreate:
		return 1
	default:
		return 0
	}
}

// defaultMethod maps the operation type to its HTTP verb.
func (t OperationType) defaultMethod() string {
	switch t {
	case OpCreate:
		return http.MethodPost
	case OpUpdate:
		return http.MethodPut
	case OpDelete:
		return http.MethodDelete
	default:
		return http.MethodPost
	}
}

// QueuedOperation is a persisted pending mutation. The idempotency key is
// generated once at enqueue and reused verbatim on every replay, so the
// server applies the mutation at most once no matter how many times the
// client retries.
type QueuedOperation struct {
	ID             string          `json:"id"`
	Type           OperationType   `json:"type"`
	Endpoint       string          `json:"endpoint"`
	Method         string          `json:"method"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Query          url.Values      `json:"query,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
	RetryCount     int             `json:"retry_count"`
	LastError      string          `json:"last_error,omitempty"`
	Priority       int             `json:"priority"`
	// EntityType/EntityID identify the affected entity for conflict-aware
	// replay strategies layered on top; the queue itself only stores them.
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
}

// EnqueueInput describes a mutation to defer.
type EnqueueInput struct {
	Type     OperationType
	Endpoint string
	// Method overrides the verb derived from Type.
	Method  string
	Payload any
	Query   url.Values
	// IdempotencyKey overrides the generated key, letting callers carry a
	// key minted before going offline.
	IdempotencyKey string
	EntityType     string
	EntityID       string
}

// Replayer executes one queued operation against the remote endpoint and
// returns nil on success or the classified error. The orchestrating client
// implements it.
type Replayer interface {
	Replay(ctx context.Context, op QueuedOperation) *CallError
}

// QueueConfig tunes the offline queue. The zero value gets defaults.
type QueueConfig struct {
	// MaxSize is the enqueue backpressure limit. Default 1000.
	MaxSize int
	// MaxRetries bounds replay attempts per operation before it is dropped
	// as permanently failed. Default 5.
	MaxRetries int
	// SyncInterval is the periodic sync cadence while online. Default 30s.
	SyncInterval time.Duration
	// BatchSize bounds how many operations one sync pass drains. Default 10.
	BatchSize int
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.MaxSize <= 0 {
		c.MaxSize = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	return c
}

// QueueOption configures optional OfflineQueue collaborators.
type QueueOption func(*OfflineQueue)

// WithQueueConnectivity wires connectivity-driven syncing: going online
// starts the periodic loop and triggers an immediate pass, going offline
// stops it.
func WithQueueConnectivity(c Connectivity) QueueOption {
	return func(q *OfflineQueue) { q.connectivity = c }
}

// WithQueueCallbacks registers terminal-outcome and change observers. Any of
// the three may be nil.
func WithQueueCallbacks(onSuccess func(QueuedOperation), onFailure func(QueuedOperation, *CallError), onChange func(size int)) QueueOption {
	return func(q *OfflineQueue) {
		q.onSuccess = onSuccess
		q.onFailure = onFailure
		q.onChange = onChange
	}
}

// WithQueueLogger sets the queue logger.
func WithQueueLogger(logger Logger) QueueOption {
	return func(q *OfflineQueue) { q.logger = logger }
}

// WithQueueMetrics sets the metrics collector.
func WithQueueMetrics(m *MetricsCollector) QueueOption {
	return func(q *OfflineQueue) { q.metrics = m }
}

// WithQueueRateLimiter paces replays so a reconnect does not burst the whole
// backlog at the endpoint.
func WithQueueRateLimiter(rl *RateLimiter) QueueOption {
	return func(q *OfflineQueue) { q.limiter = rl }
}

// OfflineQueue is a durable, ordered store of pending mutations, drained
// opportunistically while online. Replay order is priority-then-age, not
// FIFO.
type OfflineQueue struct {
	config   QueueConfig
	store    QueueStore
	replayer Replayer

	connectivity Connectivity
	logger       Logger
	metrics      *MetricsCollector
	limiter      *RateLimiter

	onSuccess func(QueuedOperation)
	onFailure func(QueuedOperation, *CallError)
	onChange  func(size int)

	now func() time.Time

	// enqMu serializes the capacity check with the insert in Enqueue.
	enqMu sync.Mutex

	mu          sync.Mutex
	syncing     bool
	stop        chan struct{}
	unsubscribe func()
}

// NewOfflineQueue creates a queue over store, replaying through replayer.
// When connectivity is wired and already online, the periodic sync loop
// starts immediately.
func NewOfflineQueue(store QueueStore, replayer Replayer, config QueueConfig, opts ...QueueOption) *OfflineQueue {
	q := &OfflineQueue{
		config:   config.withDefaults(),
		store:    store,
		replayer: replayer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.connectivity != nil {
		q.unsubscribe = q.connectivity.Subscribe(q.onConnectivityChange)
		if q.connectivity.Online() {
			q.StartSync()
		}
	}
	return q
}

func (q *OfflineQueue) onConnectivityChange(online bool) {
	if online {
		q.debugf("connectivity restored, starting sync")
		q.StartSync()
		go func() { _ = q.SyncNext(context.Background()) }()
		return
	}
	q.debugf("connectivity lost, stopping sync")
	q.StopSync()
}

// Enqueue persists a mutation for deferred delivery. It assigns id,
// timestamp and priority, mints an idempotency key unless the caller supplied
// one, and returns ErrQueueFull when the queue is at capacity. When online
// and idle it triggers an immediate sync pass.
func (q *OfflineQueue) Enqueue(ctx context.Context, in EnqueueInput) (QueuedOperation, error) {
	var payload json.RawMessage
	if in.Payload != nil {
		var err error
		payload, err = json.Marshal(in.Payload)
		if err != nil {
			return QueuedOperation{}, err
		}
	}
	method := in.Method
	if method == "" {
		method = in.Type.defaultMethod()
	}
	idemKey := in.IdempotencyKey
	if idemKey == "" {
		idemKey = uuid.NewString()
	}

	op := QueuedOperation{
		ID:             uuid.NewString(),
		Type:           in.Type,
		Endpoint:       in.Endpoint,
		Method:         method,
		Payload:        payload,
		Query:          in.Query,
		IdempotencyKey: idemKey,
		CreatedAt:      q.now(),
		Priority:       in.Type.ReplayPriority(),
		EntityType:     in.EntityType,
		EntityID:       in.EntityID,
	}

	// The capacity check and the insert must be one atomic step or concurrent
	// enqueues can overshoot MaxSize.
	q.enqMu.Lock()
	size, err := q.store.Len(ctx)
	if err != nil {
		q.enqMu.Unlock()
		return QueuedOperation{}, err
	}
	if size >= q.config.MaxSize {
		q.enqMu.Unlock()
		return QueuedOperation{}, ErrQueueFull
	}
	if err := q.store.Put(ctx, op); err != nil {
		q.enqMu.Unlock()
		return QueuedOperation{}, err
	}
	q.enqMu.Unlock()
	q.debugf("operation enqueued", "id", op.ID, "type", string(op.Type), "endpoint", op.Endpoint)
	q.notifyChange(ctx)

	if q.online() {
		go func() { _ = q.SyncNext(context.Background()) }()
	}
	return op, nil
}

// Operations returns the pending operations in replay order.
func (q *OfflineQueue) Operations(ctx context.Context) ([]QueuedOperation, error) {
	return q.store.All(ctx)
}

// Size reports the number of pending operations.
func (q *OfflineQueue) Size(ctx context.Context) (int, error) {
	return q.store.Len(ctx)
}

// Remove deletes a pending operation by id and notifies change observers.
func (q *OfflineQueue) Remove(ctx context.Context, id string) error {
	if err := q.store.Delete(ctx, id); err != nil {
		return err
	}
	q.notifyChange(ctx)
	return nil
}

// StartSync starts the periodic sync loop. It is idempotent and exists for
// consumers that do not wire connectivity-driven syncing.
func (q *OfflineQueue) StartSync() {
	q.mu.Lock()
	if q.stop != nil {
		q.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	q.stop = stop
	q.mu.Unlock()

	go func() {
		ticker := time.NewTicker(q.config.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = q.SyncNext(context.Background())
			case <-stop:
				return
			}
		}
	}()
}

// StopSync stops the periodic sync loop.
func (q *OfflineQueue) StopSync() {
	q.mu.Lock()
	if q.stop != nil {
		close(q.stop)
		q.stop = nil
	}
	q.mu.Unlock()
}

// Close stops syncing and detaches from connectivity events.
func (q *OfflineQueue) Close() {
	q.StopSync()
	if q.unsubscribe != nil {
		q.unsubscribe()
	}
}

// SyncNext drains one bounded batch in priority order, sequentially. Passes
// never overlap: a pass already in flight makes this call a no-op, as does
// being offline. Per operation: success or terminal failure removes it and
// fires the matching callback; a retryable failure increments its persisted
// retry count until the budget converts it to a terminal failure.
func (q *OfflineQueue) SyncNext(ctx context.Context) error {
	q.mu.Lock()
	if q.syncing {
		q.mu.Unlock()
		return nil
	}
	q.syncing = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.syncing = false
		q.mu.Unlock()
	}()

	if !q.online() {
		return nil
	}

	ops, err := q.store.All(ctx)
	if err != nil {
		return err
	}
	if len(ops) > q.config.BatchSize {
		ops = ops[:q.config.BatchSize]
	}

	for _, op := range ops {
		if !q.online() {
			break
		}
		if q.limiter != nil && !q.limiter.Allow() {
			// Out of replay budget for now; the next tick resumes.
			break
		}
		q.replayOne(ctx, op)
	}
	return nil
}

func (q *OfflineQueue) replayOne(ctx context.Context, op QueuedOperation) {
	cerr := q.replayer.Replay(ctx, op)

	if cerr == nil {
		q.debugf("operation replayed", "id", op.ID, "endpoint", op.Endpoint)
		q.recordSync("success")
		_ = q.store.Delete(ctx, op.ID)
		q.notifyChange(ctx)
		if q.onSuccess != nil {
			q.onSuccess(op)
		}
		return
	}

	if localGateRejection(cerr) {
		// The client's own admission gates (open breaker, local rate limiter)
		// say nothing about the mutation itself: leave the operation untouched
		// for the next pass and spend no replay budget.
		q.debugf("operation replay deferred by local gate", "id", op.ID, "code", string(cerr.Code))
		return
	}

	op.RetryCount++
	op.LastError = cerr.Error()

	if cerr.Terminal() || op.RetryCount > q.config.MaxRetries {
		q.warnf("operation permanently failed", "id", op.ID, "endpoint", op.Endpoint, "code", string(cerr.Code), "retries", op.RetryCount)
		q.recordSync("failure")
		_ = q.store.Delete(ctx, op.ID)
		q.notifyChange(ctx)
		if q.onFailure != nil {
			q.onFailure(op, cerr)
		}
		return
	}

	q.debugf("operation replay failed, will retry", "id", op.ID, "code", string(cerr.Code), "retries", op.RetryCount)
	q.recordSync("retry")
	_ = q.store.Put(ctx, op)
}

// localGateRejection reports whether the replay was rejected by the client's
// own admission gates before reaching the server. An open breaker or the
// client-side rate limiter produce rate-limited errors with no HTTP status; a
// server 429 carries Status 429 and is handled by the normal retry budget.
func localGateRejection(cerr *CallError) bool {
	if cerr.Code == CodeCircuitOpen {
		return true
	}
	return cerr.Code == CodeRateLimited && cerr.Status == 0
}

func (q *OfflineQueue) online() bool {
	return q.connectivity == nil || q.connectivity.Online()
}

func (q *OfflineQueue) notifyChange(ctx context.Context) {
	size, err := q.store.Len(ctx)
	if err != nil {
		return
	}
	if q.metrics != nil {
		q.metrics.RecordQueueDepth(size)
	}
	if q.onChange != nil {
		q.onChange(size)
	}
}

func (q *OfflineQueue) recordSync(outcome string) {
	if q.metrics != nil {
		q.metrics.RecordQueueSync(outcome)
	}
}

func (q *OfflineQueue) debugf(msg string, keysAndValues ...interface{}) {
	if q.logger != nil {
		q.logger.Debug(msg, keysAndValues...)
	}
}

func (q *OfflineQueue) warnf(msg string, keysAndValues ...interface{}) {
	if q.logger != nil {
		q.logger.Warn(msg, keysAndValues...)
	}
}
