package tangguh

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/adiwignya/tangguh/internal/backoff"
)

// Headers attached to every outgoing call.
const (
	HeaderCorrelationID  = "X-Correlation-ID"
	HeaderClientPlatform = "X-Client-Platform"
	HeaderClientVersion  = "X-Client-Version"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// CallRequest describes one logical remote call: an endpoint name relative to
// the client's base URL, a method, and an optional body and query.
type CallRequest struct {
	Endpoint string
	// Method defaults to GET.
	Method string
	// Body is serialized to JSON when non-nil. A json.RawMessage passes
	// through unchanged.
	Body  any
	Query url.Values
	// Public skips bearer-token resolution.
	Public bool
	// IdempotencyKey overrides the generated key for mutations. Replays of a
	// queued operation reuse the key minted at enqueue time.
	IdempotencyKey string
	// Timeout overrides the client's per-call timeout.
	Timeout time.Duration
	// EntityType and EntityID tag the queued operation when DoOrEnqueue
	// defers the call; Do ignores them.
	EntityType string
	EntityID   string
}

// Result is the tagged outcome of a call. Exactly one of Data (with OK=true)
// or Err (with OK=false) is meaningful; Do never panics and never returns a
// bare Go error.
type Result struct {
	OK     bool
	Status int
	Data   json.RawMessage
	Err    *CallError
}

func success(status int, data json.RawMessage) Result {
	return Result{OK: true, Status: status, Data: data}
}

func failure(err *CallError) Result {
	return Result{Status: err.Status, Err: err}
}

// DecodeData unmarshals a successful Result payload into T. A failed Result
// returns its *CallError.
func DecodeData[T any](res Result) (T, error) {
	var v T
	if res.Err != nil {
		return v, res.Err
	}
	if len(res.Data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(res.Data, &v); err != nil {
		return v, err
	}
	return v, nil
}

// Client is a resilient remote-call layer composing per-endpoint circuit
// breaking, retries with exponential backoff, in-flight read deduplication
// and an optional durable offline mutation queue around a Transport. It is
// safe for concurrent use.
type Client struct {
	baseURL   string
	transport Transport
	tokens    TokenProvider
	platform  string
	timeout   time.Duration

	retryPolicy   RetryPolicy
	rng           backoff.Rand
	retryer       *Retryer
	replayRetryer *Retryer

	breakerConfig   BreakerConfig
	breakers        *BreakerRegistry
	onBreakerChange BreakerStateChange

	dedup        *DeduplicationTracker
	dedupTTL     time.Duration
	dedupKeyFunc DeduplicationKeyFunc

	rateLimiter  *RateLimiter
	connectivity Connectivity

	queue       *OfflineQueue
	queueStore  QueueStore
	queueConfig QueueConfig
	queueOpts   []QueueOption

	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig

	validationError error
}

// New constructs a Client for baseURL using the provided functional options.
// Construction never fails; call IsValid / ValidationError to surface
// configuration errors, which also turn every call into a validation Result.
func New(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		transport:    NewHTTPTransport(nil),
		platform:     "go",
		timeout:      30 * time.Second,
		retryPolicy:  DefaultRetryPolicy(),
		dedupKeyFunc: DefaultDeduplicationKeyFunc,
	}

	for _, option := range options {
		option(c)
	}

	c.retryer = NewRetryer(c.retryPolicy, c.rng)
	replayPolicy := c.retryPolicy
	// One transport attempt per sync tick: the queue's own retry count is
	// the replay budget, and in-call retries would double-count it.
	replayPolicy.MaxRetries = 0
	c.replayRetryer = NewRetryer(replayPolicy, c.rng)

	if c.breakers == nil {
		c.breakers = NewBreakerRegistry(c.breakerConfig)
	}
	c.breakers.OnStateChange(c.breakerStateChanged)

	if c.queueStore != nil {
		var opts []QueueOption
		if c.connectivity != nil {
			opts = append(opts, WithQueueConnectivity(c.connectivity))
		}
		if c.logger != nil {
			opts = append(opts, WithQueueLogger(c.logger))
		}
		if c.metrics != nil {
			opts = append(opts, WithQueueMetrics(c.metrics))
		}
		opts = append(opts, c.queueOpts...)
		c.queue = NewOfflineQueue(c.queueStore, c, c.queueConfig, opts...)
	}

	if err := c.ValidateConfiguration(); err != nil {
		c.validationError = err
	}
	return c
}

// Queue returns the offline mutation queue, or nil when none is configured.
func (c *Client) Queue() *OfflineQueue { return c.queue }

// Breakers returns the client's circuit breaker registry.
func (c *Client) Breakers() *BreakerRegistry { return c.breakers }

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool { return c.validationError == nil }

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error { return c.validationError }

// Get performs a read call.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) Result {
	return c.Do(ctx, CallRequest{Endpoint: endpoint, Method: http.MethodGet, Query: query})
}

// Post performs a create mutation.
func (c *Client) Post(ctx context.Context, endpoint string, body any) Result {
	return c.Do(ctx, CallRequest{Endpoint: endpoint, Method: http.MethodPost, Body: body})
}

// Put performs an update mutation.
func (c *Client) Put(ctx context.Context, endpoint string, body any) Result {
	return c.Do(ctx, CallRequest{Endpoint: endpoint, Method: http.MethodPut, Body: body})
}

// Delete performs a delete mutation.
func (c *Client) Delete(ctx context.Context, endpoint string) Result {
	return c.Do(ctx, CallRequest{Endpoint: endpoint, Method: http.MethodDelete})
}

// Do executes a call through the full pipeline: token resolution, read
// deduplication, circuit breaker gate, retry executor, transport, and
// classification into a tagged Result.
func (c *Client) Do(ctx context.Context, req CallRequest) Result {
	return c.call(ctx, req, c.retryer)
}

// DoOrEnqueue executes the call, except that a mutation issued while offline
// is enqueued for later replay instead. The bool reports deferral; when true
// the Result is zero and the outcome arrives through the queue callbacks.
func (c *Client) DoOrEnqueue(ctx context.Context, req CallRequest) (Result, bool) {
	method := normalizeMethod(req.Method)
	if isMutation(method) && c.queue != nil && c.connectivity != nil && !c.connectivity.Online() {
		_, err := c.queue.Enqueue(ctx, EnqueueInput{
			Type:           operationTypeForMethod(method),
			Endpoint:       req.Endpoint,
			Method:         method,
			Payload:        req.Body,
			Query:          req.Query,
			IdempotencyKey: req.IdempotencyKey,
			EntityType:     req.EntityType,
			EntityID:       req.EntityID,
		})
		if err != nil {
			return failure(&CallError{
				Code:     CodeInternal,
				Message:  "failed to enqueue offline mutation",
				Endpoint: req.Endpoint,
				Method:   method,
				Cause:    err,
			}), false
		}
		return Result{}, true
	}
	return c.Do(ctx, req), false
}

// Replay implements Replayer for the offline queue: one transport attempt
// per tick, reusing the idempotency key minted at enqueue.
func (c *Client) Replay(ctx context.Context, op QueuedOperation) *CallError {
	res := c.call(ctx, CallRequest{
		Endpoint:       op.Endpoint,
		Method:         op.Method,
		Body:           op.Payload,
		Query:          op.Query,
		IdempotencyKey: op.IdempotencyKey,
	}, c.replayRetryer)
	return res.Err
}

func (c *Client) call(ctx context.Context, req CallRequest, retryer *Retryer) Result {
	start := time.Now()
	method := normalizeMethod(req.Method)
	endpoint := req.Endpoint

	if c.validationError != nil {
		return failure(&CallError{
			Code:     CodeValidation,
			Message:  "invalid client configuration",
			Endpoint: endpoint,
			Method:   method,
			Cause:    c.validationError,
		})
	}

	c.metrics.RecordRequestStart(method, endpoint)
	defer c.metrics.RecordRequestEnd(method, endpoint)

	var token string
	if !req.Public {
		t, cerr := c.resolveToken(ctx, method, endpoint)
		if cerr != nil {
			c.metrics.RecordError(cerr.Code, method, endpoint)
			return failure(cerr)
		}
		token = t
	}

	idemKey := req.IdempotencyKey
	if isMutation(method) && idemKey == "" {
		idemKey = uuid.NewString()
	}

	var dedupKey string
	var dedupEntry *DeduplicationEntry
	owner := true
	if !isMutation(method) && c.dedup != nil {
		dedupKey = c.dedupKeyFunc(method, endpoint, req.Query)
		dedupEntry, owner = c.dedup.GetOrCreateEntry(dedupKey)
		if !owner {
			if c.debug != nil && c.debug.Enabled && c.debug.LogDedup && c.logger != nil {
				c.logger.Debug("coalescing onto in-flight call", "method", method, "endpoint", endpoint, "dedupKey", dedupKey)
			}
			c.metrics.RecordDeduplicationHit(method, endpoint)
			return dedupEntry.Wait(ctx)
		}
	}

	res := c.execute(ctx, req, method, token, idemKey, retryer)

	if dedupEntry != nil {
		c.dedup.Complete(dedupKey, dedupEntry, res)
	}

	c.metrics.RecordRequest(method, endpoint, res.Status, time.Since(start))
	if res.Err != nil {
		c.metrics.RecordError(res.Err.Code, method, endpoint)
		if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
			c.logger.Warn("call failed", "method", method, "endpoint", endpoint, "code", string(res.Err.Code), "status", res.Err.Status)
		}
	} else if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("call succeeded", "method", method, "endpoint", endpoint, "status", res.Status)
	}
	return res
}

// execute runs the breaker-gated retry loop. The breaker sees exactly one
// outcome per logical call: retries happen inside the gate, so a failing
// endpoint counts once, not once per attempt.
func (c *Client) execute(ctx context.Context, req CallRequest, method, token, idemKey string, retryer *Retryer) Result {
	endpoint := req.Endpoint

	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		return failure(&CallError{
			Code:     CodeRateLimited,
			Message:  "client rate limit exceeded",
			Endpoint: endpoint,
			Method:   method,
		})
	}

	breaker := c.breakers.Get(endpoint)
	allowed, remaining := breaker.Allow()
	if !allowed {
		if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
			c.logger.Warn("circuit breaker rejected call", "endpoint", endpoint, "cooldown", remaining)
		}
		return failure(&CallError{
			Code:     CodeCircuitOpen,
			Message:  "circuit breaker is open",
			Endpoint: endpoint,
			Method:   method,
			Cooldown: remaining,
		})
	}

	var okStatus int
	var okData json.RawMessage
	_, cerr := retryer.Execute(ctx, func(actx context.Context, attempt int) (*Response, *CallError) {
		if attempt > 0 {
			c.metrics.RecordRetry(method, endpoint)
			if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
				c.logger.Info("retrying call", "method", method, "endpoint", endpoint, "attempt", attempt)
			}
		}
		resp, aerr := c.attempt(actx, req, method, token, idemKey, attempt)
		if aerr != nil {
			return nil, aerr
		}
		data, derr := decodeEnvelope(resp)
		if derr != nil {
			derr.Endpoint = endpoint
			derr.Method = method
			derr.Attempt = attempt
			return nil, derr
		}
		okStatus = resp.Status
		okData = data
		return resp, nil
	})

	if cerr == nil {
		breaker.RecordSuccess()
		return success(okStatus, okData)
	}
	if breakerFailure(cerr) {
		breaker.RecordFailure()
	} else {
		// The endpoint answered; a terminal 4xx is not a health signal.
		breaker.RecordSuccess()
	}
	return failure(cerr)
}

// attempt performs one transport round trip with fresh per-attempt headers.
func (c *Client) attempt(ctx context.Context, req CallRequest, method, token, idemKey string, attempt int) (*Response, *CallError) {
	correlationID := c.correlationID()

	wreq, cerr := c.buildRequest(req, method, token, idemKey, correlationID)
	if cerr != nil {
		cerr.Attempt = attempt
		return nil, cerr
	}

	for _, ic := range c.requestInterceptors {
		if err := ic(ctx, wreq); err != nil {
			return nil, &CallError{
				Code:          CodeValidation,
				Message:       "request interceptor failed",
				Endpoint:      req.Endpoint,
				Method:        method,
				Attempt:       attempt,
				CorrelationID: correlationID,
				Cause:         err,
			}
		}
	}

	actx := ctx
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("issuing call", "method", method, "url", wreq.URL, "correlationID", correlationID, "attempt", attempt)
	}

	resp, err := c.transport.Call(actx, wreq)
	if err != nil {
		terr := classifyTransportError(actx, err)
		terr.Endpoint = req.Endpoint
		terr.Method = method
		terr.Attempt = attempt
		terr.CorrelationID = correlationID
		return nil, terr
	}

	for _, ic := range c.responseInterceptors {
		if err := ic(ctx, resp); err != nil {
			return nil, &CallError{
				Code:          CodeInternal,
				Message:       "response interceptor failed",
				Status:        resp.Status,
				Endpoint:      req.Endpoint,
				Method:        method,
				Attempt:       attempt,
				CorrelationID: correlationID,
				Cause:         err,
			}
		}
	}
	return resp, nil
}

func (c *Client) buildRequest(req CallRequest, method, token, idemKey, correlationID string) (*Request, *CallError) {
	u := joinURL(c.baseURL, req.Endpoint)
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body []byte
	if req.Body != nil {
		if raw, ok := req.Body.(json.RawMessage); ok {
			body = raw
		} else {
			b, err := json.Marshal(req.Body)
			if err != nil {
				return nil, &CallError{
					Code:     CodeValidation,
					Message:  "request body is not serializable",
					Endpoint: req.Endpoint,
					Method:   method,
					Cause:    err,
				}
			}
			body = b
		}
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(HeaderCorrelationID, correlationID)
	h.Set(HeaderClientPlatform, c.platform)
	h.Set(HeaderClientVersion, Version)
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	if idemKey != "" {
		h.Set(HeaderIdempotencyKey, idemKey)
	}
	return &Request{Method: method, URL: u, Header: h, Body: body}, nil
}

func (c *Client) resolveToken(ctx context.Context, method, endpoint string) (string, *CallError) {
	unauthorized := func(cause error) *CallError {
		return &CallError{
			Code:     CodeUnauthorized,
			Message:  "no bearer token available",
			Endpoint: endpoint,
			Method:   method,
			Cause:    cause,
		}
	}
	if c.tokens == nil {
		return "", unauthorized(ErrMissingToken)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", unauthorized(err)
	}
	if token == "" {
		return "", unauthorized(ErrMissingToken)
	}
	return token, nil
}

func (c *Client) correlationID() string {
	if c.debug != nil && c.debug.CorrelationIDGen != nil {
		return c.debug.CorrelationIDGen()
	}
	return uuid.NewString()
}

func (c *Client) breakerStateChanged(endpoint string, from, to BreakerState) {
	c.metrics.RecordBreakerState(endpoint, to)
	if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
		c.logger.Info("circuit breaker state change", "endpoint", endpoint, "from", from.String(), "to", to.String())
	}
	if c.onBreakerChange != nil {
		c.onBreakerChange(endpoint, from, to)
	}
}

// ValidateConfiguration re-runs configuration validation.
func (c *Client) ValidateConfiguration() error {
	var problems []string

	if c.baseURL == "" {
		problems = append(problems, "baseURL must be set")
	} else if _, err := url.Parse(c.baseURL); err != nil {
		problems = append(problems, "baseURL must be a valid URL")
	}
	if c.retryPolicy.MaxRetries < 0 {
		problems = append(problems, "retry MaxRetries must be non-negative")
	}
	if c.retryPolicy.InitialBackoff <= 0 {
		problems = append(problems, "retry InitialBackoff must be positive")
	}
	if c.retryPolicy.MaxBackoff < c.retryPolicy.InitialBackoff {
		problems = append(problems, "retry MaxBackoff must be >= InitialBackoff")
	}
	if c.retryPolicy.BackoffMultiplier <= 0 {
		problems = append(problems, "retry BackoffMultiplier must be positive")
	}
	if c.timeout < 0 {
		problems = append(problems, "timeout must be non-negative")
	}
	if c.dedup != nil && c.dedupKeyFunc == nil {
		problems = append(problems, "deduplication key function must be set when deduplication is enabled")
	}
	if c.transport == nil {
		problems = append(problems, "transport must be set")
	}

	if len(problems) > 0 {
		return &CallError{
			Code:    CodeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}
	return nil
}

func normalizeMethod(method string) string {
	if method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(method)
}

func isMutation(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func operationTypeForMethod(method string) OperationType {
	switch method {
	case http.MethodDelete:
		return OpDelete
	case http.MethodPut, http.MethodPatch:
		return OpUpdate
	default:
		return OpCreate
	}
}

// breakerFailure reports whether the error should count against the
// endpoint's health. Circuit-open never does: a fast-fail is not a probe.
func breakerFailure(err *CallError) bool {
	switch err.Code {
	case CodeTimeout, CodeNetworkError, CodeInternal:
		return true
	}
	return false
}

func joinURL(base, endpoint string) string {
	base = strings.TrimRight(base, "/")
	endpoint = strings.TrimLeft(endpoint, "/")
	if endpoint == "" {
		return base
	}
	return base + "/" + endpoint
}
