package tangguh

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/adiwignya/tangguh/internal/backoff"
)

// Option configures a Client at construction time.
type Option func(*Client)

// WithTransport sets a custom Transport.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithHTTPClient routes calls through the given *http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.transport = NewHTTPTransport(client) }
}

// WithTokenProvider sets the bearer-token source for authenticated calls.
func WithTokenProvider(tp TokenProvider) Option {
	return func(c *Client) { c.tokens = tp }
}

// WithStaticToken authenticates every call with a fixed token.
func WithStaticToken(token string) Option {
	return func(c *Client) { c.tokens = StaticToken(token) }
}

// WithTimeout sets the per-call timeout applied to each transport attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithPlatform sets the client-platform header tag.
func WithPlatform(platform string) Option {
	return func(c *Client) { c.platform = platform }
}

// WithRetryPolicy replaces the whole retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) { c.retryPolicy = policy }
}

// WithMaxRetries sets the retry budget (attempts = n+1).
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.retryPolicy.MaxRetries = n }
}

// WithInitialBackoff sets the first retry delay.
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) { c.retryPolicy.InitialBackoff = d }
}

// WithMaxBackoff caps the retry delay.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) { c.retryPolicy.MaxBackoff = d }
}

// WithBackoffMultiplier sets the backoff growth factor.
func WithBackoffMultiplier(f float64) Option {
	return func(c *Client) { c.retryPolicy.BackoffMultiplier = f }
}

// WithJitter enables or disables backoff jitter.
func WithJitter(enabled bool) Option {
	return func(c *Client) { c.retryPolicy.Jitter = enabled }
}

// WithRandSource injects the random source used for jitter so tests can
// assert exact delay sequences.
func WithRandSource(rng backoff.Rand) Option {
	return func(c *Client) { c.rng = rng }
}

// WithCircuitBreaker sets the configuration applied to every per-endpoint
// breaker the client creates.
func WithCircuitBreaker(config BreakerConfig) Option {
	return func(c *Client) { c.breakerConfig = config }
}

// WithBreakerRegistry shares an existing registry, e.g. across clients.
func WithBreakerRegistry(r *BreakerRegistry) Option {
	return func(c *Client) { c.breakers = r }
}

// WithBreakerStateChange observes breaker transitions.
func WithBreakerStateChange(fn BreakerStateChange) Option {
	return func(c *Client) { c.onBreakerChange = fn }
}

// WithDeduplication coalesces identical concurrent reads. ttl <= 0 uses
// DefaultDeduplicationTTL.
func WithDeduplication(ttl time.Duration) Option {
	return func(c *Client) { c.dedup = NewDeduplicationTracker(ttl) }
}

// WithDeduplicationKeyFunc sets a custom coalescing key function.
func WithDeduplicationKeyFunc(fn DeduplicationKeyFunc) Option {
	return func(c *Client) { c.dedupKeyFunc = fn }
}

// WithRateLimiter throttles outgoing calls with a token bucket.
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) { c.rateLimiter = NewRateLimiter(maxTokens, refillRate) }
}

// WithConnectivity wires an online/offline monitor into the client and its
// offline queue.
func WithConnectivity(conn Connectivity) Option {
	return func(c *Client) { c.connectivity = conn }
}

// WithOfflineQueue enables the durable offline mutation queue over store.
func WithOfflineQueue(store QueueStore, config QueueConfig, opts ...QueueOption) Option {
	return func(c *Client) {
		c.queueStore = store
		c.queueConfig = config
		c.queueOpts = opts
	}
}

// WithRequestInterceptor appends a request interceptor.
func WithRequestInterceptor(fn RequestInterceptor) Option {
	return func(c *Client) { c.requestInterceptors = append(c.requestInterceptors, fn) }
}

// WithResponseInterceptor appends a response interceptor.
func WithResponseInterceptor(fn ResponseInterceptor) Option {
	return func(c *Client) { c.responseInterceptors = append(c.responseInterceptors, fn) }
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) { c.metrics = NewMetricsCollector() }
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(mc *MetricsCollector) Option {
	return func(c *Client) { c.metrics = mc }
}

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithSimpleLogger enables debug logging to stderr.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithZapLogger routes diagnostic output through a zap logger.
func WithZapLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = NewZapLogger(logger) }
}

// WithDebug enables debug logging with the default configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets a custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) { c.debug = config }
}
