package tangguh

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		options []Option
		baseURL string
		problem string
	}{
		{
			name:    "missing base URL",
			baseURL: "",
			problem: "baseURL",
		},
		{
			name:    "negative retries",
			baseURL: "https://api.example.com",
			options: []Option{WithMaxRetries(-1)},
			problem: "MaxRetries",
		},
		{
			name:    "non-positive initial backoff",
			baseURL: "https://api.example.com",
			options: []Option{WithInitialBackoff(0)},
			problem: "InitialBackoff",
		},
		{
			name:    "max backoff below initial",
			baseURL: "https://api.example.com",
			options: []Option{WithInitialBackoff(time.Second), WithMaxBackoff(time.Millisecond)},
			problem: "MaxBackoff",
		},
		{
			name:    "non-positive multiplier",
			baseURL: "https://api.example.com",
			options: []Option{WithBackoffMultiplier(0)},
			problem: "BackoffMultiplier",
		},
		{
			name:    "negative timeout",
			baseURL: "https://api.example.com",
			options: []Option{WithTimeout(-time.Second)},
			problem: "timeout",
		},
		{
			name:    "dedup without key function",
			baseURL: "https://api.example.com",
			options: []Option{WithDeduplication(0), WithDeduplicationKeyFunc(nil)},
			problem: "deduplication",
		},
		{
			name:    "nil transport",
			baseURL: "https://api.example.com",
			options: []Option{WithTransport(nil)},
			problem: "transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.baseURL, tt.options...)
			if c.IsValid() {
				t.Fatal("expected invalid configuration")
			}
			err := c.ValidationError()
			var cerr *CallError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected a *CallError, got %T", err)
			}
			if cerr.Code != CodeValidation {
				t.Errorf("expected validation code, got %s", cerr.Code)
			}
			if !strings.Contains(err.Error(), tt.problem) {
				t.Errorf("expected problem mentioning %q, got %v", tt.problem, err)
			}
		})
	}
}

func TestValidConfigurationPasses(t *testing.T) {
	c := New("https://api.example.com",
		WithStaticToken("t"),
		WithMaxRetries(2),
		WithDeduplication(time.Minute),
		WithCircuitBreaker(BreakerConfig{FailureThreshold: 3}),
	)
	if !c.IsValid() {
		t.Fatalf("expected valid configuration, got %v", c.ValidationError())
	}
	if c.Breakers() == nil {
		t.Error("expected a breaker registry")
	}
	if c.Queue() != nil {
		t.Error("expected no queue without a store")
	}
}

func TestWithOfflineQueueBuildsQueue(t *testing.T) {
	c := New("https://api.example.com",
		WithStaticToken("t"),
		WithConnectivity(NewManualConnectivity(false)),
		WithOfflineQueue(NewMemoryStore(), QueueConfig{MaxSize: 5}),
	)
	defer c.Queue().Close()

	if c.Queue() == nil {
		t.Fatal("expected the offline queue constructed")
	}
	if size, err := c.Queue().Size(context.Background()); err != nil || size != 0 {
		t.Errorf("expected empty queue, got size=%d err=%v", size, err)
	}
}

func TestTokenProviders(t *testing.T) {
	ctx := context.Background()

	tok, err := StaticToken("abc").Token(ctx)
	if err != nil || tok != "abc" {
		t.Errorf("expected abc, got %q (err=%v)", tok, err)
	}

	boom := errors.New("session expired")
	var fp TokenProvider = TokenProviderFunc(func(context.Context) (string, error) {
		return "", boom
	})
	if _, err := fp.Token(ctx); !errors.Is(err, boom) {
		t.Errorf("expected provider error surfaced, got %v", err)
	}
}

func TestSharedBreakerRegistryAcrossClients(t *testing.T) {
	registry := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1})

	a := New("https://a.example.com", WithStaticToken("t"), WithBreakerRegistry(registry))
	b := New("https://b.example.com", WithStaticToken("t"), WithBreakerRegistry(registry))

	if a.Breakers() != registry || b.Breakers() != registry {
		t.Fatal("expected both clients to share the registry")
	}
	registry.Get("/users").RecordFailure()
	if allowed, _ := b.Breakers().Get("/users").Allow(); allowed {
		t.Error("expected the shared breaker state visible from both clients")
	}
}
