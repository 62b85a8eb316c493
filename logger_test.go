package tangguh

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSimpleLoggerFormatsKeyValues(t *testing.T) {
	l := NewSimpleLogger()
	var b strings.Builder
	l.logger.SetOutput(&b)
	l.logger.SetFlags(0)

	l.Info("call succeeded", "method", "GET", "status", 200)

	got := strings.TrimSpace(b.String())
	want := "INFO call succeeded method=GET status=200"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestSimpleLoggerLevels(t *testing.T) {
	l := NewSimpleLogger()
	var b strings.Builder
	l.logger.SetOutput(&b)
	l.logger.SetFlags(0)

	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	out := b.String()
	for _, level := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		if !strings.Contains(out, level) {
			t.Errorf("expected level %s in output, got %q", level, out)
		}
	}
}

func TestZapLoggerAdapts(t *testing.T) {
	core, observed := observer.New(zap.DebugLevel)
	l := NewZapLogger(zap.New(core))

	l.Debug("probing", "endpoint", "/users")
	l.Warn("call failed", "code", "timeout")

	entries := observed.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "probing" {
		t.Errorf("expected message probing, got %q", entries[0].Message)
	}
	fields := entries[1].ContextMap()
	if fields["code"] != "timeout" {
		t.Errorf("expected field code=timeout, got %v", fields)
	}
}

func TestDefaultDebugConfig(t *testing.T) {
	cfg := DefaultDebugConfig()
	if !cfg.Enabled || !cfg.LogRequests || !cfg.LogRetries || !cfg.LogCircuit || !cfg.LogDedup || !cfg.LogQueue {
		t.Errorf("expected all areas enabled, got %+v", cfg)
	}
	if cfg.CorrelationIDGen == nil {
		t.Fatal("expected a correlation id generator")
	}
	if a, b := cfg.CorrelationIDGen(), cfg.CorrelationIDGen(); a == "" || a == b {
		t.Error("expected unique non-empty correlation ids")
	}
}
