package tangguh

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logger is the minimal structured logging surface the client emits to.
// Key/value pairs follow the message, sugared-logger style.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SimpleLogger writes leveled lines to stderr via the standard log package.
type SimpleLogger struct {
	logger *log.Logger
}

// NewSimpleLogger creates a SimpleLogger.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{logger: log.New(os.Stderr, "tangguh ", log.LstdFlags|log.Lmicroseconds)}
}

func (l *SimpleLogger) output(level, msg string, keysAndValues []interface{}) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	l.logger.Println(b.String())
}

// Debug implements Logger.
func (l *SimpleLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.output("DEBUG", msg, keysAndValues)
}

// Info implements Logger.
func (l *SimpleLogger) Info(msg string, keysAndValues ...interface{}) {
	l.output("INFO", msg, keysAndValues)
}

// Warn implements Logger.
func (l *SimpleLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.output("WARN", msg, keysAndValues)
}

// Error implements Logger.
func (l *SimpleLogger) Error(msg string, keysAndValues ...interface{}) {
	l.output("ERROR", msg, keysAndValues)
}

// ZapLogger adapts a *zap.Logger to the Logger interface.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps logger; nil builds a production zap logger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &ZapLogger{sugar: logger.Sugar()}
}

// Debug implements Logger.
func (l *ZapLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Info implements Logger.
func (l *ZapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Warn implements Logger.
func (l *ZapLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Error implements Logger.
func (l *ZapLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// DebugConfig gates the client's diagnostic logging per area so enabling
// insight does not mean enabling noise.
type DebugConfig struct {
	Enabled     bool
	LogRequests bool
	LogRetries  bool
	LogCircuit  bool
	LogDedup    bool
	LogQueue    bool
	// CorrelationIDGen produces the per-attempt correlation id.
	CorrelationIDGen func() string
}

// DefaultDebugConfig enables every area and generates UUID correlation ids.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:          true,
		LogRequests:      true,
		LogRetries:       true,
		LogCircuit:       true,
		LogDedup:         true,
		LogQueue:         true,
		CorrelationIDGen: uuid.NewString,
	}
}
