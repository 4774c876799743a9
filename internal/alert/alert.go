// Package alert is the operator channel for audit-sensitive failures.
// Attribution persistence and retry-exhausted scans report here rather
// than failing the request that observed them.
package alert

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Event struct {
	Severity Severity
	Code     string
	Message  string
	TenantID string
	Fields   map[string]any
}

// Sink receives operator alerts. Implementations must not block the caller.
type Sink interface {
	Raise(ctx context.Context, event Event)
}

var Module = fx.Module("alert",
	fx.Provide(func(log *zap.Logger) Sink {
		return NewLogSink(log)
	}),
)

type logSink struct {
	log *zap.Logger
}

// NewLogSink returns a Sink that writes alerts to the process log. It is
// the default sink; deployments wire pagers on top of the log stream.
func NewLogSink(log *zap.Logger) Sink {
	return &logSink{log: log.Named("alert")}
}

func (s *logSink) Raise(_ context.Context, event Event) {
	fields := make([]zap.Field, 0, len(event.Fields)+3)
	fields = append(fields,
		zap.String("code", event.Code),
		zap.String("severity", string(event.Severity)),
	)
	if event.TenantID != "" {
		fields = append(fields, zap.String("tenant_id", event.TenantID))
	}
	for k, v := range event.Fields {
		fields = append(fields, zap.Any(k, v))
	}

	if event.Severity == SeverityCritical {
		s.log.Error(event.Message, fields...)
		return
	}
	s.log.Warn(event.Message, fields...)
}
