package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context: the active trace
// plus the pipeline run, task slug and stage when present.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}
	if slug := TaskSlugFromContext(ctx); slug != "" {
		fields = append(fields, zap.String("task.slug", slug))
	}
	if stage := StageFromContext(ctx); stage != "" {
		fields = append(fields, zap.String("pipeline.stage", stage))
	}

	return fields
}

type runCtxKey struct{}
type slugCtxKey struct{}
type stageCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_./-]+$`)

func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", name)
	}
	return nil
}

func withID(ctx context.Context, key any, id, name string) context.Context {
	if err := validateID(id, name); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key any) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithRunID adds the pipeline run ID to context.
// Panics if id is empty or contains invalid characters.
func WithRunID(ctx context.Context, id string) context.Context {
	return withID(ctx, runCtxKey{}, id, "runID")
}

// RunIDFromContext extracts the pipeline run ID from context.
func RunIDFromContext(ctx context.Context) string {
	return idFrom(ctx, runCtxKey{})
}

// WithTaskSlug adds the task slug to context.
func WithTaskSlug(ctx context.Context, slug string) context.Context {
	return withID(ctx, slugCtxKey{}, slug, "taskSlug")
}

// TaskSlugFromContext extracts the task slug from context.
func TaskSlugFromContext(ctx context.Context) string {
	return idFrom(ctx, slugCtxKey{})
}

// WithStage adds the current pipeline stage to context.
func WithStage(ctx context.Context, stage string) context.Context {
	return withID(ctx, stageCtxKey{}, stage, "stage")
}

// StageFromContext extracts the pipeline stage from context.
func StageFromContext(ctx context.Context) string {
	return idFrom(ctx, stageCtxKey{})
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
