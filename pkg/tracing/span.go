// Package tracing times the stages of a query as a small span tree carried
// through the context. Spans are emitted through slog when the root is
// logged; there is no external collector.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

var spanKey contextKey

// Span is one timed stage. Child spans attach to the span stored in the
// context at creation time.
type Span struct {
	name    string
	traceID string
	started time.Time
	elapsed time.Duration

	mu       sync.Mutex
	children []*Span
	attrs    []slog.Attr
}

// StartSpan opens a root span identified by traceID and stores it in the
// returned context.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	s := &Span{name: name, traceID: traceID, started: time.Now()}
	return context.WithValue(ctx, spanKey, s), s
}

// StartChildSpan opens a span nested under the one in ctx. Without a parent
// the child becomes its own root with an empty trace id.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	child := &Span{name: name, started: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		child.traceID = parent.traceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey, child), child
}

// FromContext returns the span carried by ctx, if any.
func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey).(*Span)
	return s
}

// End freezes the span's duration. Ending twice keeps the first measurement.
func (s *Span) End() {
	if s.elapsed == 0 {
		s.elapsed = time.Since(s.started)
	}
}

// SetAttr records a key-value pair emitted with the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// Duration returns the frozen duration, or the running time if the span is
// still open.
func (s *Span) Duration() time.Duration {
	if s.elapsed > 0 {
		return s.elapsed
	}
	return time.Since(s.started)
}

// Log emits the span and its children depth-first through slog.
func (s *Span) Log() {
	s.log(slog.Default(), "")
}

func (s *Span) log(logger *slog.Logger, parent string) {
	path := s.name
	if parent != "" {
		path = parent + "/" + s.name
	}
	attrs := make([]any, 0, 6+2*len(s.attrs))
	attrs = append(attrs,
		"trace_id", s.traceID,
		"span", path,
		"duration_ms", float64(s.Duration().Microseconds())/1000,
	)
	for _, a := range s.attrs {
		attrs = append(attrs, a.Key, a.Value.Any())
	}
	logger.Debug("span", attrs...)
	for _, child := range s.children {
		child.log(logger, path)
	}
}
