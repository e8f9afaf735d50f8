package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

const tracerName = "github.com/zaphod72/oxd/pkg/lifecycle"

// StateChangeHandler observes transitions. Handlers run synchronously under
// the service's state lock; they must not call back into the service.
// A panicking handler is logged and skipped.
type StateChangeHandler func(old, new State)

// Hook runs during Start or Stop, outside the state lock. An error moves
// the service to [StateFailed].
type Hook func(ctx context.Context) error

// Info is a snapshot of a service for the health endpoint and logs.
type Info struct {
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	State     State         `json:"state"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
}

// Service is a named unit with start and stop hooks. It is safe for
// concurrent use. Build one with [NewBuilder].
type Service struct {
	name    string
	version string

	mu        sync.RWMutex
	state     State
	startedAt *time.Time

	tracer trace.Tracer
	logger *slog.Logger

	onStart  []Hook
	onStop   []Hook
	handlers []StateChangeHandler
}

func (s *Service) Name() string    { return s.name }
func (s *Service) Version() string { return s.version }

func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{Name: s.name, Version: s.version, State: s.state}
	if s.startedAt != nil && s.state == StateRunning {
		t := *s.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// Health fails unless the service is running.
func (s *Service) Health(context.Context) error {
	if st := s.State(); st != StateRunning {
		return oxderr.Newf(oxderr.KindInternalErrorUnknown, "lifecycle: %s is %s", s.name, st)
	}
	return nil
}

// SetState moves the service to next and notifies observers.
func (s *Service) SetState(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, next) {
		return oxderr.Newf(oxderr.KindInternalErrorUnknown,
			"lifecycle: invalid state transition from %q to %q", old, next)
	}
	s.state = next

	for _, h := range s.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"service", s.name,
						"old_state", string(old),
						"new_state", string(next),
					)
				}
			}()
			h(old, next)
		}()
	}
	return nil
}

// Start runs the start hooks in registration order. If one fails the
// service is Failed and the hooks that already ran are not unwound; call
// Stop hooks explicitly if partial startup needs cleaning.
func (s *Service) Start(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "lifecycle.Start")
	defer func() { finishSpan(span, err) }()

	if err := ctx.Err(); err != nil {
		return oxderr.Wrapf(err, oxderr.KindInternalErrorUnknown, "lifecycle: start %s canceled", s.name)
	}
	if err := s.SetState(StateStarting); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: starting", "service", s.name, "version", s.version)

	for _, hook := range s.onStart {
		if err := hook(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: start hook failed", "service", s.name, "error", err)
			_ = s.SetState(StateFailed)
			return oxderr.Wrapf(err, oxderr.KindInternalErrorUnknown, "lifecycle: start %s", s.name)
		}
	}

	if err := s.SetState(StateRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: running", "service", s.name)
	return nil
}

// Stop runs the stop hooks in reverse registration order. Stopping a
// terminal service is a no-op. Every hook runs even if an earlier one
// fails; the first error is returned.
func (s *Service) Stop(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "lifecycle.Stop")
	defer func() { finishSpan(span, err) }()

	if s.State().IsTerminal() {
		return nil
	}
	if err := s.SetState(StateStopping); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: stopping", "service", s.name)

	var first error
	for i := len(s.onStop) - 1; i >= 0; i-- {
		if err := s.onStop[i](ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: stop hook failed", "service", s.name, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		_ = s.SetState(StateFailed)
		return oxderr.Wrapf(first, oxderr.KindInternalErrorUnknown, "lifecycle: stop %s", s.name)
	}

	if err := s.SetState(StateStopped); err != nil {
		return err
	}
	s.mu.Lock()
	s.startedAt = nil
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: stopped", "service", s.name)
	return nil
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.name", s.name),
			attribute.String("service.version", s.version),
		),
	)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Builder assembles a [Service].
//
//	svc, err := lifecycle.NewBuilder("oxd-server", version).
//	    WithLogger(logger).
//	    WithOnStart(sweeper.Start).
//	    WithOnStop(sweeper.Stop).
//	    Build()
type Builder struct {
	name     string
	version  string
	logger   *slog.Logger
	tracer   trace.Tracer
	onStart  []Hook
	onStop   []Hook
	handlers []StateChangeHandler
}

func NewBuilder(name, version string) *Builder {
	return &Builder{name: name, version: version}
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTracerProvider replaces the global tracer provider, for tests.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracer = tp.Tracer(tracerName)
	return b
}

// WithOnStart appends a start hook. Hooks run in the order added.
func (b *Builder) WithOnStart(hook Hook) *Builder {
	if hook != nil {
		b.onStart = append(b.onStart, hook)
	}
	return b
}

// WithOnStop appends a stop hook. Hooks run in reverse order.
func (b *Builder) WithOnStop(hook Hook) *Builder {
	if hook != nil {
		b.onStop = append(b.onStop, hook)
	}
	return b
}

func (b *Builder) OnStateChange(h StateChangeHandler) *Builder {
	if h != nil {
		b.handlers = append(b.handlers, h)
	}
	return b
}

// Build fails with INVALID_CONFIGURATION when name or version is empty.
func (b *Builder) Build() (*Service, error) {
	if b.name == "" {
		return nil, oxderr.Newf(oxderr.KindInvalidConfiguration, "lifecycle: service name must not be empty")
	}
	if b.version == "" {
		return nil, oxderr.Newf(oxderr.KindInvalidConfiguration, "lifecycle: service version must not be empty")
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := b.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Service{
		name:     b.name,
		version:  b.version,
		state:    StateUnknown,
		tracer:   tracer,
		logger:   logger,
		onStart:  append([]Hook(nil), b.onStart...),
		onStop:   append([]Hook(nil), b.onStop...),
		handlers: append([]StateChangeHandler(nil), b.handlers...),
	}, nil
}
