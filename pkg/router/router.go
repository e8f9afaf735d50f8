// Package router dispatches decoded commands: every command passes the
// validation gate first and then goes to the handler registered for its
// type.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zaphod72/oxd/pkg/command"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/validation"
)

const tracerName = "github.com/zaphod72/oxd/pkg/router"

// Handler runs one command type. res is what the gate resolved.
type Handler interface {
	Handle(ctx context.Context, cmd *command.Command, res validation.Result) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd *command.Command, res validation.Result) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd *command.Command, res validation.Result) (any, error) {
	return f(ctx, cmd, res)
}

// Gate admits commands. *validation.Gate implements it.
type Gate interface {
	Validate(ctx context.Context, cmd *command.Command) (validation.Result, error)
}

type Router struct {
	gate   Gate
	logger *slog.Logger
	tracer trace.Tracer

	mu       sync.RWMutex
	handlers map[command.Type]Handler
}

func New(gate Gate, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		gate:     gate,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		handlers: make(map[command.Type]Handler),
	}
}

// Register sets the handler for t, replacing any earlier one.
func (r *Router) Register(t command.Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

func (r *Router) handler(t command.Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Process gates cmd and runs its handler. A missing command or payload is
// INTERNAL_ERROR_NO_PARAMS; an unknown type, or a known one nobody
// handles, is UNSUPPORTED_OPERATION. Handler errors that are not taxonomy
// errors come back as INTERNAL_ERROR_UNKNOWN.
func (r *Router) Process(ctx context.Context, cmd *command.Command) (_ any, err error) {
	if cmd == nil || cmd.Params == nil {
		return nil, oxderr.New(oxderr.KindInternalErrorNoParams)
	}
	if _, perr := command.ParseType(cmd.Type.String()); perr != nil {
		return nil, oxderr.Wrapf(perr, oxderr.KindUnsupportedOperation, "router: %s", cmd.Type)
	}

	ctx, span := r.tracer.Start(ctx, "router."+cmd.Type.String())
	span.SetAttributes(attribute.String("oxd.command", cmd.Type.String()))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.logger.InfoContext(ctx, "command failed",
				"command", cmd.Type.String(),
				"kind", oxderr.GetKind(err).String(),
				"duration", time.Since(start),
			)
		} else {
			span.SetStatus(codes.Ok, "")
			r.logger.DebugContext(ctx, "command processed", "command", cmd.Type.String(), "duration", time.Since(start))
		}
		span.End()
	}()

	res, err := r.gate.Validate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	h, ok := r.handler(cmd.Type)
	if !ok {
		return nil, oxderr.Newf(oxderr.KindUnsupportedOperation, "router: no handler for %s", cmd.Type)
	}
	out, err := h.Handle(ctx, cmd, res)
	if err != nil {
		if _, ok := oxderr.AsError(err); !ok {
			r.logger.ErrorContext(ctx, "handler failed", "command", cmd.Type.String(), "error", err)
			return nil, oxderr.FromError(err)
		}
		return nil, err
	}
	return out, nil
}
