// Package stage defines the contract every pipeline stage satisfies and the
// executor that turns stage failures into documented fallback outputs.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"ResearchPipeline/internal/domain"
)

// ErrStagePanic marks a stage that panicked. Panics are programming errors
// and are never absorbed by the fallback policy.
var ErrStagePanic = errors.New("stage panicked")

// ChunkFunc receives incremental text from a streaming stage. final is true
// on the last call, which must happen before the stage returns. A non-nil
// error tells the stage to stop.
type ChunkFunc func(chunk string, final bool) error

// Stage is one opaque unit of pipeline work.
type Stage[In, Out any] interface {
	Name() domain.StageName
	Execute(ctx context.Context, in In) (Out, error)
	// Default is the structurally valid output used when Execute fails.
	Default(in In) Out
}

// Streamer is implemented by stages that can emit partial text.
type Streamer[In, Out any] interface {
	ExecuteStreaming(ctx context.Context, in In, onChunk ChunkFunc) (Out, error)
}

// Result is produced exactly once per stage per run.
type Result[Out any] struct {
	Stage   domain.StageName
	Payload Out
	Status  domain.StageStatus
	// Cause is the absorbed failure behind a fallback, if any.
	Cause error
}

// Run executes s and applies the fallback policy. It streams through onChunk
// when s implements Streamer and onChunk is non-nil. The returned error is
// non-nil only for unrecoverable failures: cancellation of ctx or a panic.
func Run[In, Out any](ctx context.Context, logger *slog.Logger, s Stage[In, Out], in In, onChunk ChunkFunc) (Result[Out], error) {
	name := s.Name()
	if err := ctx.Err(); err != nil {
		return Result[Out]{Stage: name}, err
	}

	out, err := invoke(ctx, s, in, onChunk)
	if errors.Is(err, ErrStagePanic) {
		return Result[Out]{Stage: name}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result[Out]{Stage: name}, ctxErr
	}
	if err != nil {
		if logger != nil {
			logger.Warn("stage failed, using default output", "stage", name, "error", err)
		}
		fallback, derr := fallbackOf(s, in)
		if derr != nil {
			return Result[Out]{Stage: name}, derr
		}
		return Result[Out]{
			Stage:   name,
			Payload: fallback,
			Status:  domain.StagePartialFallback,
			Cause:   err,
		}, nil
	}

	return Result[Out]{Stage: name, Payload: out, Status: domain.StageSuccess}, nil
}

func invoke[In, Out any](ctx context.Context, s Stage[In, Out], in In, onChunk ChunkFunc) (out Out, err error) {
	defer recoverPanic(s.Name(), &err)

	if streamer, ok := s.(Streamer[In, Out]); ok && onChunk != nil {
		return streamer.ExecuteStreaming(ctx, in, onChunk)
	}
	return s.Execute(ctx, in)
}

// fallbackOf builds the default output. A panicking Default is a programming
// error like any other and is reported as ErrStagePanic.
func fallbackOf[In, Out any](s Stage[In, Out], in In) (out Out, err error) {
	defer recoverPanic(s.Name(), &err)
	return s.Default(in), nil
}

// Guard runs fn and converts a panic into ErrStagePanic attributed to name.
func Guard(name domain.StageName, fn func()) (err error) {
	defer recoverPanic(name, &err)
	fn()
	return nil
}

func recoverPanic(name domain.StageName, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s: %v\n%s", ErrStagePanic, name, r, debug.Stack())
	}
}

// Func adapts plain functions into a Stage. It is handy for tests and for
// stages without their own type.
type Func[In, Out any] struct {
	StageName   domain.StageName
	ExecuteFunc func(ctx context.Context, in In) (Out, error)
	DefaultFunc func(in In) Out
	StreamFunc  func(ctx context.Context, in In, onChunk ChunkFunc) (Out, error)
}

// Name implements Stage.
func (f Func[In, Out]) Name() domain.StageName { return f.StageName }

// Execute implements Stage.
func (f Func[In, Out]) Execute(ctx context.Context, in In) (Out, error) {
	return f.ExecuteFunc(ctx, in)
}

// Default implements Stage.
func (f Func[In, Out]) Default(in In) Out {
	if f.DefaultFunc == nil {
		var zero Out
		return zero
	}
	return f.DefaultFunc(in)
}

// ExecuteStreaming implements Streamer, degrading to Execute when no stream
// function is set.
func (f Func[In, Out]) ExecuteStreaming(ctx context.Context, in In, onChunk ChunkFunc) (Out, error) {
	if f.StreamFunc == nil {
		return f.Execute(ctx, in)
	}
	return f.StreamFunc(ctx, in, onChunk)
}
