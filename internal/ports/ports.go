package ports

import (
	"context"
	"errors"
	"time"

	"ResearchPipeline/internal/domain"
)

// ErrNotFound is returned by stores when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// MessageMutator edits a message in place. For an absent record it receives
// a message carrying only ID and CreatedAt and must establish the initial
// state itself.
type MessageMutator func(msg *domain.Message)

// MessageStore persists conversation records keyed by message id.
type MessageStore interface {
	Create(ctx context.Context, msg domain.Message) (domain.Message, error)
	Upsert(ctx context.Context, id string, mutate MessageMutator) (domain.Message, error)
	Get(ctx context.Context, id string) (domain.Message, error)
	ListByScope(ctx context.Context, scopeID string) ([]domain.Message, error)
}

// RunRepository persists run snapshots for lifecycle queries and history.
type RunRepository interface {
	SaveRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, id string) (domain.Run, error)
	ListCompleted(ctx context.Context, limit int) ([]domain.Run, error)
}

// Publisher fans events out to the live subscribers of a scope.
type Publisher interface {
	Publish(scopeID string, event domain.Event)
}

// RunObserver receives every state change of a run, in order, from the
// goroutine that owns the run.
type RunObserver interface {
	RunUpdated(run domain.Run)
}

// ChatRequest is a single-turn prompt for a chat model.
type ChatRequest struct {
	System      string
	Prompt      string
	Temperature float64
}

// ChatModel talks to an OpenAI-compatible completion backend.
type ChatModel interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
	// Stream invokes onDelta for every content increment and returns the
	// full text. An error from onDelta aborts the stream.
	Stream(ctx context.Context, req ChatRequest, onDelta func(delta string) error) (string, error)
}

// Searcher collects raw web material about a company.
type Searcher interface {
	Collect(ctx context.Context, req domain.ResearchRequest) (domain.SearchResult, error)
}

// Scheduler controls when periodic jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
