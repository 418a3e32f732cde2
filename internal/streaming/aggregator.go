// Package streaming accumulates incremental stage output into durable
// messages and fans every increment out to live viewers.
package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
)

// State is the lifecycle position of one stream.
type State int

const (
	Unstarted State = iota
	Streaming
	Finalized
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Streaming:
		return "streaming"
	case Finalized:
		return "finalized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Identity names one logical evolving message and where it is shown.
type Identity struct {
	ID      string
	RunID   string
	ScopeID string
	Stage   domain.StageName
}

type stream struct {
	mu      sync.Mutex
	state   State
	content strings.Builder
}

// Aggregator owns chunk accumulation per stream identity. Each identity must
// have a single writer; distinct identities may be driven concurrently.
type Aggregator struct {
	store     ports.MessageStore
	publisher ports.Publisher
	logger    *slog.Logger

	mu      sync.Mutex
	streams map[string]*stream
}

// NewAggregator wires the message store and the publisher.
func NewAggregator(store ports.MessageStore, publisher ports.Publisher, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:     store,
		publisher: publisher,
		logger:    logger.With("component", "aggregator"),
		streams:   map[string]*stream{},
	}
}

func (a *Aggregator) get(id string) *stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.streams[id]
	if !ok {
		s = &stream{}
		a.streams[id] = s
	}
	return s
}

// Append adds chunk to the stream. The first append moves the stream to
// Streaming and resets the backing message to empty streaming content.
// Appends after Finalize are ignored. The chunk is always published; a store
// failure is returned after publishing.
func (a *Aggregator) Append(ctx context.Context, id Identity, chunk string) error {
	s := a.get(id.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Finalized {
		a.logger.Debug("chunk after finalize ignored", "message_id", id.ID, "stage", id.Stage)
		return nil
	}
	if chunk == "" && s.state == Streaming {
		return nil
	}

	starting := s.state == Unstarted
	s.state = Streaming
	s.content.WriteString(chunk)
	content := s.content.String()

	_, err := a.store.Upsert(ctx, id.ID, func(msg *domain.Message) {
		if starting {
			describe(msg, id)
			msg.Type = domain.MessagePartialResult
			msg.Status = domain.StatusStreaming
		}
		msg.Content = content
	})

	if chunk != "" {
		a.publish(id, chunk, false)
	}
	if err != nil {
		return fmt.Errorf("persist chunk for %s: %w", id.ID, err)
	}
	return nil
}

// Finalize closes the stream with status (completed or failed). Finalizing
// an already finalized stream is a no-op. Finalizing an unstarted stream
// only prevents later appends; nothing is written for it. It reports whether
// this call performed the transition out of Streaming.
func (a *Aggregator) Finalize(ctx context.Context, id Identity, status domain.MessageStatus) (bool, error) {
	s := a.get(id.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Finalized:
		return false, nil
	case Unstarted:
		s.state = Finalized
		return false, nil
	}

	s.state = Finalized
	_, err := a.store.Upsert(ctx, id.ID, func(msg *domain.Message) {
		if msg.ScopeID == "" {
			describe(msg, id)
		}
		msg.Content = s.content.String()
		msg.Status = status
	})
	a.publish(id, "", true)
	if err != nil {
		return true, fmt.Errorf("finalize %s: %w", id.ID, err)
	}
	return true, nil
}

// State returns the current state of the stream with the given id.
func (a *Aggregator) State(id string) State {
	a.mu.Lock()
	s, ok := a.streams[id]
	a.mu.Unlock()
	if !ok {
		return Unstarted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Content returns the accumulated text of the stream with the given id.
func (a *Aggregator) Content(id string) string {
	a.mu.Lock()
	s, ok := a.streams[id]
	a.mu.Unlock()
	if !ok {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content.String()
}

// Release forgets the given streams once their run is over.
func (a *Aggregator) Release(ids ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		delete(a.streams, id)
	}
}

func (a *Aggregator) publish(id Identity, chunk string, finished bool) {
	if a.publisher == nil {
		return
	}
	a.publisher.Publish(id.ScopeID, domain.NewChunkEvent(id.RunID, domain.ChunkEvent{
		MessageID: id.ID,
		StageName: string(id.Stage),
		Chunk:     chunk,
		Finished:  finished,
	}))
}

func describe(msg *domain.Message, id Identity) {
	msg.ScopeID = id.ScopeID
	msg.Role = domain.RoleAgent
	msg.AgentName = id.Stage.AgentName()
}
