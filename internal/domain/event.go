package domain

// EventKind discriminates the payload carried by an Event.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventChunk    EventKind = "chunk"
	EventMessage  EventKind = "message"
)

// ProgressEvent reports a pipeline milestone.
type ProgressEvent struct {
	Percent     int       `json:"percent"`
	StageName   string    `json:"stageName"`
	Description string    `json:"description"`
	ETASeconds  int       `json:"etaSeconds"`
	Status      RunStatus `json:"status"`
}

// ChunkEvent carries one increment of a streaming message.
type ChunkEvent struct {
	MessageID string `json:"messageId"`
	StageName string `json:"stageName"`
	Chunk     string `json:"chunk"`
	Finished  bool   `json:"finished"`
}

// Event is the envelope fanned out to subscribers of a scope. Seq is assigned
// by the broadcaster and increases in publish order within one scope.
type Event struct {
	Kind     EventKind      `json:"type"`
	Seq      uint64         `json:"seq"`
	RunID    string         `json:"runId,omitempty"`
	Progress *ProgressEvent `json:"progress,omitempty"`
	Chunk    *ChunkEvent    `json:"chunk,omitempty"`
	Message  *Message       `json:"message,omitempty"`
}

// NewProgressEvent wraps a progress payload.
func NewProgressEvent(runID string, p ProgressEvent) Event {
	return Event{Kind: EventProgress, RunID: runID, Progress: &p}
}

// NewChunkEvent wraps a chunk payload.
func NewChunkEvent(runID string, c ChunkEvent) Event {
	return Event{Kind: EventChunk, RunID: runID, Chunk: &c}
}

// NewMessageEvent wraps a copy of msg.
func NewMessageEvent(runID string, msg Message) Event {
	clone := msg.Clone()
	return Event{Kind: EventMessage, RunID: runID, Message: &clone}
}
