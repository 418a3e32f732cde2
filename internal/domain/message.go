package domain

import (
	"maps"
	"time"
)

// MessageRole identifies who authored a conversation record.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleAgent     MessageRole = "agent"
	RoleSystem    MessageRole = "system"
)

// MessageType classifies a conversation record.
type MessageType string

const (
	MessageText          MessageType = "text"
	MessageStatusUpdate  MessageType = "status"
	MessagePartialResult MessageType = "partial-result"
	MessageFinalResult   MessageType = "final-result"
	MessageError         MessageType = "error"
)

// MessageStatus tracks the lifecycle of an evolving agent message.
type MessageStatus string

const (
	StatusWorking   MessageStatus = "working"
	StatusStreaming MessageStatus = "streaming"
	StatusCompleted MessageStatus = "completed"
	StatusFailed    MessageStatus = "failed"
)

// Terminal reports whether no further updates are expected for the message.
func (s MessageStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Message is a durable, addressable conversation record. Streaming messages
// only ever grow their Content; other updates replace it wholesale.
type Message struct {
	ID        string         `json:"id"`
	ScopeID   string         `json:"scopeId"`
	Role      MessageRole    `json:"role"`
	Type      MessageType    `json:"type"`
	Content   string         `json:"content"`
	AgentName string         `json:"agentName,omitempty"`
	Status    MessageStatus  `json:"status,omitempty"`
	Extra     map[string]any `json:"extraData,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	if m.Extra != nil {
		m.Extra = maps.Clone(m.Extra)
	}
	return m
}

// SetExtra stores a value in the structured extra data, allocating it lazily.
func (m *Message) SetExtra(key string, value any) {
	if m.Extra == nil {
		m.Extra = map[string]any{}
	}
	m.Extra[key] = value
}
