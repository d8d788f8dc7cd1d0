// ABOUTME: Agent capability interface consumed by the conversation layer
// ABOUTME: Defines Message, Event, State, ExecutionContext and the Runner contract

package agent

import (
	"context"
	"errors"
)

// ErrMissingExecutionContext indicates a run or snapshot without a thread id.
var ErrMissingExecutionContext = errors.New("execution context requires a thread id")

// Message roles, matching the agent's own message types.
const (
	RoleHuman  = "human"
	RoleAI     = "ai"
	RoleSystem = "system"
)

// Message is one entry in the agent's conversation history.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"type"`
	Content string `json:"content"`
}

// ExecutionContext identifies the agent's own durable state for a thread.
type ExecutionContext struct {
	ThreadID string
}

// Key returns the checkpoint key for this context.
func (e ExecutionContext) Key() string {
	return "thread:" + e.ThreadID
}

// EventType names an event in a run's output stream.
type EventType string

const (
	EventMessageStart EventType = "message_start"
	EventText         EventType = "text"
	EventMessageEnd   EventType = "message_end"
	EventError        EventType = "error"
	EventDone         EventType = "done"
)

// Event is one fragment of a run's output, in production order.
type Event struct {
	Type EventType `json:"type"`
	// Namespace identifies the nested sub-execution that produced the event; empty for the root.
	Namespace []string `json:"namespace,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
	Text      string   `json:"text,omitempty"`
	Error     string   `json:"error,omitempty"`
	Message   *Message `json:"message,omitempty"` // For EventMessageEnd
}

// State is a checkpointed snapshot of the agent's conversation.
type State struct {
	Messages []Message `json:"messages"`
}

// Merge folds incoming messages into the state: a message whose id is already
// present replaces it in place, anything else is appended.
func (s *State) Merge(incoming []Message) {
	index := make(map[string]int, len(s.Messages))
	for i, m := range s.Messages {
		if m.ID != "" {
			index[m.ID] = i
		}
	}

	for _, m := range incoming {
		if i, ok := index[m.ID]; ok && m.ID != "" {
			s.Messages[i] = m
			continue
		}
		s.Messages = append(s.Messages, m)
		if m.ID != "" {
			index[m.ID] = len(s.Messages) - 1
		}
	}
}

// Runner is the agent service: a long-running computation that yields events.
//
// Run returns a channel that receives events until EventDone or EventError,
// after which it is closed. Cancelling ctx stops production at the next event.
// Snapshot returns (nil, nil) when nothing has been checkpointed.
type Runner interface {
	Run(ctx context.Context, execCtx ExecutionContext, history []Message) (<-chan *Event, error)
	Snapshot(ctx context.Context, execCtx ExecutionContext) (*State, error)
}
