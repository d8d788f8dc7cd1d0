// ABOUTME: Store interfaces and data types for coven-assistant persistence
// ABOUTME: Defines Thread metadata, the per-thread message log, and agent checkpoint storage

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidMessage is returned when an appended message is not a JSON object
var ErrInvalidMessage = errors.New("message must be a JSON object")

// Defaults applied when a caller leaves owner or title empty.
const (
	DefaultUserID = "default_user"
	DefaultTitle  = "New Chat"
)

// Thread is the registry record for one conversation.
type Thread struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	IsArchived bool      `json:"is_archived"`
	IsPublic   bool      `json:"is_public"`
}

// ThreadStore is the thread registry.
//
// Mutations against an unknown id are silent no-ops, not errors.
type ThreadStore interface {
	// CreateThread registers a thread. An empty threadID gets a generated UUID.
	// If threadID already exists the existing record is returned unchanged and
	// created is false.
	CreateThread(ctx context.Context, userID, title, threadID string) (thread *Thread, created bool, err error)
	GetThread(ctx context.Context, id string) (*Thread, error)
	// ListThreadsByOwner returns the owner's non-archived threads, oldest first.
	ListThreadsByOwner(ctx context.Context, userID string) ([]*Thread, error)
	ArchiveThread(ctx context.Context, id string) error
	SetThreadPublic(ctx context.Context, id string, public bool) error
	UpdateThreadTitle(ctx context.Context, id, title string) error
}

// MessageLog is an append-only log of client-shaped messages, keyed by thread id.
// Insertion order is the canonical order.
type MessageLog interface {
	// AppendMessage stores msg verbatim and returns the log length after the append.
	AppendMessage(ctx context.Context, threadID string, msg json.RawMessage) (int, error)
	// GetMessages returns the log for a thread. ok is false when nothing was ever appended.
	GetMessages(ctx context.Context, threadID string) (msgs []json.RawMessage, ok bool, err error)
}

// AgentStateStore holds opaque agent checkpoints per execution context.
type AgentStateStore interface {
	SaveAgentState(ctx context.Context, key string, state []byte) error
	// GetAgentState returns ErrNotFound when no checkpoint exists.
	GetAgentState(ctx context.Context, key string) ([]byte, error)
}

// Store is everything the assistant persists
type Store interface {
	ThreadStore
	MessageLog
	AgentStateStore

	// Close releases any resources held by the store
	Close() error
}

// validateMessage checks that msg is a JSON object.
func validateMessage(msg json.RawMessage) error {
	if len(msg) == 0 || !json.Valid(msg) {
		return ErrInvalidMessage
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(msg, &obj); err != nil || obj == nil {
		return ErrInvalidMessage
	}
	return nil
}

// orDefault returns v, or def when v is empty.
func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
