// ABOUTME: Checkpointer persists agent State through an opaque blob store
// ABOUTME: Keeps the agent's conversation independent of the thread registry

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/coven-assistant/internal/store"
)

// StateStore stores opaque checkpoints. store.Store satisfies it.
type StateStore interface {
	SaveAgentState(ctx context.Context, key string, state []byte) error
	GetAgentState(ctx context.Context, key string) ([]byte, error)
}

// Checkpointer loads and saves State for an execution context.
type Checkpointer struct {
	store StateStore
}

// NewCheckpointer creates a Checkpointer backed by s.
func NewCheckpointer(s StateStore) *Checkpointer {
	return &Checkpointer{store: s}
}

// Load returns the checkpointed state. ok is false when none exists.
func (c *Checkpointer) Load(ctx context.Context, execCtx ExecutionContext) (state *State, ok bool, err error) {
	data, err := c.store.GetAgentState(ctx, execCtx.Key())
	if errors.Is(err, store.ErrNotFound) {
		return &State{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading checkpoint: %w", err)
	}

	state = &State{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, false, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return state, true, nil
}

// Save writes state for the execution context.
func (c *Checkpointer) Save(ctx context.Context, execCtx ExecutionContext, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	if err := c.store.SaveAgentState(ctx, execCtx.Key(), data); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}
