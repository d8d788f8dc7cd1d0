// ABOUTME: Ordered history sources behind Service.History
// ABOUTME: Verbatim append log first, then the agent's checkpointed snapshot

package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389/coven-assistant/internal/agent"
	"github.com/2389/coven-assistant/internal/store"
)

// historySource is one tier of the history lookup. ok reports whether the
// source holds any history for the thread; a source with none defers to the next.
type historySource interface {
	name() string
	messages(ctx context.Context, threadID string) (msgs []json.RawMessage, ok bool, err error)
}

// appendLogSource serves the client's verbatim message log.
type appendLogSource struct {
	log store.MessageLog
}

func (appendLogSource) name() string { return "append_log" }

func (s appendLogSource) messages(ctx context.Context, threadID string) ([]json.RawMessage, bool, error) {
	msgs, ok, err := s.log.GetMessages(ctx, threadID)
	if err != nil || !ok || len(msgs) == 0 {
		return nil, false, err
	}
	return msgs, true, nil
}

// snapshotSource reconstructs text-only history from the agent checkpoint.
type snapshotSource struct {
	runner agent.Runner
}

func (snapshotSource) name() string { return "agent_snapshot" }

func (s snapshotSource) messages(ctx context.Context, threadID string) ([]json.RawMessage, bool, error) {
	state, err := s.runner.Snapshot(ctx, agent.ExecutionContext{ThreadID: threadID})
	if err != nil || state == nil || len(state.Messages) == 0 {
		return nil, false, err
	}

	msgs := make([]json.RawMessage, 0, len(state.Messages))
	for _, m := range state.Messages {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, false, fmt.Errorf("encoding snapshot message: %w", err)
		}
		msgs = append(msgs, data)
	}
	return msgs, true, nil
}
