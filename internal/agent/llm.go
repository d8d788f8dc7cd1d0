// ABOUTME: LLMAgent runs a langchaingo chat model over a checkpointed conversation
// ABOUTME: Streams model chunks as Events and checkpoints the reply per thread

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
)

// eventBufferSize is the per-run event channel buffer.
const eventBufferSize = 16

// checkpointTimeout bounds the final checkpoint write, which runs detached from
// the request context so a disconnect does not lose the reply.
const checkpointTimeout = 5 * time.Second

// LLMAgent is a Runner backed by a langchaingo chat model.
type LLMAgent struct {
	model        llms.Model
	checkpoints  *Checkpointer
	systemPrompt string
	logger       *slog.Logger

	// locks serializes runs per thread so checkpoints are read-modify-written atomically
	locks sync.Map // thread key -> chan struct{} with capacity 1
}

// LLMAgentOption configures an LLMAgent.
type LLMAgentOption func(*LLMAgent)

// WithSystemPrompt prepends a system message to every model call.
func WithSystemPrompt(prompt string) LLMAgentOption {
	return func(a *LLMAgent) { a.systemPrompt = prompt }
}

// WithLogger sets the agent logger.
func WithLogger(logger *slog.Logger) LLMAgentOption {
	return func(a *LLMAgent) { a.logger = logger }
}

// NewLLMAgent creates an agent that checkpoints through states.
func NewLLMAgent(model llms.Model, states StateStore, opts ...LLMAgentOption) *LLMAgent {
	a := &LLMAgent{
		model:       model,
		checkpoints: NewCheckpointer(states),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "agent")
	return a
}

// Run merges history into the thread's checkpoint and streams the model's reply.
func (a *LLMAgent) Run(ctx context.Context, execCtx ExecutionContext, history []Message) (<-chan *Event, error) {
	if execCtx.ThreadID == "" {
		return nil, ErrMissingExecutionContext
	}

	unlock, err := a.lock(ctx, execCtx)
	if err != nil {
		return nil, err
	}

	state, _, err := a.checkpoints.Load(ctx, execCtx)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	state.Merge(history)
	if err := a.checkpoints.Save(ctx, execCtx, state); err != nil {
		unlock()
		return nil, fmt.Errorf("saving checkpoint: %w", err)
	}

	out := make(chan *Event, eventBufferSize)
	go func() {
		defer close(out)
		defer unlock()
		a.generate(ctx, execCtx, state, out)
	}()

	return out, nil
}

// Snapshot returns the thread's checkpointed state, or nil if there is none.
func (a *LLMAgent) Snapshot(ctx context.Context, execCtx ExecutionContext) (*State, error) {
	if execCtx.ThreadID == "" {
		return nil, ErrMissingExecutionContext
	}
	state, ok, err := a.checkpoints.Load(ctx, execCtx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return state, nil
}

func (a *LLMAgent) generate(ctx context.Context, execCtx ExecutionContext, state *State, out chan<- *Event) {
	messageID := uuid.New().String()
	logger := a.logger.With("thread_id", execCtx.ThreadID, "message_id", messageID)

	if err := emit(ctx, out, &Event{Type: EventMessageStart, MessageID: messageID}); err != nil {
		return
	}

	var reply strings.Builder
	streamed := false
	resp, err := a.model.GenerateContent(ctx, a.prompt(state),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed = true
			reply.Write(chunk)
			return emit(ctx, out, &Event{Type: EventText, MessageID: messageID, Text: string(chunk)})
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("run cancelled", "error", err)
			return
		}
		logger.Error("model call failed", "error", err)
		emit(ctx, out, &Event{Type: EventError, MessageID: messageID, Error: err.Error()})
		return
	}

	// Providers that ignore the streaming callback still return the full reply
	if !streamed && resp != nil && len(resp.Choices) > 0 && resp.Choices[0].Content != "" {
		reply.WriteString(resp.Choices[0].Content)
		if err := emit(ctx, out, &Event{Type: EventText, MessageID: messageID, Text: reply.String()}); err != nil {
			return
		}
	}

	aiMsg := Message{ID: messageID, Role: RoleAI, Content: reply.String()}
	state.Messages = append(state.Messages, aiMsg)

	saveCtx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()
	if err := a.checkpoints.Save(saveCtx, execCtx, state); err != nil {
		logger.Error("failed to checkpoint reply", "error", err)
		emit(ctx, out, &Event{Type: EventError, MessageID: messageID, Error: "failed to save agent state"})
		return
	}

	if err := emit(ctx, out, &Event{Type: EventMessageEnd, MessageID: messageID, Message: &aiMsg}); err != nil {
		return
	}
	emit(ctx, out, &Event{Type: EventDone})
	logger.Debug("run complete", "reply_len", reply.Len())
}

// prompt converts the checkpointed conversation into model input.
func (a *LLMAgent) prompt(state *State) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(state.Messages)+1)
	if a.systemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, a.systemPrompt))
	}
	for _, m := range state.Messages {
		messages = append(messages, llms.TextParts(chatMessageType(m.Role), m.Content))
	}
	return messages
}

// lock waits for the thread's run slot, giving up when ctx ends.
func (a *LLMAgent) lock(ctx context.Context, execCtx ExecutionContext) (func(), error) {
	v, _ := a.locks.LoadOrStore(execCtx.Key(), make(chan struct{}, 1))
	slot := v.(chan struct{})
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for thread %s: %w", execCtx.ThreadID, ctx.Err())
	}
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case RoleAI:
		return llms.ChatMessageTypeAI
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}

// emit delivers ev unless ctx is cancelled first.
func emit(ctx context.Context, out chan<- *Event, ev *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
