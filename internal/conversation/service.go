// ABOUTME: Service bridges chat turns to the agent and answers history queries
// ABOUTME: Resolves thread identity, extracts user turns, and relays the agent stream

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/coven-assistant/internal/agent"
	"github.com/2389/coven-assistant/internal/store"
)

var (
	// ErrMissingThreadID is returned when a chat request carries no usable thread id.
	ErrMissingThreadID = errors.New("thread_id missing from request state")
	// ErrInvalidState is returned when the client state bag has a non-list messages entry.
	ErrInvalidState = errors.New("state.messages must be a list")
	// ErrCannotUnarchive is returned for updates that try to clear is_archived.
	ErrCannotUnarchive = errors.New("archived threads cannot be restored")
)

const (
	// CommandAddMessage is the only command kind the service acts on.
	CommandAddMessage = "add-message"
	// newThreadSentinel is sent by clients that have not yet been assigned a thread.
	newThreadSentinel = "new"
	// stateMessagesKey holds the message history inside the run-local state bag.
	stateMessagesKey = "messages"
	stateThreadIDKey = "thread_id"
)

// Store is what the service needs from storage.
type Store interface {
	store.ThreadStore
	store.MessageLog
}

// Observer is notified of registry and log changes. metrics.Metrics implements it.
type Observer interface {
	ThreadCreated()
	MessageAppended()
}

type noopObserver struct{}

func (noopObserver) ThreadCreated()   {}
func (noopObserver) MessageAppended() {}

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	Commands []Command      `json:"commands"`
	ThreadID string         `json:"thread_id,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	State    map[string]any `json:"state,omitempty"`
}

// Command is one client command. Only add-message carries a Message.
type Command struct {
	Type    string     `json:"type"`
	Message *UIMessage `json:"message,omitempty"`
}

// UIMessage is a client-shaped message made of typed parts.
type UIMessage struct {
	ID    string   `json:"id,omitempty"`
	Role  string   `json:"role,omitempty"`
	Parts []UIPart `json:"parts"`
}

// UIPart is one part of a UIMessage. Fields other than type and text are ignored.
type UIPart struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// RunResponse is the result of starting a run.
type RunResponse struct {
	ThreadID string
	// Stream carries agent events in production order and is closed when the run ends.
	Stream <-chan *agent.Event
	// State is the run-local state bag with the accumulated message history.
	State map[string]any
}

// ThreadUpdate is a partial update to thread metadata. Nil fields are left alone.
type ThreadUpdate struct {
	Title    *string `json:"title,omitempty"`
	Archived *bool   `json:"is_archived,omitempty"`
	Public   *bool   `json:"is_public,omitempty"`
}

// Service is the conversation layer between the HTTP surface, the thread
// registry, and the agent.
type Service struct {
	store       Store
	runner      agent.Runner
	broadcaster *EventBroadcaster
	observer    Observer
	history     []historySource
	logger      *slog.Logger

	defaultUserID string
	defaultTitle  string
}

// Option configures a Service.
type Option func(*Service)

// WithDefaults overrides the owner and title used when a request omits them.
func WithDefaults(userID, title string) Option {
	return func(s *Service) {
		if userID != "" {
			s.defaultUserID = userID
		}
		if title != "" {
			s.defaultTitle = title
		}
	}
}

// WithObserver registers an Observer for thread creations and appends.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithBroadcaster publishes appends and metadata updates to b.
func WithBroadcaster(b *EventBroadcaster) Option {
	return func(s *Service) { s.broadcaster = b }
}

// New creates a conversation Service.
func New(st Store, runner agent.Runner, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:         st,
		runner:        runner,
		observer:      noopObserver{},
		logger:        logger.With("component", "conversation"),
		defaultUserID: store.DefaultUserID,
		defaultTitle:  store.DefaultTitle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.history = []historySource{
		appendLogSource{log: st},
		snapshotSource{runner: runner},
	}
	return s
}

// Run resolves the thread, records the request's user turns in the run-local
// state, and starts the agent. The returned stream is the agent's own channel.
func (s *Service) Run(ctx context.Context, req *ChatRequest) (*RunResponse, error) {
	threadID := ResolveThreadID(req)
	if threadID == "" {
		s.logger.Warn("chat request without thread id", "state_keys", stateKeys(req.State))
		return nil, ErrMissingThreadID
	}

	logger := s.logger.With("thread_id", threadID)

	state := req.State
	if state == nil {
		state = make(map[string]any)
	}
	history, err := stateMessages(state)
	if err != nil {
		return nil, err
	}

	if _, err := s.ensureThread(ctx, req.UserID, "", threadID); err != nil {
		return nil, fmt.Errorf("ensuring thread: %w", err)
	}

	for _, cmd := range req.Commands {
		if cmd.Type != CommandAddMessage || cmd.Message == nil {
			continue
		}
		text := ExtractTurnText(cmd.Message)
		if text == "" {
			continue
		}
		id := cmd.Message.ID
		if id == "" {
			id = uuid.New().String()
		}
		history = append(history, map[string]any{
			"id":      id,
			"type":    agent.RoleHuman,
			"content": text,
		})
	}
	state[stateMessagesKey] = history

	stream, err := s.runner.Run(ctx, agent.ExecutionContext{ThreadID: threadID}, toAgentMessages(history))
	if err != nil {
		return nil, fmt.Errorf("starting agent run: %w", err)
	}

	logger.Info("run started", "history_len", len(history))
	return &RunResponse{ThreadID: threadID, Stream: stream, State: state}, nil
}

// ResolveThreadID picks the top-level thread id, falling back to state.thread_id
// when the top-level value is empty or "new".
func ResolveThreadID(req *ChatRequest) string {
	if req.ThreadID != "" && req.ThreadID != newThreadSentinel {
		return req.ThreadID
	}
	if id, ok := req.State[stateThreadIDKey].(string); ok && id != "" {
		return id
	}
	return ""
}

// ExtractTurnText space-joins the text parts of m in order. Parts with a
// non-text type are skipped; an untyped part counts as text.
func ExtractTurnText(m *UIMessage) string {
	if m == nil {
		return ""
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type != "" && p.Type != "text" {
			continue
		}
		if p.Text == "" {
			continue
		}
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, " ")
}

// History returns the thread's messages from the first source that has any.
// Unknown threads yield an empty slice, never an error.
func (s *Service) History(ctx context.Context, threadID string) ([]json.RawMessage, error) {
	for _, src := range s.history {
		msgs, ok, err := src.messages(ctx, threadID)
		if err != nil {
			s.logger.Warn("history source failed", "source", src.name(), "thread_id", threadID, "error", err)
			continue
		}
		if ok {
			s.logger.Debug("history served", "source", src.name(), "thread_id", threadID, "count", len(msgs))
			return msgs, nil
		}
	}
	return []json.RawMessage{}, nil
}

// CreateThread registers a thread, returning the existing record when threadID is taken.
func (s *Service) CreateThread(ctx context.Context, userID, title, threadID string) (*store.Thread, error) {
	return s.ensureThread(ctx, userID, title, threadID)
}

// GetThread returns thread metadata or store.ErrNotFound.
func (s *Service) GetThread(ctx context.Context, threadID string) (*store.Thread, error) {
	return s.store.GetThread(ctx, threadID)
}

// ListThreads returns the owner's non-archived threads.
func (s *Service) ListThreads(ctx context.Context, userID string) ([]*store.Thread, error) {
	if userID == "" {
		userID = s.defaultUserID
	}
	return s.store.ListThreadsByOwner(ctx, userID)
}

// UpdateThread applies u to the thread. Unknown ids are ignored.
func (s *Service) UpdateThread(ctx context.Context, threadID string, u ThreadUpdate) error {
	if u.Archived != nil && !*u.Archived {
		return ErrCannotUnarchive
	}
	if u.Title != nil {
		if err := s.store.UpdateThreadTitle(ctx, threadID, *u.Title); err != nil {
			return err
		}
	}
	if u.Archived != nil {
		if err := s.store.ArchiveThread(ctx, threadID); err != nil {
			return err
		}
	}
	if u.Public != nil {
		if err := s.store.SetThreadPublic(ctx, threadID, *u.Public); err != nil {
			return err
		}
	}

	if s.broadcaster != nil {
		if thread, err := s.store.GetThread(ctx, threadID); err == nil {
			s.broadcaster.Publish(&ThreadEvent{Kind: EventThreadUpdated, ThreadID: threadID, Thread: thread})
		}
	}
	return nil
}

// AppendMessage appends msg verbatim to the thread's log and returns the new length.
func (s *Service) AppendMessage(ctx context.Context, threadID string, msg json.RawMessage) (int, error) {
	n, err := s.store.AppendMessage(ctx, threadID, msg)
	if err != nil {
		return 0, err
	}
	s.observer.MessageAppended()
	s.logger.Debug("message appended", "thread_id", threadID, "total", n)

	if s.broadcaster != nil {
		s.broadcaster.Publish(&ThreadEvent{
			Kind:     EventMessageAppended,
			ThreadID: threadID,
			Index:    n - 1,
			Message:  msg,
		})
	}
	return n, nil
}

// PublicThread returns a thread and its history only when the thread is public.
// Private and unknown threads are both store.ErrNotFound.
func (s *Service) PublicThread(ctx context.Context, threadID string) (*store.Thread, []json.RawMessage, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}
	if !thread.IsPublic {
		return nil, nil, store.ErrNotFound
	}
	msgs, err := s.History(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}
	return thread, msgs, nil
}

// Subscribe streams appends and metadata updates for a thread until ctx ends.
// It returns nil when no broadcaster is configured.
func (s *Service) Subscribe(ctx context.Context, threadID string) <-chan *ThreadEvent {
	if s.broadcaster == nil {
		return nil
	}
	return s.broadcaster.Subscribe(ctx, threadID)
}

// ensureThread returns the thread, creating it with defaults when absent.
func (s *Service) ensureThread(ctx context.Context, userID, title, threadID string) (*store.Thread, error) {
	if threadID != "" {
		thread, err := s.store.GetThread(ctx, threadID)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	if userID == "" {
		userID = s.defaultUserID
	}
	if title == "" {
		title = s.defaultTitle
	}

	thread, created, err := s.store.CreateThread(ctx, userID, title, threadID)
	if err != nil {
		return nil, err
	}
	if created {
		s.observer.ThreadCreated()
		s.logger.Info("thread registered", "thread_id", thread.ID, "user_id", thread.UserID)
	}
	return thread, nil
}

// stateMessages returns the state's message list, or an empty one when absent.
func stateMessages(state map[string]any) ([]any, error) {
	raw, ok := state[stateMessagesKey]
	if !ok || raw == nil {
		return []any{}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, ErrInvalidState
	}
	return list, nil
}

// toAgentMessages converts state entries shaped {id,type,content} to agent messages.
// Entries of any other shape are skipped.
func toAgentMessages(history []any) []agent.Message {
	msgs := make([]agent.Message, 0, len(history))
	for _, entry := range history {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		content, _ := m["content"].(string)
		if content == "" {
			continue
		}
		role, _ := m["type"].(string)
		if role == "" {
			role = agent.RoleHuman
		}
		id, _ := m["id"].(string)
		msgs = append(msgs, agent.Message{ID: id, Role: role, Content: content})
	}
	return msgs
}

func stateKeys(state map[string]any) []string {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	return keys
}
