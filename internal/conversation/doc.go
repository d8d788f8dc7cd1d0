// Package conversation provides the conversation layer behind the HTTP API.
//
// # Overview
//
// The conversation package sits between the HTTP handlers, the thread
// registry, and the agent. It owns thread identity for chat turns and
// decides where message history comes from.
//
// # Service
//
//	svc := conversation.New(store, runner, logger,
//	    conversation.WithObserver(metrics),
//	    conversation.WithBroadcaster(broadcaster))
//
// Key operations:
//
//   - Run(ctx, req): resolve the thread, collect user turns, start the agent
//   - History(ctx, id): message history with fallback
//   - CreateThread, GetThread, ListThreads, UpdateThread: registry access
//   - AppendMessage(ctx, id, msg): verbatim client message log
//   - PublicThread(ctx, id): thread and history, only when shared
//
// # Thread Resolution
//
// A chat request names its thread in the top-level thread_id field. When that
// is empty or "new", state.thread_id is used instead. A request with neither
// fails with ErrMissingThreadID before anything is created. Otherwise the
// thread is registered with default owner and title if it does not exist yet.
//
// # Turns
//
// Each add-message command becomes one user turn: the text parts of its
// message joined with single spaces. Commands with no text are skipped, and
// turns without a client id get a generated one. Turns are appended to the
// run-local state's message list, and the whole list is sent to the agent.
//
// # History
//
// History consults its sources in order and returns the first non-empty one:
//
//  1. The append log written by POST /threads/{id}/messages, returned verbatim
//  2. The agent's checkpoint, rendered as {"id","type","content"} objects
//  3. An empty list
//
// Source failures are logged and skipped, so History never fails for an
// unknown thread.
//
// # Broadcasting
//
// EventBroadcaster fans out ThreadEvents to subscribers of a thread:
//
//	events := svc.Subscribe(ctx, threadID)
//
// Appends and metadata updates are published as they happen. A new
// subscriber first receives the thread's latest thread_updated event, if any.
// Slow subscribers lose events rather than blocking the writer.
package conversation
