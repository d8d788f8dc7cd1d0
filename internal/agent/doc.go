// Package agent defines the agent service the assistant forwards conversations to.
//
// # Runner
//
// The conversation layer depends only on the Runner interface:
//
//	type Runner interface {
//	    Run(ctx, execCtx, history) (<-chan *Event, error)
//	    Snapshot(ctx, execCtx) (*State, error)
//	}
//
// Run returns immediately with a channel; events arrive as the agent produces
// them and the channel closes after EventDone or EventError. Snapshot exposes
// the agent's own checkpointed conversation for a thread.
//
// # LLMAgent
//
// LLMAgent implements Runner on top of a langchaingo llms.Model. Each run:
//
//  1. Loads the thread's checkpoint and merges the incoming history by message id
//  2. Calls the model with a streaming callback, emitting one EventText per chunk
//  3. Appends the reply to the checkpoint and emits EventMessageEnd and EventDone
//
// Runs for the same thread are serialized. Checkpoints are stored through a
// StateStore, which store.Store satisfies, so they live wherever threads live.
//
// # Models
//
// NewModel selects a provider from config: openai, ollama, anthropic, or echo.
// The echo model streams back the latest human turn and needs no network access.
package agent
