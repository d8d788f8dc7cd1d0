// ABOUTME: Offline llms.Model that streams back the latest human turn
// ABOUTME: Lets the assistant run end to end without a model provider

package agent

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// EchoModel replies with the most recent human message, one word per chunk.
type EchoModel struct {
	Prefix string
}

// NewEchoModel creates an EchoModel with the default reply prefix.
func NewEchoModel() *EchoModel {
	return &EchoModel{Prefix: "You said:"}
}

// GenerateContent implements llms.Model.
func (e *EchoModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := &llms.CallOptions{}
	for _, opt := range options {
		opt(opts)
	}

	words := append(strings.Fields(e.Prefix), strings.Fields(lastHumanText(messages))...)
	reply := strings.Join(words, " ")

	if opts.StreamingFunc != nil {
		for i, w := range words {
			chunk := w
			if i > 0 {
				chunk = " " + w
			}
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: reply, StopReason: "stop"}},
	}, nil
}

// Call implements llms.Model.
func (e *EchoModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, e, prompt, options...)
}

func lastHumanText(messages []llms.MessageContent) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != llms.ChatMessageTypeHuman {
			continue
		}
		var parts []string
		for _, p := range messages[i].Parts {
			if tc, ok := p.(llms.TextContent); ok {
				parts = append(parts, tc.Text)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}
