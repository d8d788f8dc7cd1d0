// ABOUTME: GET /share/{id} read-only HTML transcript for public threads
// ABOUTME: Renders message text as markdown with goldmark inside an embedded template

package gateway

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/coven-assistant/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var shareTemplate = template.Must(template.ParseFS(templateFS, "templates/share.html"))

type shareData struct {
	Title     string
	CreatedAt string
	Messages  []shareMessage
}

type shareMessage struct {
	Speaker string
	Body    template.HTML
}

// handleSharePage renders a public thread as a transcript page.
// GET /share/{id}
func (g *Gateway) handleSharePage(w http.ResponseWriter, r *http.Request) {
	thread, msgs, err := g.conversation.PublicThread(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "thread not found", http.StatusNotFound)
		return
	}
	if err != nil {
		g.logger.Error("failed to load shared thread", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	data := shareData{
		Title:     thread.Title,
		CreatedAt: thread.CreatedAt.Format("2 Jan 2006 15:04 MST"),
	}
	for _, raw := range msgs {
		role, text := transcriptEntry(raw)
		if text == "" {
			continue
		}

		// Convert markdown to HTML. goldmark drops raw HTML unless configured otherwise.
		var htmlBuf bytes.Buffer
		if err := goldmark.Convert([]byte(text), &htmlBuf); err != nil {
			g.logger.Warn("failed to convert markdown", "error", err)
			htmlBuf.Reset()
			htmlBuf.WriteString(template.HTMLEscapeString(text))
		}
		data.Messages = append(data.Messages, shareMessage{
			Speaker: speakerLabel(role),
			Body:    template.HTML(htmlBuf.String()),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := shareTemplate.Execute(w, data); err != nil {
		g.logger.Error("failed to render share page", "error", err)
	}
}

// transcriptEntry pulls a role and plain text out of a stored message. It
// understands client messages ({role, content|parts: [{type, text}]}) and
// checkpoint messages ({type, content: "..."}).
func transcriptEntry(raw json.RawMessage) (role, text string) {
	var m struct {
		Role    string          `json:"role"`
		Type    string          `json:"type"`
		Content json.RawMessage `json:"content"`
		Parts   json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", ""
	}

	role = m.Role
	if role == "" {
		role = m.Type
	}

	text = textFromContent(m.Content)
	if text == "" {
		text = textFromContent(m.Parts)
	}
	return role, text
}

// textFromContent accepts a plain string or a list of typed parts.
func textFromContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var texts []string
	for _, p := range parts {
		if (p.Type == "" || p.Type == "text") && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

func speakerLabel(role string) string {
	switch role {
	case "user", "human":
		return "You"
	case "assistant", "ai":
		return "Assistant"
	case "system":
		return "System"
	default:
		return "Message"
	}
}
