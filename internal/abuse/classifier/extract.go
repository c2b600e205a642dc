package classifier

import (
	"encoding/json"
	"strings"
)

// Extracted is the part of a relay request body the detector inspects.
type Extracted struct {
	Model   string
	Content string
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []chatMessage   `json:"messages"`
	Prompt   json.RawMessage `json:"prompt"`
	Input    json.RawMessage `json:"input"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExtractContent pulls the model and the latest user text out of an
// OpenAI-style body: chat messages (string or parts array), legacy prompt,
// or input. Bodies that are not JSON yield an empty result.
func ExtractContent(body []byte) Extracted {
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return Extracted{}
	}
	out := Extracted{Model: req.Model}

	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := req.Messages[i]
		if m.Role != "" && m.Role != "user" {
			continue
		}
		out.Content = rawText(m.Content)
		return out
	}
	if len(req.Messages) > 0 {
		out.Content = rawText(req.Messages[len(req.Messages)-1].Content)
		return out
	}

	if text := rawText(req.Prompt); text != "" {
		out.Content = text
		return out
	}
	out.Content = rawText(req.Input)
	return out
}

// rawText accepts a JSON string, an array of strings, or an array of
// content parts, joining text parts with newlines.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return ""
	}
	var texts []string
	for _, item := range items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			texts = append(texts, str)
			continue
		}
		var part contentPart
		if err := json.Unmarshal(item, &part); err == nil && (part.Type == "" || part.Type == "text" || part.Type == "input_text") {
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
	}
	return strings.Join(texts, "\n")
}
