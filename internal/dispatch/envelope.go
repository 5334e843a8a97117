package dispatch

import (
	"encoding/json"
	"strings"
)

// The direct model call can answer in several envelope shapes depending
// on the model family behind the ARN. Each known shape gets its own
// decoder; an unrecognized envelope falls back to its raw text so a
// protocol surprise never fails the request.

type contentEnvelope struct {
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Text string `json:"text"`
}

type choicesEnvelope struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type completionEnvelope struct {
	Completion string `json:"completion"`
}

// DecodeModelResponse extracts the first usable text field from a model
// response body. The second return value reports whether a known shape
// matched; on false the raw body is returned as-is.
func DecodeModelResponse(body []byte) (string, bool) {
	if text, ok := decodeContentList(body); ok {
		return text, true
	}
	if text, ok := decodeChoices(body); ok {
		return text, true
	}
	if text, ok := decodeCompletion(body); ok {
		return text, true
	}
	return strings.TrimSpace(string(body)), false
}

// decodeContentList handles the structured list-of-content form:
// {"content": [{"text": "..."}]} or {"content": "..."}.
func decodeContentList(body []byte) (string, bool) {
	var env contentEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Content) == 0 {
		return "", false
	}

	var blocks []contentBlock
	if err := json.Unmarshal(env.Content, &blocks); err == nil && len(blocks) > 0 {
		if blocks[0].Text != "" {
			return blocks[0].Text, true
		}
		// A block with no text field still counts as this shape;
		// stringify the first block rather than failing.
		raw, err := json.Marshal(blocks[0])
		if err == nil {
			return string(raw), true
		}
		return "", false
	}

	var text string
	if err := json.Unmarshal(env.Content, &text); err == nil && text != "" {
		return text, true
	}
	return "", false
}

// decodeChoices handles the chat "choices" form:
// {"choices": [{"message": {"content": "..."}}]}.
func decodeChoices(body []byte) (string, bool) {
	var env choicesEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Choices) == 0 {
		return "", false
	}
	if env.Choices[0].Message.Content == "" {
		return "", false
	}
	return env.Choices[0].Message.Content, true
}

// decodeCompletion handles the raw completion form: {"completion": "..."}.
func decodeCompletion(body []byte) (string, bool) {
	var env completionEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Completion == "" {
		return "", false
	}
	return env.Completion, true
}
