package dispatch

import "testing"

func TestDecodeModelResponse(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		want      string
		wantKnown bool
	}{
		{
			name:      "content list",
			body:      `{"content":[{"text":"the answer"}]}`,
			want:      "the answer",
			wantKnown: true,
		},
		{
			name:      "content string",
			body:      `{"content":"plain answer"}`,
			want:      "plain answer",
			wantKnown: true,
		},
		{
			name:      "choices",
			body:      `{"choices":[{"message":{"content":"chat answer"}}]}`,
			want:      "chat answer",
			wantKnown: true,
		},
		{
			name:      "completion",
			body:      `{"completion":"completion answer"}`,
			want:      "completion answer",
			wantKnown: true,
		},
		{
			name:      "unknown shape falls back to raw",
			body:      `{"output":"something else"}`,
			want:      `{"output":"something else"}`,
			wantKnown: false,
		},
		{
			name:      "not json falls back to raw",
			body:      "  bare text  ",
			want:      "bare text",
			wantKnown: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, known := DecodeModelResponse([]byte(tt.body))
			if got != tt.want {
				t.Errorf("answer = %q, want %q", got, tt.want)
			}
			if known != tt.wantKnown {
				t.Errorf("known = %v, want %v", known, tt.wantKnown)
			}
		})
	}
}

func TestDecodeModelResponsePrefersContentList(t *testing.T) {
	// When multiple fields are present the content form wins.
	body := `{"content":[{"text":"from content"}],"completion":"from completion"}`
	got, known := DecodeModelResponse([]byte(body))
	if !known || got != "from content" {
		t.Errorf("got %q (known=%v), want content form to win", got, known)
	}
}
