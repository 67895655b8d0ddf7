package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestValidateRejectsEmptyMessages(t *testing.T) {
	req := &ChatCompletionRequest{}
	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
}

func TestValidateRejectsSystemOnly(t *testing.T) {
	req := &ChatCompletionRequest{Messages: []Message{
		{Role: RoleSystem, Content: MessageContent{Text: "be nice"}},
	}}
	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for system-only request, got %v", err)
	}
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	req := &ChatCompletionRequest{Messages: []Message{
		{Role: "moderator", Content: MessageContent{Text: "hi"}},
	}}
	err := req.Validate()
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("Expected ErrInvalidRequest, got %v", err)
	}
	if !strings.Contains(err.Error(), "moderator") {
		t.Errorf("Error should name the bad role, got %q", err.Error())
	}
}

func TestValidateAcceptsUserMessage(t *testing.T) {
	req := &ChatCompletionRequest{Messages: []Message{
		{Role: RoleUser, Content: MessageContent{Text: "hi"}},
	}}
	if err := req.Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestMessageContentDecodings(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"plain"}`), &m); err != nil {
		t.Fatalf("String content: %v", err)
	}
	if m.Content.String() != "plain" {
		t.Errorf("String content = %q", m.Content.String())
	}

	if err := json.Unmarshal([]byte(`{"role":"user","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`), &m); err != nil {
		t.Fatalf("Parts content: %v", err)
	}
	if m.Content.String() != "ab" {
		t.Errorf("Parts content = %q, want ab", m.Content.String())
	}

	if err := json.Unmarshal([]byte(`{"role":"assistant","content":null}`), &m); err != nil {
		t.Fatalf("Null content: %v", err)
	}
	if m.Content.String() != "" {
		t.Errorf("Null content should flatten to empty, got %q", m.Content.String())
	}
}

func TestStopStringAndSliceEquivalent(t *testing.T) {
	var a, b ChatCompletionRequest
	if err := json.Unmarshal([]byte(`{"messages":[],"stop":"foo"}`), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"messages":[],"stop":["foo"]}`), &b); err != nil {
		t.Fatal(err)
	}
	na, nb := NormalizeStop(a.Stop), NormalizeStop(b.Stop)
	if len(na) != 1 || len(nb) != 1 || na[0] != nb[0] {
		t.Errorf("\"foo\" and [\"foo\"] should normalize identically: %v vs %v", na, nb)
	}
}

func TestNormalizeStopDropsEmptiesAndDupes(t *testing.T) {
	got := NormalizeStop(StringOrSlice{"", "  ", "bar", "bar", " bar "})
	if len(got) != 1 || got[0] != "bar" {
		t.Errorf("NormalizeStop = %v, want [bar]", got)
	}
}

func TestNormalizeStopKeepsOrder(t *testing.T) {
	got := NormalizeStop(StringOrSlice{"z", "a", "z", "m"})
	want := []string{"z", "a", "m"}
	if len(got) != len(want) {
		t.Fatalf("NormalizeStop = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NormalizeStop[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuildPromptLeadingSystemOnly(t *testing.T) {
	prompt := BuildPrompt([]Message{
		{Role: RoleSystem, Content: MessageContent{Text: "You are terse."}},
		{Role: RoleUser, Content: MessageContent{Text: "hi"}},
		{Role: RoleSystem, Content: MessageContent{Text: "ignored later system"}},
		{Role: RoleUser, Content: MessageContent{Text: "again"}},
	})
	if !strings.HasPrefix(prompt, "You are terse.") {
		t.Errorf("Leading system message should open the prompt: %q", prompt)
	}
	if strings.Contains(prompt, "ignored later system") {
		t.Errorf("Non-leading system message leaked into prompt: %q", prompt)
	}
	if !strings.Contains(prompt, "hi") || !strings.Contains(prompt, "again") {
		t.Errorf("User turns missing from prompt: %q", prompt)
	}
}

func TestBuildPromptAssistantTurns(t *testing.T) {
	prompt := BuildPrompt([]Message{
		{Role: RoleUser, Content: MessageContent{Text: "question"}},
		{Role: RoleAssistant, Content: MessageContent{Text: "answer"}},
		{Role: RoleUser, Content: MessageContent{Text: "followup"}},
	})
	if !strings.Contains(prompt, "Assistant: answer") {
		t.Errorf("Assistant turn should carry its role prefix: %q", prompt)
	}
}

func TestAPIErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{ErrInvalidRequest, 400},
		{ErrModelSwitchRejected, 422},
		{ErrClientDisconnected, 499},
		{ErrClientCancelled, 499},
		{ErrUpstreamPageError, 502},
		{ErrResponseTimeout, 504},
		{errors.New("boom"), 500},
	}
	for _, c := range cases {
		if got := StatusFor(c.err); got != c.status {
			t.Errorf("StatusFor(%v) = %d, want %d", c.err, got, c.status)
		}
	}
}

func TestAPIErrorUnwrapAndPrefix(t *testing.T) {
	apiErr := NewAPIError("abc1234", ErrResponseTimeout)
	if !errors.Is(apiErr, ErrResponseTimeout) {
		t.Error("APIError should unwrap to its cause")
	}
	if !strings.HasPrefix(apiErr.Message, "[abc1234]") {
		t.Errorf("Message should carry the request id prefix: %q", apiErr.Message)
	}
	if apiErr.Status != 504 || apiErr.Code != "timeout" {
		t.Errorf("Mapping frozen wrong: status=%d code=%q", apiErr.Status, apiErr.Code)
	}
}
