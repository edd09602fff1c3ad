package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"contractguard/internal/agent"
	"contractguard/internal/chat"
	"contractguard/internal/events"
	"contractguard/internal/history"
	"contractguard/internal/logger"
	"contractguard/internal/session"
	"contractguard/internal/tools"

	"github.com/tidwall/gjson"
)

type replyClient struct {
	replies [][]agent.StreamEvent
	calls   int
}

func (c *replyClient) Stream(_ context.Context, _ agent.Prompt, onEvent func(agent.StreamEvent)) error {
	if c.calls < len(c.replies) {
		for _, ev := range c.replies[c.calls] {
			onEvent(ev)
		}
	}
	c.calls++
	onEvent(agent.StreamEvent{Type: agent.StreamEventCompleted})
	return nil
}

type testServer struct {
	handler http.Handler
	bus     *events.Bus
	logs    *bytes.Buffer
}

func newTestServer(t *testing.T, hasKey bool, client agent.ModelClient) testServer {
	t.Helper()
	logs := &bytes.Buffer{}
	root := logger.Root()
	prev := root.Out
	root.SetOutput(logs)
	t.Cleanup(func() { root.SetOutput(prev) })

	dir := t.TempDir()
	store, err := session.NewFileStore(filepath.Join(dir, "conversations"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	bus := events.NewBus()
	svc := chat.NewService(chat.Options{
		Client:  client,
		Store:   store,
		Reports: history.New(filepath.Join(dir, "reports.jsonl")),
		Model:   "test-model",
	})
	h := New(Options{
		HasAPIKey: func() bool { return hasKey },
		Agents:    NewAgentRouter(svc, bus),
		Bus:       bus,
		Heartbeat: time.Hour,
	})
	return testServer{handler: h, bus: bus, logs: logs}
}

func (s testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

const lowRisk = `{"summary":"Termination is mutual.","overall_risk":"low","risks":[]}`

const userBody = `{"id":"c1","messages":[{"id":"u1","role":"user","parts":[{"type":"text","text":"1. Termination\nEither party may terminate at will."}]}],"trigger":"submit-message"}`

func TestCheckOpenAIKey(t *testing.T) {
	for _, hasKey := range []bool{true, false} {
		s := newTestServer(t, hasKey, &replyClient{})
		rec := s.do(http.MethodGet, "/check-open-ai-key", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if got := gjson.Get(rec.Body.String(), "success"); got.Bool() != hasKey || !got.Exists() {
			t.Fatalf("hasKey=%v body = %s", hasKey, rec.Body.String())
		}
	}
}

func TestChatStreamsAndPersists(t *testing.T) {
	client := &replyClient{replies: [][]agent.StreamEvent{{{Type: agent.StreamEventTextDelta, Text: lowRisk}}}}
	s := newTestServer(t, true, client)

	rec := s.do(http.MethodPost, "/agents/chat/c1", userBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{`"type":"start"`, `"type":"text-delta"`, `"finishReason":"stop"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("stream missing %s:\n%s", want, body)
		}
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("stream should end with [DONE]:\n%s", body)
	}

	rec = s.do(http.MethodGet, "/agents/chat/c1/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("messages status = %d", rec.Code)
	}
	msgs := gjson.Get(rec.Body.String(), "messages")
	if n := len(msgs.Array()); n != 2 || msgs.Get("1.parts.0.text").String() != lowRisk {
		t.Fatalf("messages = %s", msgs.Raw)
	}

	rec = s.do(http.MethodGet, "/agents/chat/c1/reports", "")
	if got := gjson.Get(rec.Body.String(), "reports.0.overall_risk").String(); got != "low" {
		t.Fatalf("reports = %s", rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/agents/chat", "")
	if got := gjson.Get(rec.Body.String(), "conversations").Raw; got != `["c1"]` {
		t.Fatalf("conversations = %s", got)
	}
}

func TestChatRejectsBeforeStreaming(t *testing.T) {
	s := newTestServer(t, true, &replyClient{})
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"bad json", http.MethodPost, "/agents/chat/c1", `{"messages":`, http.StatusBadRequest, "BAD_JSON"},
		{"unknown field", http.MethodPost, "/agents/chat/c1", `{"history":[]}`, http.StatusBadRequest, "BAD_JSON"},
		{"bad id", http.MethodPost, "/agents/chat/bad%20id", `{"messages":[]}`, http.StatusBadRequest, "BAD_CONVERSATION_ID"},
		{"unknown conversation", http.MethodPost, "/agents/chat/nope", `{"messages":[]}`, http.StatusNotFound, "NOT_FOUND"},
		{"unknown history", http.MethodGet, "/agents/chat/nope/messages", "", http.StatusNotFound, "NOT_FOUND"},
		{"missing approval", http.MethodPost, "/agents/chat/c1/tools/call_1", `{}`, http.StatusBadRequest, "BAD_REQUEST"},
		{"duplicate ids", http.MethodPost, "/agents/chat/c1", `{"messages":[
			{"id":"a","role":"assistant","parts":[{"type":"tool-invocation","toolCallId":"x","toolName":"t","state":"output-available","output":1}]},
			{"id":"b","role":"assistant","parts":[{"type":"tool-invocation","toolCallId":"x","toolName":"t","state":"output-available","output":2}]},
			{"id":"u","role":"user","parts":[{"type":"text","text":"hi"}]}]}`, http.StatusBadRequest, "INVALID_HISTORY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(tc.method, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d body=%s", rec.Code, tc.status, rec.Body.String())
			}
			if got := gjson.Get(rec.Body.String(), "error.code").String(); got != tc.code {
				t.Fatalf("code = %q, want %q", got, tc.code)
			}
		})
	}
}

func TestDecisionFlow(t *testing.T) {
	input := `{"clause":"1. Termination","reason":"termination at will"}`
	client := &replyClient{replies: [][]agent.StreamEvent{
		{
			{Type: agent.StreamEventToolCallStart, ToolCallID: "call_r", ToolName: tools.ToolRequestLegalReview},
			{Type: agent.StreamEventToolCall, ToolCallID: "call_r", ToolName: tools.ToolRequestLegalReview, Input: json.RawMessage(input)},
		},
		{{Type: agent.StreamEventTextDelta, Text: "Escalated."}},
	}}
	s := newTestServer(t, true, client)

	rec := s.do(http.MethodPost, "/agents/chat/c1", userBody)
	if !strings.Contains(rec.Body.String(), `"finishReason":"tool-confirmation"`) {
		t.Fatalf("expected confirmation stop:\n%s", rec.Body.String())
	}
	rec = s.do(http.MethodGet, "/agents/chat/c1/messages", "")
	if got := gjson.Get(rec.Body.String(), "pending").Int(); got != 1 {
		t.Fatalf("pending = %d", got)
	}

	rec = s.do(http.MethodPost, "/agents/chat/c1/tools/call_r", `{"approved":true}`)
	body := rec.Body.String()
	if !strings.Contains(body, `"type":"tool-output-available"`) || !strings.Contains(body, `"ticket":"rev_`) {
		t.Fatalf("decision stream missing tool output:\n%s", body)
	}
	if !strings.Contains(body, `"finishReason":"stop"`) {
		t.Fatalf("decision should resume the turn:\n%s", body)
	}

	rec = s.do(http.MethodPost, "/agents/chat/c1/tools/call_r", `{"approved":false}`)
	if rec.Code != http.StatusConflict || gjson.Get(rec.Body.String(), "error.code").String() != "NO_PENDING_CALL" {
		t.Fatalf("second decision: status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUnmatchedPathsGoToAgentRouter(t *testing.T) {
	s := newTestServer(t, false, &replyClient{})

	rec := s.do(http.MethodGet, "/agents/unknown", "")
	if rec.Code != http.StatusNotFound || gjson.Get(rec.Body.String(), "error.code").String() != "NOT_FOUND" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(s.logs.String(), "model API key is not set") {
		t.Fatalf("missing key should be logged as a warning, logs:\n%s", s.logs.String())
	}

	rec = s.do(http.MethodDelete, "/agents/chat/c1", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE status = %d", rec.Code)
	}
}

func TestDebugEventsRelaysBus(t *testing.T) {
	s := newTestServer(t, true, &replyClient{})
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /debug/events: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || line != ": connected\n" {
		t.Fatalf("first line = %q err=%v", line, err)
	}

	s.bus.Publish(events.Event{ConversationID: "c1", Type: "finish", Payload: json.RawMessage(`{"type":"finish"}`)})
	for {
		line, err = reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if line == "event: finish\n" {
			break
		}
	}
	data, _ := reader.ReadString('\n')
	if !strings.Contains(data, `"conversationId":"c1"`) {
		t.Fatalf("data line = %q", data)
	}
}
