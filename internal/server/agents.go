package server

import (
	"context"
	"errors"
	"net/http"

	"contractguard/internal/agent"
	"contractguard/internal/chat"
	"contractguard/internal/events"
	"contractguard/internal/history"
	"contractguard/internal/httpx"
	"contractguard/internal/logger"
	"contractguard/internal/session"
	"contractguard/internal/stream"
	"contractguard/internal/tools"

	"github.com/go-chi/chi/v5"
)

// Conversations 是 agent 路由依赖的会话服务。
type Conversations interface {
	Turn(ctx context.Context, conversationID string, incoming []agent.Message, sink chat.Sink) error
	Decide(ctx context.Context, conversationID string, decision tools.Decision, sink chat.Sink) error
	History(ctx context.Context, conversationID string) ([]agent.Message, error)
	List(ctx context.Context) ([]string, error)
	Reports(conversationID string) ([]history.Entry, error)
}

type chatRequest struct {
	ID       string          `json:"id,omitempty"`
	Messages []agent.Message `json:"messages"`
	Trigger  string          `json:"trigger,omitempty"`
}

type decisionRequest struct {
	Approved *bool `json:"approved"`
}

type agentRouter struct {
	svc Conversations
	bus *events.Bus
}

// NewAgentRouter 构造会话相关的 HTTP 路由。
func NewAgentRouter(svc Conversations, bus *events.Bus) agent.RequestRouter {
	h := &agentRouter{svc: svc, bus: bus}

	r := chi.NewRouter()
	r.Get("/agents/chat", h.list)
	r.Post("/agents/chat/{id}", h.chat)
	r.Get("/agents/chat/{id}/messages", h.messages)
	r.Get("/agents/chat/{id}/reports", h.reports)
	r.Post("/agents/chat/{id}/tools/{toolCallId}", h.decide)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "NOT_FOUND", "no route for "+r.URL.Path, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" is not supported on "+r.URL.Path, nil)
	})
	return r
}

func (h *agentRouter) chat(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	sw := stream.NewWriter(w, id, h.bus)
	err := h.svc.Turn(r.Context(), id, req.Messages, sw)
	h.finish(w, sw, id, err)
}

func (h *agentRouter) list(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.List(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error(), nil)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id":    httpx.NewRequestID(),
		"conversations": ids,
	})
}

func (h *agentRouter) messages(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	msgs, err := h.svc.History(r.Context(), id)
	if err != nil {
		status, code := classify(err)
		httpx.WriteError(w, status, code, err.Error(), nil)
		return
	}
	if msgs == nil {
		msgs = []agent.Message{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id":      httpx.NewRequestID(),
		"conversation_id": id,
		"messages":        msgs,
		"pending":         len(agent.PendingToolCalls(msgs)),
	})
}

func (h *agentRouter) reports(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	entries, err := h.svc.Reports(id)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error(), nil)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id":      httpx.NewRequestID(),
		"conversation_id": id,
		"reports":         entries,
	})
}

func (h *agentRouter) decide(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	callID := chi.URLParam(r, "toolCallId")
	var req decisionRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.Approved == nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "approved is required", nil)
		return
	}

	sw := stream.NewWriter(w, id, h.bus)
	err := h.svc.Decide(r.Context(), id, tools.Decision{ToolCallID: callID, Approved: *req.Approved}, sw)
	h.finish(w, sw, id, err)
}

// finish 结束流式响应。尚未写出任何帧的错误改写为 JSON 错误响应。
func (h *agentRouter) finish(w http.ResponseWriter, sw *stream.Writer, id string, err error) {
	if err != nil && !sw.Started() {
		status, code := classify(err)
		log.WithError(err).WithFields(logger.Fields{
			"conversation_id": id,
			"status":          status,
		}).Info("request rejected")
		httpx.WriteError(w, status, code, err.Error(), nil)
		return
	}
	if cerr := sw.Close(); cerr != nil {
		log.WithError(cerr).WithField("conversation_id", id).Debug("client went away before [DONE]")
	}
}

func conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := session.ValidateID(id); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_CONVERSATION_ID", err.Error(), nil)
		return "", false
	}
	return id, true
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, chat.ErrEmptyConversation):
		return http.StatusBadRequest, "EMPTY_CONVERSATION"
	case errors.Is(err, chat.ErrInvalidHistory):
		return http.StatusBadRequest, "INVALID_HISTORY"
	case errors.Is(err, tools.ErrNoPendingCall):
		return http.StatusConflict, "NO_PENDING_CALL"
	default:
		return http.StatusInternalServerError, "TURN_FAILED"
	}
}
