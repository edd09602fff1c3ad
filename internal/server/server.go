package server

import (
	"errors"
	"net/http"
	"time"

	"contractguard/internal/agent"
	"contractguard/internal/events"
	"contractguard/internal/httpx"
	"contractguard/internal/logger"
	"contractguard/internal/stream"

	"github.com/go-chi/chi/v5"
)

const defaultHeartbeat = 15 * time.Second

var log = logger.Named("server")

// Options 配置请求分发器。
type Options struct {
	// HasAPIKey 在每次分发时调用，用于提示缺失的模型凭据。
	HasAPIKey func() bool
	Agents    agent.RequestRouter
	Bus       *events.Bus
	Heartbeat time.Duration
}

type dispatcher struct {
	hasAPIKey func() bool
	agents    agent.RequestRouter
	bus       *events.Bus
	heartbeat time.Duration
}

// New 构造请求分发器：两个固定路径，其余请求全部交给 agent 路由。
func New(opts Options) http.Handler {
	d := &dispatcher{
		hasAPIKey: opts.HasAPIKey,
		agents:    opts.Agents,
		bus:       opts.Bus,
		heartbeat: opts.Heartbeat,
	}
	if d.hasAPIKey == nil {
		d.hasAPIKey = func() bool { return false }
	}
	if d.heartbeat <= 0 {
		d.heartbeat = defaultHeartbeat
	}

	r := chi.NewRouter()
	r.Get("/check-open-ai-key", d.checkKey)
	r.Get("/debug/events", d.debugEvents)
	r.NotFound(d.dispatch)
	r.MethodNotAllowed(d.dispatch)
	return r
}

func (d *dispatcher) checkKey(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": d.hasAPIKey()})
}

// debugEvents 以 SSE 转发总线上的全部帧，直到客户端断开。
func (d *dispatcher) debugEvents(w http.ResponseWriter, r *http.Request) {
	if d.bus == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "EVENTS_DISABLED", "event bus is not configured", nil)
		return
	}
	ch, cancel := d.bus.Subscribe()
	defer cancel()

	log.WithField("subscribers", d.bus.Subscribers()).Debug("debug events subscriber connected")
	err := stream.Relay(r.Context(), w, ch, d.heartbeat)
	if err != nil && !errors.Is(err, r.Context().Err()) {
		log.WithError(err).Warn("debug events relay stopped")
	}
}

// dispatch 把未匹配的请求交给 agent 路由。凭据缺失只记录警告，请求照常处理。
func (d *dispatcher) dispatch(w http.ResponseWriter, r *http.Request) {
	if !d.hasAPIKey() {
		log.WithFields(logger.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Warn("model API key is not set; the request will fail at the model call")
	}
	if d.agents == nil {
		httpx.WriteError(w, http.StatusNotFound, "NOT_FOUND", "no route for "+r.URL.Path, nil)
		return
	}
	d.agents.ServeHTTP(w, r)
}
