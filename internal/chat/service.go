package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"contractguard/internal/agent"
	"contractguard/internal/history"
	"contractguard/internal/logger"
	"contractguard/internal/session"
	"contractguard/internal/tools"

	"github.com/google/uuid"
)

const (
	defaultMaxSteps       = 5
	defaultRequestTimeout = 120 * time.Second
)

var log = logger.Named("chat")

// ErrEmptyConversation 表示既没有传入消息，也没有已保存的历史。
var ErrEmptyConversation = errors.New("conversation has no messages")

// ErrInvalidHistory 表示消息历史违反了 toolCallId 唯一等约束。
var ErrInvalidHistory = errors.New("invalid conversation history")

// Sink 接收一次会话轮次的全部输出帧。
type Sink interface {
	tools.Sink
	Start(messageID string) error
	TextDelta(messageID, delta string) error
	Error(text string) error
	Finish(reason string) error
}

type Options struct {
	Client        agent.ModelClient
	Store         session.Store
	Reports       *history.Store
	Model         string
	MaxSteps      int
	Timeout       time.Duration
	Confirmations *tools.Registry
	// NewID 生成消息 id，测试中可替换。
	NewID func() string
}

// Service 执行会话轮次：清理、调和工具调用、调用模型并持久化。
type Service struct {
	client        agent.ModelClient
	store         session.Store
	reports       *history.Store
	model         string
	maxSteps      int
	timeout       time.Duration
	confirmations *tools.Registry
	newID         func() string
}

func NewService(opts Options) *Service {
	s := &Service{
		client:        opts.Client,
		store:         opts.Store,
		reports:       opts.Reports,
		model:         opts.Model,
		maxSteps:      opts.MaxSteps,
		timeout:       opts.Timeout,
		confirmations: opts.Confirmations,
		newID:         opts.NewID,
	}
	if s.maxSteps <= 0 {
		s.maxSteps = defaultMaxSteps
	}
	if s.timeout <= 0 {
		s.timeout = defaultRequestTimeout
	}
	if s.confirmations == nil {
		s.confirmations = tools.Confirmations()
	}
	if s.newID == nil {
		s.newID = func() string { return "msg_" + uuid.NewString() }
	}
	return s
}

// Turn 处理一次用户请求。incoming 非空时替换已保存的历史。
// 准备阶段的错误直接返回且不写 sink；之后的错误会以 error 帧写入 sink 并同样返回。
func (s *Service) Turn(ctx context.Context, conversationID string, incoming []agent.Message, sink Sink) error {
	msgs := agent.CloneMessages(incoming)
	if len(msgs) == 0 {
		rec, err := s.store.Load(ctx, conversationID)
		if err != nil {
			return stageError{Stage: stageLoad, Err: err}
		}
		msgs = rec.Messages
	}
	if len(msgs) == 0 {
		return ErrEmptyConversation
	}
	stampMessages(msgs, s.newID)

	msgs = agent.Sanitize(msgs)
	if err := agent.ValidateToolCallIDs(msgs); err != nil {
		return stageError{Stage: stageValidate, Err: fmt.Errorf("%w: %v", ErrInvalidHistory, err)}
	}
	return s.run(ctx, conversationID, msgs, sink)
}

// Decide 应用一次人工审批，然后继续该会话的轮次。
func (s *Service) Decide(ctx context.Context, conversationID string, decision tools.Decision, sink Sink) error {
	rec, err := s.store.Load(ctx, conversationID)
	if err != nil {
		return stageError{Stage: stageLoad, Err: err}
	}
	msgs, err := tools.ApplyDecision(ctx, agent.Sanitize(rec.Messages), decision, s.confirmations, sink)
	if err != nil {
		return stageError{Stage: stageDecision, Err: err}
	}
	return s.run(ctx, conversationID, msgs, sink)
}

// History 返回已保存的会话消息。
func (s *Service) History(ctx context.Context, conversationID string) ([]agent.Message, error) {
	rec, err := s.store.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return rec.Messages, nil
}

// Reports 返回该会话已记录的风险报告摘要。
func (s *Service) Reports(conversationID string) ([]history.Entry, error) {
	if s.reports == nil {
		return nil, nil
	}
	return s.reports.Load(conversationID)
}

// List 返回已保存的会话 id，最近更新的在前。
func (s *Service) List(ctx context.Context) ([]string, error) {
	return s.store.ListIDs(ctx)
}

// stampMessages 为缺少 id 或时间戳的消息补齐元数据。
func stampMessages(msgs []agent.Message, newID func() string) {
	now := time.Now().UTC()
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = newID()
		}
		if msgs[i].Metadata == nil {
			msgs[i].Metadata = &agent.Metadata{CreatedAt: now}
		}
	}
}
