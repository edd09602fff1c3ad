package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"contractguard/internal/agent"
	"contractguard/internal/history"
	"contractguard/internal/logger"
	"contractguard/internal/prompts"
	"contractguard/internal/stream"
	"contractguard/internal/tools"

	"github.com/google/uuid"
)

// run 在已清理的历史上执行调和与模型步骤，始终以 finish 帧结束。
func (s *Service) run(ctx context.Context, conversationID string, msgs []agent.Message, sink Sink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chat turn panicked: %v", r)
		}
		if err != nil {
			s.logTurnError(conversationID, err)
			_ = sink.Error(userFacingError(err))
			_ = sink.Finish(stream.FinishError)
		}
	}()

	registry := tools.ContractTools(tools.ContractText(msgs))
	msgs = tools.Reconcile(ctx, msgs, registry, sink)

	reason := stream.FinishStop
	for step := 1; ; step++ {
		if tools.NeedsConfirmation(msgs, registry) {
			reason = stream.FinishToolConfirmation
			break
		}
		if step > s.maxSteps {
			reason = stream.FinishMaxSteps
			break
		}

		reply, stepErr := s.step(ctx, msgs, registry, sink, step)
		if len(reply.Parts) > 0 {
			msgs = append(msgs, reply)
		}
		if stepErr != nil {
			s.persist(ctx, conversationID, msgs)
			return stageError{Stage: stageModel, Err: stepErr}
		}
		if len(agent.PendingToolCalls([]agent.Message{reply})) == 0 {
			break
		}
		msgs = tools.Reconcile(ctx, msgs, registry, sink)
	}

	if err := s.persist(ctx, conversationID, msgs); err != nil {
		return stageError{Stage: stagePersist, Err: err}
	}
	if reason == stream.FinishStop {
		s.recordReport(conversationID, msgs)
	}
	log.WithFields(logger.Fields{
		"conversation_id": conversationID,
		"messages":        len(msgs),
		"finish":          reason,
	}).Info("turn finished")
	if err := sink.Finish(reason); err != nil {
		log.WithError(err).WithField("conversation_id", conversationID).Debug("finish frame not delivered")
	}
	return nil
}

// step 执行一次模型调用，把流式输出组装为新的 assistant 消息并实时写入 sink。
func (s *Service) step(ctx context.Context, msgs []agent.Message, registry *tools.Registry, sink Sink, step int) (agent.Message, error) {
	reply := agent.Message{
		ID:       s.newID(),
		Role:     agent.RoleAssistant,
		Metadata: &agent.Metadata{CreatedAt: time.Now().UTC()},
	}
	if err := sink.Start(reply.ID); err != nil {
		return reply, err
	}

	prompt := agent.Prompt{
		Model:    s.model,
		System:   prompts.System(true),
		Messages: msgs,
		Tools:    registry.Specs(),
	}
	logger.LLMLog.Request(s.model, agent.ToLLMMessages(msgs), step)

	b := newReplyBuilder(&reply, usedToolCallIDs(msgs))
	ctxRun, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.client.Stream(ctxRun, prompt, func(ev agent.StreamEvent) {
		switch ev.Type {
		case agent.StreamEventTextDelta:
			b.text(ev.Text)
			_ = sink.TextDelta(reply.ID, ev.Text)
		case agent.StreamEventToolCallStart:
			_ = sink.WritePart(reply.ID, b.startTool(ev.ToolCallID, ev.ToolName))
		case agent.StreamEventToolCall:
			part := b.finishTool(ev.ToolCallID, ev.ToolName, ev.Input)
			logger.LLMLog.ToolCall(s.model, part.ToolName, part.ToolCallID)
			_ = sink.WritePart(reply.ID, part)
		}
	})
	if err != nil {
		logger.LLMLog.Error(s.model, err, step)
		return reply, err
	}
	logger.LLMLog.StreamComplete(s.model, step, b.chars)
	return reply, nil
}

func (s *Service) persist(ctx context.Context, conversationID string, msgs []agent.Message) error {
	err := s.store.Save(context.WithoutCancel(ctx), conversationID, agent.Sanitize(msgs))
	if err != nil {
		log.WithError(err).WithField("conversation_id", conversationID).Error("persist conversation failed")
	}
	return err
}

// recordReport 解析最后一条 assistant 文本中的风险报告，写入报告日志。
func (s *Service) recordReport(conversationID string, msgs []agent.Message) {
	if s.reports == nil {
		return
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != agent.RoleAssistant || msgs[i].Text() == "" {
			continue
		}
		summary, err := prompts.SummarizeReport(msgs[i].Text())
		if err != nil {
			log.WithField("conversation_id", conversationID).Debugf("no risk report: %v", err)
			return
		}
		if err := s.reports.Append(history.Entry{
			ConversationID: conversationID,
			Summary:        summary.Summary,
			OverallRisk:    summary.OverallRisk,
			Risks:          summary.Risks,
			BySeverity:     summary.BySeverity,
		}); err != nil {
			log.WithError(err).Warn("append report failed")
		}
		return
	}
}

func (s *Service) logTurnError(conversationID string, err error) {
	fields := logger.Fields{"conversation_id": conversationID, "model": s.model}
	var se stageError
	msg := "chat turn error"
	if errors.As(err, &se) {
		fields["stage"] = se.Stage
		msg = fmt.Sprintf("chat turn %s error", se.Stage)
	}
	log.WithError(err).WithFields(fields).Error(msg)
}

// userFacingError 返回写给客户端的错误文本。
func userFacingError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "The model did not answer in time. Please try again."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	}
	var se stageError
	if errors.As(err, &se) && se.Stage == stagePersist {
		return "The analysis finished but could not be saved."
	}
	return "Something went wrong while analysing the contract: " + logger.Clip(err.Error())
}

func usedToolCallIDs(msgs []agent.Message) map[string]struct{} {
	out := make(map[string]struct{})
	for _, msg := range msgs {
		for _, part := range msg.Parts {
			if part.IsToolInvocation() {
				out[part.ToolCallID] = struct{}{}
			}
		}
	}
	return out
}

// replyBuilder 将流事件累积为消息片段，保持文本与工具调用的先后顺序。
type replyBuilder struct {
	msg     *agent.Message
	used    map[string]struct{}
	renamed map[string]string
	chars   int
}

func newReplyBuilder(msg *agent.Message, used map[string]struct{}) *replyBuilder {
	return &replyBuilder{msg: msg, used: used, renamed: make(map[string]string)}
}

func (b *replyBuilder) text(delta string) {
	if delta == "" {
		return
	}
	b.chars += len(delta)
	parts := b.msg.Parts
	if n := len(parts); n > 0 && parts[n-1].Type == agent.PartText {
		parts[n-1].Text += delta
		return
	}
	b.msg.Parts = append(parts, agent.TextPart(delta))
}

// resolveID 为空 id 或与历史冲突的 id 分配新值，保证会话内唯一。
func (b *replyBuilder) resolveID(id string) string {
	if mapped, ok := b.renamed[id]; ok {
		return mapped
	}
	out := strings.TrimSpace(id)
	if _, clash := b.used[out]; out == "" || clash {
		out = "call_" + uuid.NewString()
	}
	b.renamed[id] = out
	b.used[out] = struct{}{}
	return out
}

func (b *replyBuilder) startTool(id, name string) agent.Part {
	part := agent.ToolInvocationPart(b.resolveID(id), name, agent.ToolInputStreaming, nil)
	b.msg.Parts = append(b.msg.Parts, part)
	return part
}

func (b *replyBuilder) finishTool(id, name string, input []byte) agent.Part {
	if _, started := b.renamed[id]; started {
		callID := b.renamed[id]
		for i := range b.msg.Parts {
			p := &b.msg.Parts[i]
			if p.IsToolInvocation() && p.ToolCallID == callID {
				p.State = agent.ToolInputAvailable
				p.Input = append([]byte(nil), input...)
				if name != "" {
					p.ToolName = name
				}
				return *p
			}
		}
	}
	part := agent.ToolInvocationPart(b.resolveID(id), name, agent.ToolInputAvailable, append([]byte(nil), input...))
	b.msg.Parts = append(b.msg.Parts, part)
	return part
}
