package events

import (
	"encoding/json"
	"time"
)

// Event 是一条对外广播的流帧，与写给客户端的 SSE 帧一致。
type Event struct {
	ConversationID string          `json:"conversationId"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"ts"`
}
