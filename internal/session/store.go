package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"contractguard/internal/agent"
)

// ErrNotFound 表示会话不存在。
var ErrNotFound = errors.New("conversation not found")

type Record struct {
	ID       string          `json:"id"`
	Messages []agent.Message `json:"messages"`
	Updated  time.Time       `json:"updated"`
}

// Store 持久化会话消息，Save 总是整体覆盖。
type Store interface {
	Load(ctx context.Context, id string) (Record, error)
	Save(ctx context.Context, id string, messages []agent.Message) error
	ListIDs(ctx context.Context) ([]string, error)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateID 限制会话 id 的字符集，避免被用作文件路径时越界。
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid conversation id %q", id)
	}
	return nil
}
