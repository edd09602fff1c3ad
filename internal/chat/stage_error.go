package chat

import "fmt"

// stageError 为错误附加稳定的阶段标识，便于日志中定位失败环节。
type stageError struct {
	Stage string
	Err   error
}

func (e stageError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%v", e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e stageError) Unwrap() error { return e.Err }

const (
	stageLoad     = "load"
	stageValidate = "validate"
	stageModel    = "model"
	stagePersist  = "persist"
	stageDecision = "decision"
)
