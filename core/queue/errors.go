package queue

import (
	"errors"
	"fmt"
)

// 错误分类，用 errors.Is 判断
var (
	ErrExtraction   = errors.New("extraction failure")
	ErrPlayback     = errors.New("playback failure")
	ErrRejected     = errors.New("operation rejected")
	ErrNotConnected = errors.New("not connected")
)

// QueueError 单次调用的错误，只出现在该调用自己的事件流中
type QueueError struct {
	Kind    error  // 上面的分类之一
	Message string // 给用户看的简短说明
	Err     error  // 原始错误，仅用于日志
}

func (e *QueueError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *QueueError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName 错误分类的名称，用于事件序列化
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrExtraction):
		return "extraction_failure"
	case errors.Is(err, ErrPlayback):
		return "playback_failure"
	case errors.Is(err, ErrRejected):
		return "operation_rejected"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	default:
		return "internal"
	}
}

func newError(kind error, message string, err error) *QueueError {
	return &QueueError{Kind: kind, Message: message, Err: err}
}

var errNotConnected = newError(ErrNotConnected, "queue is not connected", nil)
