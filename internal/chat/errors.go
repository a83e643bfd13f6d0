package chat

import (
	"errors"
	"fmt"
)

// 网关层通用错误，handler 据此映射 HTTP 状态码；ErrDenied 不得附带任何细节。
var (
	ErrNotFound   = errors.New("not found")
	ErrDenied     = errors.New("request rejected")
	ErrValidation = errors.New("validation failed")
)

// ValidationError 指出哪个输入字段校验失败。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
