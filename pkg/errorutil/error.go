package errorutil

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind int

const (
	// KindUnknown 未分类
	KindUnknown Kind = iota
	// KindTransport 传输层错误（解析/拉取/删除/修改可见性/发布），留给队列自然重投
	KindTransport
	// KindConfig 配置错误，启动阶段直接失败
	KindConfig
	// KindData 数据错误（例如缺少幂等元数据），返回给调用方
	KindData
	// KindHandler Handler 返回错误或 panic，消息不确认
	KindHandler
)

// String 返回分类名称
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindConfig:
		return "config"
	case KindData:
		return "data"
	case KindHandler:
		return "handler"
	default:
		return "unknown"
	}
}

// Error 错误结构（包含分类和可重试标记）
type Error struct {
	Kind      Kind   `json:"kind"`
	Op        string `json:"op,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

// Error 实现 error 接口
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap 支持 errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// Transport 创建传输层错误（可重试）
func Transport(op string, err error) *Error {
	return &Error{
		Kind:      KindTransport,
		Op:        op,
		Message:   "transport call failed",
		Retryable: true,
		Err:       err,
	}
}

// Config 创建配置错误（不可重试）
func Config(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindConfig,
		Message: fmt.Sprintf(format, args...),
	}
}

// Data 创建数据错误（不可重试）
func Data(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindData,
		Message: fmt.Sprintf(format, args...),
	}
}

// Handler 包装 Handler 错误（消息会被重新投递，因此标记为可重试）
func Handler(op string, err error) *Error {
	return &Error{
		Kind:      KindHandler,
		Op:        op,
		Message:   "handler failed",
		Retryable: true,
		Err:       err,
	}
}

// Wrap 包装错误（已是 *Error 则原样返回）
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	// 默认为不可重试错误
	return &Error{
		Kind:    KindUnknown,
		Message: err.Error(),
		Err:     err,
	}
}

// IsKind 判断错误链上是否存在指定分类
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Retryable
}
