package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// ===== codes =====

const (
	ServerInternalError = 500

	NotOpen            = 1001 // 连接未就绪，发送被拒
	SendTimeout        = 1002
	ConnectionClosed   = 1003
	SendQueueFull      = 1004
	TypingThrottled    = 1005
	MalformedEnvelope  = 1006
	ReconnectExhausted = 1007
	CredentialMissing  = 1008
	InvalidConfig      = 1009
)

var (
	ErrNotOpen            = NewCodeError(NotOpen, "connection not open")
	ErrSendTimeout        = NewCodeError(SendTimeout, "send timed out").Retry()
	ErrConnectionClosed   = NewCodeError(ConnectionClosed, "connection closed")
	ErrSendQueueFull      = NewCodeError(SendQueueFull, "send queue full").Retry()
	ErrTypingThrottled    = NewCodeError(TypingThrottled, "typing throttled")
	ErrMalformedEnvelope  = NewCodeError(MalformedEnvelope, "malformed envelope")
	ErrReconnectExhausted = NewCodeError(ReconnectExhausted, "connection lost")
	ErrCredentialMissing  = NewCodeError(CredentialMissing, "credential missing")
	ErrInvalidConfig      = NewCodeError(InvalidConfig, "invalid config")
)

type CodeErrorI interface {
	ECode() int
	EMsg() string
	DDetail() string
	IsRetryable() bool
	error
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

// CodeError 业务错误码；Retryable 表示调用方可以原样重试。
type CodeError struct {
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e *CodeError) ECode() int        { return e.Code }
func (e *CodeError) EMsg() string      { return e.Msg }
func (e *CodeError) DDetail() string   { return e.Detail }
func (e *CodeError) IsRetryable() bool { return e.Retryable }

// Retry returns a retryable copy.
func (e *CodeError) Retry() *CodeError {
	c := e.clone()
	c.Retryable = true
	return c
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	c := e.clone()
	if c.Detail == "" {
		c.Detail = detail
	} else {
		c.Detail += ", " + detail
	}
	return c
}

func (e *CodeError) Wrap() error {
	return pkgerrors.WithStack(e.clone())
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:      e.Code,
		Msg:       e.Msg,
		Detail:    e.Detail,
		Retryable: e.Retryable,
	}
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	retErr := e.clone()
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if retErr.Detail == "" {
			retErr.Detail = detail
		} else {
			retErr.Detail += ", " + detail
		}
	}
	return pkgerrors.WithStack(retErr)
}

// Is matches any CodeError carrying the same code, so errors.Is works
// against the package sentinels regardless of detail.
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return e.Code == t.Code
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// IsRetryable reports whether err carries a retryable CodeError.
func IsRetryable(err error) bool {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// Code returns the CodeError code in err's chain, or 0.
func Code(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, toString(msg, kv))
}

func New(msg string, kv ...any) error {
	return pkgerrors.New(toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
