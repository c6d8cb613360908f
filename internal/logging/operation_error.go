package logging

import (
	"strings"

	"go.uber.org/zap"
)

// OpError tags a failure with the pipeline step that produced it, such as
// "worker.embed" or "store.connect", and the request it belonged to.
type OpError struct {
	Op        string
	RequestID string
	Err       error
}

// Wrap returns nil for a nil err.
func Wrap(op, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, RequestID: requestID, Err: err}
}

// Error renders "op: err", or "op [request id]: err" inside a request.
func (e *OpError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Op)
	if e.RequestID != "" {
		b.WriteString(" [request ")
		b.WriteString(e.RequestID)
		b.WriteByte(']')
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OpError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fields carries the same keys as WithOperation plus the cause.
func (e *OpError) Fields() []zap.Field {
	fields := []zap.Field{zap.String("operation", e.Op)}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	return append(fields, zap.Error(e.Err))
}
