package console

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Request is one line read from the console. Op-specific fields sit next to
// the envelope, e.g. {"op":"stop","force":true}.
type Request struct {
	ID     interface{}     `json:"id,omitempty"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"-"`
}

// Response is one line written back. Exactly one of Result and Error is set.
type Response struct {
	ID     interface{}     `json:"id,omitempty"`
	Op     string          `json:"op,omitempty"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is the error object of a failed request. Phase is the controller
// phase after the failure.
type Error struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
	Phase   string `json:"phase,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

// Protocol-level tags. Operation failures use the lifecycle tags.
const (
	TagParse          = "parse_error"
	TagInvalidRequest = "invalid_request"
	TagUnknownOp      = "unknown_op"
)

// NewError creates a new console error with the given tag and message
func NewError(tag, message string) *Error {
	return &Error{Tag: tag, Message: message}
}

// OpHandler handles one op. params is the full request line.
type OpHandler func(ctx context.Context, params json.RawMessage) (interface{}, *Error)

// OpRegistry holds registered ops
type OpRegistry struct {
	ops map[string]OpHandler
}

// NewOpRegistry creates a new op registry
func NewOpRegistry() *OpRegistry {
	return &OpRegistry{
		ops: make(map[string]OpHandler),
	}
}

// RegisterOp registers a new op handler
func (r *OpRegistry) RegisterOp(name string, handler OpHandler) {
	r.ops[name] = handler
}

// Ops returns the registered op names.
func (r *OpRegistry) Ops() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	return names
}

// Dispatch calls the handler registered for op
func (r *OpRegistry) Dispatch(ctx context.Context, op string, params json.RawMessage) (interface{}, *Error) {
	handler, ok := r.ops[op]
	if !ok {
		return nil, NewError(TagUnknownOp, fmt.Sprintf("unknown op %q", op))
	}
	return handler(ctx, params)
}

// ParseRequest parses one console line.
func ParseRequest(data []byte) (*Request, *Error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, NewError(TagParse, "request is not a JSON object")
	}
	req.Op = strings.TrimSpace(req.Op)
	if req.Op == "" {
		return &req, NewError(TagInvalidRequest, "op is required")
	}
	req.Params = json.RawMessage(data)
	return &req, nil
}

// decodeParams fills v from the request line, rejecting mistyped fields.
func decodeParams(params json.RawMessage, v interface{}) *Error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return NewError(TagInvalidRequest, fmt.Sprintf("invalid params: %v", err))
	}
	return nil
}

func newResponse(id interface{}, op string, result interface{}, opErr *Error) Response {
	resp := Response{ID: id, Op: op}
	if opErr != nil {
		resp.Error = opErr
		return resp
	}
	raw, err := json.Marshal(result)
	if err != nil {
		resp.Error = NewError("internal", fmt.Sprintf("failed to encode result: %v", err))
		return resp
	}
	resp.OK = true
	resp.Result = raw
	return resp
}
