package llm

import (
	"context"
	"errors"
)

var (
	// ErrUnknownTool is returned by registries for names they do not serve.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments marks tool calls whose arguments fail validation.
	// Such calls are not retried.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// ToolRegistry exposes the tools of one agent session and executes them.
// Implementations are bound to their session's state.
type ToolRegistry interface {
	Tools() []Tool
	HandleTool(ctx context.Context, name string, args map[string]any) (string, error)
}
