package tools

import "context"

// ToolHook intercepts tool execution for cross-cutting concerns: budget
// metering, policy checks, logging.
//
// BeforeExecute runs before the tool; a non-nil error blocks execution and
// skips later hooks. AfterExecute runs after the tool completes (even on
// error) and may rewrite the result in place.
type ToolHook interface {
	BeforeExecute(ctx context.Context, toolName string, args map[string]any) error
	AfterExecute(ctx context.Context, toolName string, args map[string]any, result *ToolResult)
}
