package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/newsdesk/internal/ledger"
	"github.com/kalambet/newsdesk/internal/review"
)

// NewMCPServer creates an MCP server exposing the review desk to assistants.
// It uses the same services as the HTTP API.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"newsdesk",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("newsdesk: editorial queue, human review tasks and the monthly budget ledger."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("queue_stats",
			mcp.WithDescription("Return the number of pending, processed and failed queue items."),
		),
		mcpQueueStats(deps),
	)

	s.AddTool(
		mcp.NewTool("list_review_tasks",
			mcp.WithDescription("List review tasks. Defaults to tasks awaiting review."),
			mcp.WithString("state", mcp.Description("REVIEWING, APPROVED or REJECTED")),
			mcp.WithString("kind", mcp.Description("EVIDENCE, TEMPLATE, NEWS or LEDGER_REPORT")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of tasks (default 20)")),
		),
		mcpListReviewTasks(deps),
	)

	s.AddTool(
		mcp.NewTool("get_review_task",
			mcp.WithDescription("Fetch one review task with its checklist."),
			mcp.WithString("id", mcp.Description("Review task id"), mcp.Required()),
		),
		mcpGetReviewTask(deps),
	)

	s.AddTool(
		mcp.NewTool("decide_review_task",
			mcp.WithDescription("Approve or reject a review task awaiting review."),
			mcp.WithString("id", mcp.Description("Review task id"), mcp.Required()),
			mcp.WithString("state", mcp.Description("APPROVED or REJECTED"), mcp.Required()),
			mcp.WithString("reviewer", mcp.Description("Who is deciding"), mcp.Required()),
			mcp.WithString("notes", mcp.Description("Optional reviewer notes")),
		),
		mcpDecideReviewTask(deps),
	)

	s.AddTool(
		mcp.NewTool("ledger_summary",
			mcp.WithDescription("Summarize spend for a month against the monthly cap."),
			mcp.WithString("month", mcp.Description("Month as yyyy-mm"), mcp.Required()),
		),
		mcpLedgerSummary(deps),
	)

	s.AddTool(
		mcp.NewTool("run_pipeline",
			mcp.WithDescription("Process pending queue items through classification, safety and generation."),
			mcp.WithNumber("count", mcp.Description("Items to attempt (default 1)")),
		),
		mcpRunPipeline(deps),
	)

	return s
}

func mcpQueueStats(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Queue.Stats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("queue stats failed: %v", err)), nil
		}
		return mcpJSON(stats)
	}
}

func mcpListReviewTasks(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 || limit > 200 {
			limit = 20
		}
		tasks, err := deps.Reviews.List(ctx, review.Filter{
			State: review.State(strings.ToUpper(req.GetString("state", ""))),
			Kind:  review.Kind(strings.ToUpper(req.GetString("kind", ""))),
			Limit: limit,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("listing review tasks failed: %v", err)), nil
		}
		return mcpJSON(tasks)
	}
}

func mcpGetReviewTask(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		task, err := deps.Reviews.Get(ctx, id)
		if errors.Is(err, review.ErrNotFound) {
			return mcpError(fmt.Sprintf("review task %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("loading review task failed: %v", err)), nil
		}
		return mcpJSON(task)
	}
}

func mcpDecideReviewTask(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		state, err := req.RequireString("state")
		if err != nil {
			return mcpError("state is required"), nil
		}
		reviewer, err := req.RequireString("reviewer")
		if err != nil {
			return mcpError("reviewer is required"), nil
		}
		var notes *string
		if n := req.GetString("notes", ""); n != "" {
			notes = &n
		}

		task, err := deps.Reviews.Decide(ctx, id, review.State(strings.ToUpper(state)), reviewer, notes)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Review task %s is now %s", task.ID, task.State)), nil
	}
}

func mcpLedgerSummary(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		month, err := req.RequireString("month")
		if err != nil {
			return mcpError("month is required"), nil
		}
		sum, err := deps.Ledger.Summarize(ctx, month)
		var invalid *ledger.ValidationError
		if errors.As(err, &invalid) {
			return mcpError(invalid.Error()), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("ledger summary failed: %v", err)), nil
		}
		return mcpJSON(sum)
	}
}

func mcpRunPipeline(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		results, err := deps.Processor.Run(ctx, req.GetInt("count", 1))
		if err != nil && len(results) == 0 {
			return mcpError(fmt.Sprintf("pipeline run failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("No pending items."), nil
		}
		return mcpJSON(results)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
