package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/empyre-fit/empyre/internal/coach"
	"github.com/empyre-fit/empyre/internal/plan"
	"github.com/empyre-fit/empyre/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Coach *coach.Coach
	Store *storage.Store
}

// NewMCPServer creates an MCP server with the coaching tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"empyre",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("empyre: a fitness coach that builds a profile through conversation, then writes and maintains a guardrail-checked training and nutrition plan."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("coach_chat",
			mcp.WithDescription("Send one message to the coach for a user and get the next question, decision, plan or confirmation."),
			mcp.WithString("user_id", mcp.Description("Stable user identifier"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The user's message"), mcp.Required()),
			mcp.WithString("profile_patch", mcp.Description("Optional JSON object of profile fields to set before the turn")),
		),
		mcpCoachChat(deps),
	)

	s.AddTool(
		mcp.NewTool("log_progress",
			mcp.WithDescription("Record a workout, measurement or achieved goal. Laurels are awarded in the background."),
			mcp.WithString("user_id", mcp.Description("Stable user identifier"), mcp.Required()),
			mcp.WithString("log_type", mcp.Description("workout, measurement or goal"), mcp.Required()),
			mcp.WithString("log_data", mcp.Description("JSON object with the details, e.g. {\"exercise\":\"squat\",\"weight_kg\":100}")),
		),
		mcpLogProgress(deps),
	)

	s.AddTool(
		mcp.NewTool("get_profile",
			mcp.WithDescription("Return a user's profile, conversation stage and laurel total."),
			mcp.WithString("user_id", mcp.Description("Stable user identifier"), mcp.Required()),
		),
		mcpGetProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("list_laurels",
			mcp.WithDescription("List the laurels a user has earned, newest first."),
			mcp.WithString("user_id", mcp.Description("Stable user identifier"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of laurels (default 20)")),
		),
		mcpListLaurels(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"coach://guardrails",
			"Plan Guardrails",
			mcp.WithResourceDescription("Safety limits every generated plan is checked against"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceGuardrails,
	)

	return s
}

func mcpCoachChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		var patch map[string]any
		if raw := req.GetString("profile_patch", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &patch); err != nil {
				return mcpError(fmt.Sprintf("invalid profile_patch JSON: %v", err)), nil
			}
		}

		resp, err := deps.Coach.Turn(ctx, coach.TurnRequest{UserID: userID, Message: message, Patch: patch})
		if err != nil {
			return mcpError(describeError(err)), nil
		}
		return mcpJSON(resp)
	}
}

func mcpLogProgress(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		logType, err := req.RequireString("log_type")
		if err != nil {
			return mcpError("log_type is required"), nil
		}

		l, err := newProgressLog(userID, logType, []byte(req.GetString("log_data", "")))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if err := deps.Store.AppendProgressLog(ctx, l); err != nil {
			return mcpError(fmt.Sprintf("failed to save progress log: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Logged %s %s", l.LogType, l.ID)), nil
	}
}

func mcpGetProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		p, stage, err := deps.Coach.State(ctx, userID)
		if err != nil {
			return mcpError(describeError(err)), nil
		}
		points, err := deps.Store.LaurelPoints(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to sum laurels: %v", err)), nil
		}
		return mcpJSON(map[string]any{
			"profile":      p,
			"stage":        stage,
			"total_points": points,
		})
	}
}

func mcpListLaurels(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		ls, err := deps.Store.ListLaurels(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list laurels: %v", err)), nil
		}
		if len(ls) > limit {
			ls = ls[:limit]
		}
		views := make([]laurelView, len(ls))
		for i, l := range ls {
			views[i] = toLaurelView(l)
		}
		return mcpJSON(views)
	}
}

func mcpResourceGuardrails(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(map[string]any{
		"max_deficit_fraction":  plan.MaxDeficit,
		"min_protein_g_per_kg":  plan.MinProteinPerKg,
		"min_fat_g_per_kg":      plan.MinFatPerKg,
		"reps":                  []int{plan.MinReps, plan.MaxReps},
		"sets":                  []int{plan.MinSets, plan.MaxSets},
		"max_hours_per_day":     plan.MaxHoursPerDay,
		"disclaimer_bmi_bounds": []float64{plan.LowBMI, plan.HighBMI},
		"compound_groups":       groupNames(plan.DefaultCompoundCatalog),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal guardrails: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func groupNames(groups []plan.MuscleGroup) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.Name
	}
	return out
}

// describeError renders err for a tool result, listing guardrail
// violations and flagging retryable failures.
func describeError(err error) string {
	var violation *plan.GuardrailViolationError
	if errors.As(err, &violation) {
		b, _ := json.Marshal(violation.Violations)
		return "the generated plan failed safety checks: " + string(b)
	}
	if isRetryable(err) {
		return "temporarily unavailable, retry: " + err.Error()
	}
	return err.Error()
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
