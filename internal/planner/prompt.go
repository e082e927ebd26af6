package planner

import (
	"fmt"
	"strings"

	"github.com/coriolis-labs/agentrun/internal/mcp"
	"github.com/coriolis-labs/agentrun/internal/runmodel"
	"github.com/coriolis-labs/agentrun/internal/security"
)

const conversationHistoryLimit = 10

// buildSystemPrompt assembles the planner's system prompt: the profile's
// role prompt, a text listing of the tools available on this run, the
// structural anti-injection instruction, and the two-shape response
// contract the model must follow.
func buildSystemPrompt(rolePrompt string, tools []mcp.ToolInfo) string {
	var b strings.Builder
	b.WriteString(rolePrompt)
	b.WriteString("\n\nAvailable MCP tools (server_id, tool_name, description):\n")
	b.WriteString(formatToolsForPrompt(tools))
	b.WriteString("\n\n")
	b.WriteString(security.StructuralInstruction)
	b.WriteString("\n\nRespond with exactly one JSON object, no other text. Choose one:\n")
	b.WriteString(`1. To call a tool: {"action": "tool_call", "server_id": "<id>", "tool_name": "<name>", "arguments": {...}}`)
	b.WriteString("\n")
	b.WriteString(`2. To finish: {"action": "finish", "answer": "<final answer to the user>"}`)
	b.WriteString("\n")
	return b.String()
}

func formatToolsForPrompt(tools []mcp.ToolInfo) string {
	if len(tools) == 0 {
		return "No tools available."
	}
	var lines []string
	for _, t := range tools {
		lines = append(lines, fmt.Sprintf("- Server: %s, Tool: %s: %s", t.ServerID, t.Name, t.Description))
	}
	return strings.Join(lines, "\n")
}

// buildUserPrompt wraps the goal in the structural delimiters and appends
// the last conversationHistoryLimit lines of conversation so the model can
// see the outcome of steps taken so far without an unbounded prompt.
func buildUserPrompt(goal string, conversation []string) string {
	var b strings.Builder
	b.WriteString(security.UserGoalStart)
	b.WriteString("\n")
	b.WriteString(goal)
	b.WriteString("\n")
	b.WriteString(security.UserGoalEnd)
	b.WriteString("\n\n")

	if len(conversation) > 0 {
		start := 0
		if len(conversation) > conversationHistoryLimit {
			start = len(conversation) - conversationHistoryLimit
		}
		b.WriteString("Previous steps and results:\n")
		b.WriteString(strings.Join(conversation[start:], "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString("What is the next action? Reply with one JSON object only.")
	return b.String()
}

// conversationFromSteps reconstructs the step-outcome lines a resumed run's
// prompt needs, since the run store persists steps but not the transient
// conversation slice the loop builds incrementally.
func conversationFromSteps(steps []runmodel.Step) []string {
	var lines []string
	for _, step := range steps {
		if step.Kind == runmodel.StepToolCall && step.ToolCall != nil {
			summary := step.ToolCall.ResultSummary
			if len(summary) > 300 {
				summary = summary[:300]
			}
			lines = append(lines, fmt.Sprintf("Tool call: %s/%s -> %s", step.ToolCall.ServerID, step.ToolCall.ToolName, summary))
		}
	}
	return lines
}
