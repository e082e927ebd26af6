// Package planner drives the single-run state machine described by the
// run execution engine: assemble a prompt from the run's goal and history,
// invoke the configured LLM, parse the next action, dispatch tool calls
// against the tool-server multiplexer, checkpoint progress, and repeat
// until the model finishes, the step cap is hit, the run is cancelled, or
// a tool call needs human approval.
//
//	┌────────┐    ┌───────────┐    ┌────────────┐    ┌──────────┐
//	│ pending│───▶│  running  │───▶│  finish /   │───▶│completed │
//	└────────┘    │ (steps)   │    │  step cap   │    └──────────┘
//	              └─────┬─────┘    └────────────┘
//	                    │ approval-required tool_call
//	                    ▼
//	             ┌────────────────┐   approve    ┌──────────┐
//	             │awaiting_approval│──────────────▶│ running  │ (resumes)
//	             └────────────────┘   reject      └──────────┘
//	                    │                              │
//	                    ▼                              ▼ cancelled status seen
//	               ┌────────┐                     ┌──────────┐
//	               │ failed │                     │cancelled │
//	               └────────┘                     └──────────┘
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coriolis-labs/agentrun/internal/config"
	"github.com/coriolis-labs/agentrun/internal/mcp"
	"github.com/coriolis-labs/agentrun/internal/runmodel"
	"github.com/coriolis-labs/agentrun/internal/runstore"
	"github.com/coriolis-labs/agentrun/internal/security"
	"github.com/coriolis-labs/agentrun/pkg/llm"
)

// MaxSteps bounds a single run's planner iterations. A run that never
// reaches finish is completed with a fixed answer once this cap is hit.
const MaxSteps = 15

const (
	rawResponseStepLimit = 500
	rawResponseFinLimit  = 300
	toolResultLimit      = 500
)

// Config bundles the tunables the loop reads once at construction.
type Config struct {
	LLMTimeout         time.Duration
	ToolTimeout        time.Duration
	PromptInjectFilter bool
}

// ToolProvider is the subset of *mcp.Manager the loop needs: the tool
// catalog scoped to a profile, and execution of a single call. Narrowing to
// an interface keeps the loop testable against a scripted tool catalog
// without a live subprocess.
type ToolProvider interface {
	ToolsForProfile(allowedServers []string) []mcp.ToolInfo
	CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) *mcp.ToolCallResult
}

// ProfileSource resolves an agent profile by ID. *config.Store satisfies
// this directly.
type ProfileSource interface {
	Profile(id string) (*config.AgentProfile, bool)
}

// Loop runs planner steps for any number of runs concurrently; within a
// single run, steps are strictly sequential.
type Loop struct {
	store    runstore.Store
	tools    ToolProvider
	profiles ProfileSource
	provider llm.Provider
	cfg      Config
	logger   *slog.Logger
}

// New constructs a Loop. provider may be nil, in which case llm.Default()
// is resolved lazily on each call so a process-wide provider installed
// after construction still takes effect.
func New(store runstore.Store, tools ToolProvider, profiles ProfileSource, provider llm.Provider, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{store: store, tools: tools, profiles: profiles, provider: provider, cfg: cfg, logger: logger.With("component", "planner")}
}

func (l *Loop) resolveProvider() llm.Provider {
	if l.provider != nil {
		return l.provider
	}
	return llm.Default()
}

// StartRun begins a new run's planner loop synchronously from step 1. The
// caller is expected to invoke this from a worker goroutine (the run
// queue), not from the HTTP request path.
func (l *Loop) StartRun(ctx context.Context, runID string) {
	run, err := l.store.GetRunByID(ctx, runID)
	if err != nil {
		l.logger.Error("start run: run not found", "run_id", runID, "error", err)
		return
	}

	profile, ok := l.profiles.Profile(run.AgentProfileID)
	var rolePrompt string
	var allowedServers []string
	if ok {
		rolePrompt = profile.RolePrompt
		allowedServers = profile.AllowedMCPServers
	} else {
		profile = &config.AgentProfile{}
	}
	if rolePrompt == "" {
		rolePrompt = "You are a helpful assistant. Output next action as JSON."
	}

	tools := l.tools.ToolsForProfile(allowedServers)
	if len(tools) == 0 {
		errMsg := fmt.Sprintf("No MCP tools available for agent profile %q. Configure allowed_mcp_servers.", run.AgentProfileID)
		failed := runmodel.StatusFailed
		l.store.UpdateRun(ctx, runID, runmodel.UpdateFields{Status: &failed, Error: &errMsg})
		l.store.AppendRunEvent(ctx, runID, runmodel.EventStatus, map[string]string{"status": string(failed), "error": errMsg})
		return
	}

	running := runmodel.StatusRunning
	l.store.UpdateRun(ctx, runID, runmodel.UpdateFields{Status: &running})
	l.store.AppendRunEvent(ctx, runID, runmodel.EventStatus, map[string]string{"status": string(running)})

	l.runSteps(ctx, stepsArgs{
		runID:        runID,
		goal:         run.Goal,
		rolePrompt:   rolePrompt,
		tools:        tools,
		profile:      profile,
		steps:        nil,
		toolCalls:    nil,
		conversation: nil,
		streamTokens: run.StreamTokens,
		startStep:    1,
	})
}

// ResumeRun implements approval.Resumer: it reloads the run's persisted
// steps and tool calls, reconstructs the conversation history, and
// continues from max(checkpoint_step_index+1, len(steps)+1) so a step that
// was durably recorded is never re-executed. It runs in its own goroutine
// so the approval HTTP handler that calls it returns immediately.
func (l *Loop) ResumeRun(runID string) {
	go l.resumeRun(context.Background(), runID)
}

func (l *Loop) resumeRun(ctx context.Context, runID string) {
	run, err := l.store.GetRunByID(ctx, runID)
	if err != nil || run.Status != runmodel.StatusRunning {
		l.logger.Warn("resume run: run not found or not running", "run_id", runID)
		return
	}

	profile, ok := l.profiles.Profile(run.AgentProfileID)
	var rolePrompt string
	var allowedServers []string
	if ok {
		rolePrompt = profile.RolePrompt
		allowedServers = profile.AllowedMCPServers
	} else {
		profile = &config.AgentProfile{}
	}
	if rolePrompt == "" {
		rolePrompt = "You are a helpful assistant. Output next action as JSON."
	}

	tools := l.tools.ToolsForProfile(allowedServers)
	if len(tools) == 0 {
		l.logger.Warn("resume run: no tools for profile", "run_id", runID, "profile", run.AgentProfileID)
		return
	}

	startStep := run.CheckpointStepIndex + 1
	if len(run.Steps)+1 > startStep {
		startStep = len(run.Steps) + 1
	}

	l.runSteps(ctx, stepsArgs{
		runID:        runID,
		goal:         run.Goal,
		rolePrompt:   rolePrompt,
		tools:        tools,
		profile:      profile,
		steps:        append([]runmodel.Step{}, run.Steps...),
		toolCalls:    append([]runmodel.ToolCall{}, run.ToolCalls...),
		conversation: conversationFromSteps(run.Steps),
		streamTokens: run.StreamTokens,
		startStep:    startStep,
	})
}

type stepsArgs struct {
	runID        string
	goal         string
	rolePrompt   string
	tools        []mcp.ToolInfo
	profile      *config.AgentProfile
	steps        []runmodel.Step
	toolCalls    []runmodel.ToolCall
	conversation []string
	streamTokens bool
	startStep    int
}

func (l *Loop) runSteps(ctx context.Context, args stepsArgs) {
	goalForPrompt := security.ApplyFilter(args.goal, l.cfg.PromptInjectFilter)
	system := buildSystemPrompt(args.rolePrompt, args.tools)

	for step := args.startStep; step <= MaxSteps; step++ {
		run, err := l.store.GetRunByID(ctx, args.runID)
		if err != nil {
			l.logger.Error("planner step: run lookup failed", "run_id", args.runID, "error", err)
			return
		}
		if run.Status == runmodel.StatusCancelled {
			return
		}

		userPrompt := buildUserPrompt(goalForPrompt, args.conversation)

		response, err := l.invokeLLM(ctx, args.runID, userPrompt, system, args.streamTokens)
		if err != nil {
			errMsg := err.Error()
			failed := runmodel.StatusFailed
			l.store.UpdateRun(ctx, args.runID, runmodel.UpdateFields{
				Status: &failed, Error: &errMsg,
				Steps: &args.steps, ToolCalls: &args.toolCalls,
			})
			l.store.AppendRunEvent(ctx, args.runID, runmodel.EventStatus, map[string]string{"status": string(failed), "error": errMsg})
			return
		}

		action := parseAction(response)
		switch action.Kind {
		case runmodel.ActionUnknown:
			raw := truncate(response, rawResponseStepLimit)
			args.conversation = append(args.conversation, fmt.Sprintf("Step %d (parse failed): %s", step, raw))
			stepRecord := runmodel.Step{StepIndex: step, Kind: runmodel.StepUnknown, RawResponse: raw}
			args.steps = append(args.steps, stepRecord)
			l.store.AppendRunEvent(ctx, args.runID, runmodel.EventStep, stepRecord)
			continue

		case runmodel.ActionFinish:
			stepRecord := runmodel.Step{
				StepIndex:    step,
				Kind:         runmodel.StepFinish,
				FinishAnswer: action.Answer,
				RawResponse:  truncate(response, rawResponseFinLimit),
			}
			args.steps = append(args.steps, stepRecord)
			completedAt := time.Now()
			completed := runmodel.StatusCompleted
			l.store.UpdateRun(ctx, args.runID, runmodel.UpdateFields{
				Status: &completed, Answer: &action.Answer,
				Steps: &args.steps, ToolCalls: &args.toolCalls, CompletedAt: &completedAt,
			})
			l.store.AppendRunEvent(ctx, args.runID, runmodel.EventStep, stepRecord)
			l.store.AppendRunEvent(ctx, args.runID, runmodel.EventStatus, map[string]string{"status": string(completed)})
			l.store.AppendRunEvent(ctx, args.runID, runmodel.EventAnswer, map[string]string{"answer": action.Answer})
			return

		case runmodel.ActionToolCall:
			if args.profile.RequiresApproval(action.ToolName) {
				pending := &runmodel.PendingToolCall{
					ServerID:  action.ServerID,
					ToolName:  action.ToolName,
					Arguments: action.Arguments,
					StepIndex: step,
				}
				awaiting := runmodel.StatusAwaitingApproval
				l.store.UpdateRun(ctx, args.runID, runmodel.UpdateFields{
					Status: &awaiting, Steps: &args.steps, ToolCalls: &args.toolCalls,
					PendingToolCall: pending,
				})
				l.store.AppendRunEvent(ctx, args.runID, runmodel.EventStatus, map[string]any{
					"status":            string(awaiting),
					"pending_tool_call": pending,
				})
				return
			}

			toolCtx := ctx
			var cancel context.CancelFunc
			if l.cfg.ToolTimeout > 0 {
				toolCtx, cancel = context.WithTimeout(ctx, l.cfg.ToolTimeout)
			}
			result := l.tools.CallTool(toolCtx, action.ServerID, action.ToolName, action.Arguments)
			if cancel != nil {
				cancel()
			}

			resultText := flattenResult(result)
			resultText = security.ApplyFilter(resultText, l.cfg.PromptInjectFilter)
			resultText = truncate(resultText, toolResultLimit)

			toolCall := runmodel.ToolCall{
				ServerID: action.ServerID, ToolName: action.ToolName, Arguments: action.Arguments,
				ResultSummary: resultText, IsError: result.IsError,
			}
			stepRecord := runmodel.Step{
				StepIndex: step, Kind: runmodel.StepToolCall, ToolCall: &toolCall,
				RawResponse: truncate(response, rawResponseFinLimit),
			}
			args.steps = append(args.steps, stepRecord)
			args.toolCalls = append(args.toolCalls, toolCall)

			l.store.AppendRunEvent(ctx, args.runID, runmodel.EventStep, stepRecord)
			stepCopy := step
			l.store.UpdateRun(ctx, args.runID, runmodel.UpdateFields{
				CheckpointStepIndex: &stepCopy, Steps: &args.steps, ToolCalls: &args.toolCalls,
			})

			args.conversation = append(args.conversation, fmt.Sprintf("Tool call: %s/%s -> %s", action.ServerID, action.ToolName, truncate(resultText, 300)))
			if result.IsError {
				args.conversation = append(args.conversation, "(Tool returned an error; consider finishing with what we have or trying another action.)")
			}
		}
	}

	answer := "Reached maximum steps without explicit finish."
	completed := runmodel.StatusCompleted
	completedAt := time.Now()
	l.store.UpdateRun(ctx, args.runID, runmodel.UpdateFields{
		Status: &completed, Answer: &answer,
		Steps: &args.steps, ToolCalls: &args.toolCalls, CompletedAt: &completedAt,
	})
	l.store.AppendRunEvent(ctx, args.runID, runmodel.EventStatus, map[string]string{"status": string(completed)})
	l.store.AppendRunEvent(ctx, args.runID, runmodel.EventAnswer, map[string]string{"answer": answer})
}

func (l *Loop) invokeLLM(ctx context.Context, runID, prompt, system string, streamTokens bool) (string, error) {
	provider := l.resolveProvider()
	if provider == nil {
		return "", fmt.Errorf("no LLM provider configured")
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if l.cfg.LLMTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, l.cfg.LLMTimeout)
		defer cancel()
	}

	if !streamTokens {
		return provider.Generate(callCtx, prompt, system)
	}

	chunks, err := provider.Stream(callCtx, prompt, system)
	if err != nil {
		return provider.Generate(callCtx, prompt, system)
	}
	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return provider.Generate(callCtx, prompt, system)
		}
		l.store.AppendRunEvent(ctx, runID, runmodel.EventToken, map[string]string{"text": chunk.Text})
		sb.WriteString(chunk.Text)
	}
	return sb.String(), nil
}

func flattenResult(result *mcp.ToolCallResult) string {
	if result == nil {
		return ""
	}
	var sb strings.Builder
	for _, content := range result.Content {
		if content.Type == "text" {
			sb.WriteString(content.Text)
		}
	}
	return sb.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
