package planner

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coriolis-labs/agentrun/internal/config"
	"github.com/coriolis-labs/agentrun/internal/mcp"
	"github.com/coriolis-labs/agentrun/internal/runmodel"
	"github.com/coriolis-labs/agentrun/internal/runstore"
	"github.com/coriolis-labs/agentrun/pkg/llm"
)

type scriptedTools struct {
	tools []mcp.ToolInfo
	calls []string
	mu    sync.Mutex
}

func (s *scriptedTools) ToolsForProfile(allowedServers []string) []mcp.ToolInfo {
	return s.tools
}

func (s *scriptedTools) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) *mcp.ToolCallResult {
	s.mu.Lock()
	s.calls = append(s.calls, fmt.Sprintf("%s/%s", serverID, toolName))
	s.mu.Unlock()
	return &mcp.ToolCallResult{Content: []mcp.ToolResultContent{{Type: "text", Text: "ok"}}}
}

func newTestProfiles(t *testing.T, yaml string) *config.Store {
	t.Helper()
	dir := t.TempDir()
	profilesPath := dir + "/profiles.yaml"
	serversPath := dir + "/servers.yaml"
	require.NoError(t, os.WriteFile(profilesPath, []byte(yaml), 0o600))
	require.NoError(t, os.WriteFile(serversPath, []byte("{}\n"), 0o600))
	store, err := config.NewStore(profilesPath, serversPath, nil)
	require.NoError(t, err)
	return store
}

func scriptedProvider(responses []string) llm.Provider {
	idx := 0
	var mu sync.Mutex
	return &llm.FuncProvider{GenerateFn: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if idx >= len(responses) {
			return responses[len(responses)-1], nil
		}
		r := responses[idx]
		idx++
		return r, nil
	}}
}

func TestLoopFinishAfterToolCall(t *testing.T) {
	store := runstore.NewMemoryStore()
	profiles := newTestProfiles(t, `
default:
  name: Default
  role_prompt: You are a helpful operator.
  allowed_mcp_servers: ["net"]
  enabled: true
`)
	tools := &scriptedTools{tools: []mcp.ToolInfo{{ServerID: "net", Name: "ping", Description: "ping a host"}}}
	provider := scriptedProvider([]string{
		`{"action": "tool_call", "server_id": "net", "tool_name": "ping", "arguments": {"host": "example.com"}}`,
		`{"action": "finish", "answer": "host is up"}`,
	})
	loop := New(store, tools, profiles, provider, Config{PromptInjectFilter: true}, nil)

	run, err := store.CreateRun(context.Background(), "check example.com", "default", nil, false)
	require.NoError(t, err)

	loop.StartRun(context.Background(), run.RunID)

	final, err := store.GetRunByID(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, runmodel.StatusCompleted, final.Status)
	assert.Equal(t, "host is up", final.Answer)
	require.Len(t, final.Steps, 2)
	assert.Equal(t, runmodel.StepToolCall, final.Steps[0].Kind)
	assert.Equal(t, runmodel.StepFinish, final.Steps[1].Kind)
	assert.Equal(t, []string{"net/ping"}, tools.calls)
}

func TestLoopNoToolsFailsWithoutCallingLLM(t *testing.T) {
	store := runstore.NewMemoryStore()
	profiles := newTestProfiles(t, `
empty:
  name: Empty
  role_prompt: unused
  allowed_mcp_servers: ["nowhere"]
  enabled: true
`)
	tools := &scriptedTools{}
	called := false
	provider := &llm.FuncProvider{GenerateFn: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
		called = true
		return "", fmt.Errorf("should not be called")
	}}
	loop := New(store, tools, profiles, provider, Config{}, nil)

	run, err := store.CreateRun(context.Background(), "do nothing", "empty", nil, false)
	require.NoError(t, err)

	loop.StartRun(context.Background(), run.RunID)

	final, err := store.GetRunByID(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, runmodel.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "No MCP tools available")
	assert.False(t, called)
}

func TestLoopUnparseableResponsesExhaustMaxSteps(t *testing.T) {
	store := runstore.NewMemoryStore()
	profiles := newTestProfiles(t, `
default:
  name: Default
  role_prompt: gibberish only
  allowed_mcp_servers: ["net"]
  enabled: true
`)
	tools := &scriptedTools{tools: []mcp.ToolInfo{{ServerID: "net", Name: "ping"}}}
	provider := scriptedProvider([]string{"not json, not finish, just noise"})
	loop := New(store, tools, profiles, provider, Config{}, nil)

	run, err := store.CreateRun(context.Background(), "confuse the planner", "default", nil, false)
	require.NoError(t, err)

	loop.StartRun(context.Background(), run.RunID)

	final, err := store.GetRunByID(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, runmodel.StatusCompleted, final.Status)
	assert.Equal(t, "Reached maximum steps without explicit finish.", final.Answer)
	assert.Len(t, final.Steps, MaxSteps)
	for _, s := range final.Steps {
		assert.Equal(t, runmodel.StepUnknown, s.Kind)
	}
}

func TestLoopApprovalRequiredToolPausesRun(t *testing.T) {
	store := runstore.NewMemoryStore()
	profiles := newTestProfiles(t, `
ops:
  name: Ops
  role_prompt: you run infrastructure changes
  allowed_mcp_servers: ["ansible"]
  approval_required_tools: ["restart"]
  enabled: true
`)
	tools := &scriptedTools{tools: []mcp.ToolInfo{{ServerID: "ansible", Name: "restart"}}}
	provider := scriptedProvider([]string{
		`{"action": "tool_call", "server_id": "ansible", "tool_name": "restart", "arguments": {"service": "nginx"}}`,
	})
	loop := New(store, tools, profiles, provider, Config{}, nil)

	run, err := store.CreateRun(context.Background(), "restart nginx", "ops", nil, false)
	require.NoError(t, err)

	loop.StartRun(context.Background(), run.RunID)

	final, err := store.GetRunByID(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, runmodel.StatusAwaitingApproval, final.Status)
	require.NotNil(t, final.PendingToolCall)
	assert.Equal(t, "restart", final.PendingToolCall.ToolName)
	assert.Empty(t, tools.calls)
}
