// Package config loads the two YAML descriptor files the engine reads at
// startup — tool-server descriptors and agent profiles — plus the
// environment-variable-driven runtime settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AgentProfile is a named bundle of role prompt, allowed tool servers, and
// approval policy, loaded once at startup from the agent-profile file.
type AgentProfile struct {
	ID                    string   `yaml:"id" json:"id"`
	Name                  string   `yaml:"name" json:"name"`
	Description           string   `yaml:"description" json:"description,omitempty"`
	RolePrompt            string   `yaml:"role_prompt" json:"-"`
	AllowedMCPServers     []string `yaml:"allowed_mcp_servers" json:"-"`
	ApprovalRequiredTools []string `yaml:"approval_required_tools" json:"-"`
	Enabled               bool     `yaml:"enabled" json:"-"`
}

// RequiresApproval reports whether toolName is subject to the HITL gate
// under this profile.
func (p *AgentProfile) RequiresApproval(toolName string) bool {
	for _, name := range p.ApprovalRequiredTools {
		if name == toolName {
			return true
		}
	}
	return false
}

// ToolServerDescriptor is one entry in the tool-server descriptor file.
// Transport is stdio-only at v0.
type ToolServerDescriptor struct {
	ID        string            `yaml:"id" json:"server_id"`
	Name      string            `yaml:"name" json:"name"`
	Transport string            `yaml:"transport" json:"-"`
	Command   string            `yaml:"command" json:"-"`
	Args      []string          `yaml:"args" json:"-"`
	Env       map[string]string `yaml:"env" json:"-"`
	Enabled   bool              `yaml:"enabled" json:"-"`
}

// Settings holds the environment-variable-driven runtime configuration.
// Zero values mean "use the component default".
type Settings struct {
	RunQueueURL                    string
	PlannerLLMTimeoutSeconds       int
	PlannerToolTimeoutSeconds      int
	PromptInjectionFilterEnabled   bool
	WebhookSecret                  string
	WebhookDedupTTLSeconds         int
	WebhookMaxConcurrentRuns       int
	WebhookRequireAuth             bool
	GracefulShutdownTimeoutSeconds int
	DatabaseURL                    string
}

// PlannerLLMTimeout returns the configured timeout, or 0 (no wrapping) if unset.
func (s *Settings) PlannerLLMTimeout() time.Duration {
	return time.Duration(s.PlannerLLMTimeoutSeconds) * time.Second
}

// PlannerToolTimeout returns the configured timeout, or 0 (no wrapping) if unset.
func (s *Settings) PlannerToolTimeout() time.Duration {
	return time.Duration(s.PlannerToolTimeoutSeconds) * time.Second
}

// WebhookDedupTTL returns the dedup cache TTL, defaulting to 300s.
func (s *Settings) WebhookDedupTTL() time.Duration {
	if s.WebhookDedupTTLSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(s.WebhookDedupTTLSeconds) * time.Second
}

// WebhookMaxConcurrent returns the webhook-triggered-run concurrency cap,
// defaulting to 5.
func (s *Settings) WebhookMaxConcurrent() int {
	if s.WebhookMaxConcurrentRuns <= 0 {
		return 5
	}
	return s.WebhookMaxConcurrentRuns
}

// GracefulShutdownTimeout returns the drain timeout, defaulting to 30s.
func (s *Settings) GracefulShutdownTimeout() time.Duration {
	if s.GracefulShutdownTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.GracefulShutdownTimeoutSeconds) * time.Second
}

// SettingsFromEnv reads the recognized environment variables.
func SettingsFromEnv() *Settings {
	return &Settings{
		RunQueueURL:                    os.Getenv("RUN_QUEUE_URL"),
		PlannerLLMTimeoutSeconds:       envInt("PLANNER_LLM_TIMEOUT_SECONDS", 0),
		PlannerToolTimeoutSeconds:      envInt("PLANNER_TOOL_TIMEOUT_SECONDS", 0),
		PromptInjectionFilterEnabled:   envBool("PROMPT_INJECTION_FILTER_ENABLED", true),
		WebhookSecret:                  os.Getenv("WEBHOOK_SECRET"),
		WebhookDedupTTLSeconds:         envInt("WEBHOOK_DEDUP_TTL_SECONDS", 300),
		WebhookMaxConcurrentRuns:       envInt("WEBHOOK_MAX_CONCURRENT_RUNS", 5),
		WebhookRequireAuth:             envBool("WEBHOOK_REQUIRE_AUTH", true),
		GracefulShutdownTimeoutSeconds: envInt("GRACEFUL_SHUTDOWN_TIMEOUT_SECONDS", 30),
		DatabaseURL:                    os.Getenv("DATABASE_URL"),
	}
}

func envInt(key string, def int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

// Validate reports a configuration error as an apierr-compatible message.
func (p *AgentProfile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("agent profile id is required")
	}
	return nil
}
