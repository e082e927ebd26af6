package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAgentProfiles(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "profiles.yaml", `
default:
  name: Default
  description: general purpose
  role_prompt: You are a helpful operator.
  allowed_mcp_servers: ["net"]
  enabled: true
ops:
  name: Ops
  role_prompt: You run infrastructure changes.
  allowed_mcp_servers: ["ansible"]
  approval_required_tools: ["restart"]
  enabled: true
disabled_profile:
  name: Disabled
  role_prompt: n/a
  allowed_mcp_servers: []
  enabled: false
`)

	profiles, err := LoadAgentProfiles(path)
	require.NoError(t, err)
	require.Contains(t, profiles, "default")
	assert.Equal(t, "default", profiles["default"].ID)
	assert.True(t, profiles["default"].Enabled)
	assert.True(t, profiles["ops"].RequiresApproval("restart"))
	assert.False(t, profiles["ops"].RequiresApproval("ping"))
	assert.False(t, profiles["disabled_profile"].Enabled)
}

func TestLoadToolServers(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("TEST_TOOL_TOKEN", "secret-token")
	defer os.Unsetenv("TEST_TOOL_TOKEN")

	path := writeTempFile(t, dir, "servers.yaml", `
net:
  name: Network tools
  command: /usr/bin/net-tool-server
  args: ["--stdio"]
  env:
    API_TOKEN: ${TEST_TOOL_TOKEN}
  enabled: true
`)

	servers, err := LoadToolServers(path)
	require.NoError(t, err)
	require.Contains(t, servers, "net")
	assert.Equal(t, "net", servers["net"].ID)
	assert.Equal(t, "secret-token", servers["net"].Env["API_TOKEN"])
}

func TestLoadAgentProfilesRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "profiles.yaml", `
default:
  name: Default
  not_a_real_field: true
`)
	_, err := LoadAgentProfiles(path)
	assert.Error(t, err)
}

func TestSettingsFromEnvDefaults(t *testing.T) {
	os.Unsetenv("WEBHOOK_MAX_CONCURRENT_RUNS")
	os.Unsetenv("WEBHOOK_DEDUP_TTL_SECONDS")
	settings := SettingsFromEnv()
	assert.Equal(t, 5, settings.WebhookMaxConcurrent())
	assert.Equal(t, 300, int(settings.WebhookDedupTTL().Seconds()))
	assert.Equal(t, 30, int(settings.GracefulShutdownTimeout().Seconds()))
}
