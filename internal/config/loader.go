package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadAgentProfiles reads the agent-profile file: a map of
// profile_id -> {name, description, role_prompt, allowed_mcp_servers,
// approval_required_tools, enabled}.
func LoadAgentProfiles(path string) (map[string]*AgentProfile, error) {
	raw, err := readExpanded(path)
	if err != nil {
		return nil, err
	}

	var decoded map[string]*AgentProfile
	if err := decodeSingleDoc(raw, &decoded); err != nil {
		return nil, fmt.Errorf("parse agent profiles %s: %w", path, err)
	}

	profiles := make(map[string]*AgentProfile, len(decoded))
	for id, profile := range decoded {
		if profile == nil {
			continue
		}
		if profile.ID == "" {
			profile.ID = id
		}
		profiles[id] = profile
	}
	return profiles, nil
}

// LoadToolServers reads the tool-server descriptor file: a map of
// server_id -> {name, transport, command, args, env, enabled}.
func LoadToolServers(path string) (map[string]*ToolServerDescriptor, error) {
	raw, err := readExpanded(path)
	if err != nil {
		return nil, err
	}

	var decoded map[string]*ToolServerDescriptor
	if err := decodeSingleDoc(raw, &decoded); err != nil {
		return nil, fmt.Errorf("parse tool servers %s: %w", path, err)
	}

	servers := make(map[string]*ToolServerDescriptor, len(decoded))
	for id, server := range decoded {
		if server == nil {
			continue
		}
		if server.ID == "" {
			server.ID = id
		}
		servers[id] = server
	}
	return servers, nil
}

// readExpanded reads the file at path and expands ${VAR}-style environment
// references before parsing, so secrets and per-environment overrides never
// have to be hardcoded into the descriptor files.
func readExpanded(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []byte(os.ExpandEnv(string(data))), nil
}

// decodeSingleDoc decodes exactly one YAML document into out, rejecting
// trailing documents so a stray "---" doesn't silently discard config.
func decodeSingleDoc(data []byte, out any) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("expected a single YAML document")
	}
	return nil
}
