package mcp

import (
	"context"
	"time"

	"github.com/coriolis-labs/agentrun/internal/backoff"
)

// WatchReconnects is an opt-in background loop that notices dead
// tool-server subprocesses and reconnects them. The manager never does
// this implicitly: a run mid-flight against a server that dies keeps
// failing its tool calls until either this watcher (if started) or an
// operator reconnects it. Returns when ctx is cancelled.
func (m *Manager) WatchReconnects(ctx context.Context, interval time.Duration) {
	if m.config == nil || !m.config.Enabled {
		return
	}
	policy := backoff.DefaultPolicy()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	attempts := make(map[string]int)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, serverCfg := range m.config.Servers {
				if !serverCfg.AutoStart {
					continue
				}
				if m.IsConnected(serverCfg.ID) {
					attempts[serverCfg.ID] = 0
					continue
				}

				attempts[serverCfg.ID]++
				delay := backoff.ComputeBackoff(policy, attempts[serverCfg.ID])
				m.logger.Warn("tool server disconnected, scheduling reconnect",
					"server", serverCfg.ID, "attempt", attempts[serverCfg.ID], "delay", delay)

				if err := backoff.SleepWithContext(ctx, delay); err != nil {
					return
				}

				_ = m.Disconnect(serverCfg.ID)
				if err := m.Connect(ctx, serverCfg.ID); err != nil {
					m.logger.Error("reconnect attempt failed", "server", serverCfg.ID, "error", err)
				} else {
					attempts[serverCfg.ID] = 0
				}
			}
		}
	}
}
