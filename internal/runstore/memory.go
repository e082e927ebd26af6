package runstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coriolis-labs/agentrun/internal/runmodel"
)

// MemoryStore is an in-memory Store, used for local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string]*runmodel.Run
	events    map[string][]*runmodel.Event
	nextEvent map[string]int64
}

// NewMemoryStore creates an empty in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      map[string]*runmodel.Run{},
		events:    map[string][]*runmodel.Event{},
		nextEvent: map[string]int64{},
	}
}

func (m *MemoryStore) CreateRun(ctx context.Context, goal, profileID string, runCtx map[string]string, streamTokens bool) (*runmodel.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	run := &runmodel.Run{
		RunID:          uuid.NewString(),
		Goal:           goal,
		AgentProfileID: profileID,
		Status:         runmodel.StatusPending,
		Context:        cloneStringMap(runCtx),
		StreamTokens:   streamTokens,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.runs[run.RunID] = run
	return run.Clone(), nil
}

func (m *MemoryStore) GetRunByID(ctx context.Context, runID string) (*runmodel.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return run.Clone(), nil
}

func (m *MemoryStore) ListRuns(ctx context.Context, limit, offset int, status runmodel.Status) ([]*runmodel.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []*runmodel.Run
	for _, run := range m.runs {
		if status != "" && run.Status != status {
			continue
		}
		matches = append(matches, run)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset > len(matches) {
		return []*runmodel.Run{}, nil
	}
	end := len(matches)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]*runmodel.Run, 0, end-offset)
	for _, run := range matches[offset:end] {
		out = append(out, run.Clone())
	}
	return out, nil
}

func (m *MemoryStore) UpdateRun(ctx context.Context, runID string, patch runmodel.UpdateFields) (*runmodel.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}

	applyPatch(run, patch)
	run.UpdatedAt = time.Now()
	return run.Clone(), nil
}

func applyPatch(run *runmodel.Run, patch runmodel.UpdateFields) {
	if patch.Status != nil {
		run.Status = *patch.Status
	}
	if patch.Error != nil {
		run.Error = *patch.Error
	}
	if patch.Answer != nil {
		run.Answer = *patch.Answer
	}
	if patch.Steps != nil {
		run.Steps = append([]runmodel.Step{}, (*patch.Steps)...)
	}
	if patch.ToolCalls != nil {
		run.ToolCalls = append([]runmodel.ToolCall{}, (*patch.ToolCalls)...)
	}
	if patch.CompletedAt != nil {
		completed := *patch.CompletedAt
		run.CompletedAt = &completed
	}
	if patch.CheckpointStepIndex != nil {
		run.CheckpointStepIndex = *patch.CheckpointStepIndex
	}
	if patch.PendingToolCall != nil {
		if patch.PendingToolCall == runmodel.ClearPendingToolCall {
			run.PendingToolCall = nil
		} else {
			pending := *patch.PendingToolCall
			run.PendingToolCall = &pending
		}
	}
}

func (m *MemoryStore) AppendRunEvent(ctx context.Context, runID string, eventType runmodel.EventType, payload any) (*runmodel.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[runID]; !ok {
		return nil, ErrNotFound
	}

	m.nextEvent[runID]++
	event := &runmodel.Event{
		EventID:   m.nextEvent[runID],
		RunID:     runID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	m.events[runID] = append(m.events[runID], event)
	return event, nil
}

func (m *MemoryStore) GetRunEvents(ctx context.Context, runID string, afterID int64, limit int) ([]*runmodel.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.events[runID]
	var out []*runmodel.Event
	for _, event := range all {
		if event.EventID <= afterID {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) CountRunningRuns(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, run := range m.runs {
		if run.Status == runmodel.StatusRunning || run.Status == runmodel.StatusAwaitingApproval {
			count++
		}
	}
	return count, nil
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	clone := make(map[string]string, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}
