package config

import (
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Snapshot is an immutable, atomically-swappable view of the loaded
// descriptor files. Runs already in flight keep the snapshot they started
// with; new lookups see the latest one.
type Snapshot struct {
	Profiles    map[string]*AgentProfile
	ToolServers map[string]*ToolServerDescriptor
}

// Store holds the current Snapshot behind an atomic pointer and optionally
// reloads it when the underlying files change.
type Store struct {
	profilesPath string
	serversPath  string
	logger       *slog.Logger
	current      atomic.Pointer[Snapshot]
	watcher      *fsnotify.Watcher
}

// NewStore loads both descriptor files once and returns a Store holding the
// resulting snapshot.
func NewStore(profilesPath, serversPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		profilesPath: profilesPath,
		serversPath:  serversPath,
		logger:       logger.With("component", "config"),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reload() error {
	profiles, err := LoadAgentProfiles(s.profilesPath)
	if err != nil {
		return err
	}
	servers, err := LoadToolServers(s.serversPath)
	if err != nil {
		return err
	}
	s.current.Store(&Snapshot{Profiles: profiles, ToolServers: servers})
	return nil
}

// Snapshot returns the current, atomically consistent view.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Profile looks up an enabled profile by ID in the current snapshot.
func (s *Store) Profile(id string) (*AgentProfile, bool) {
	snap := s.Snapshot()
	profile, ok := snap.Profiles[id]
	if !ok || !profile.Enabled {
		return nil, false
	}
	return profile, true
}

// Watch starts an fsnotify watcher on both descriptor files and reloads the
// snapshot on any write. Disabled tool servers and profiles observed
// mid-reload do not affect runs already holding an earlier snapshot. Call
// Close to stop watching.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, path := range []string{s.profilesPath, s.serversPath} {
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return err
		}
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					s.logger.Error("config reload failed", "error", err, "file", event.Name)
					continue
				}
				s.logger.Info("config reloaded", "file", event.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher, if running. Idempotent.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}
