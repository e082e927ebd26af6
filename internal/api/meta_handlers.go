package api

import "net/http"

type agentProfileSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleListAgentProfiles(w http.ResponseWriter, r *http.Request) {
	snap := s.profiles.Snapshot()
	profiles := make([]agentProfileSummary, 0, len(snap.Profiles))
	for _, p := range snap.Profiles {
		if !p.Enabled {
			continue
		}
		profiles = append(profiles, agentProfileSummary{ID: p.ID, Name: p.Name, Description: p.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": profiles})
}

type toolServerSummary struct {
	ServerID  string   `json:"server_id"`
	Name      string   `json:"name"`
	Connected bool     `json:"connected"`
	Tools     []string `json:"tools"`
}

func (s *Server) handleListToolServers(w http.ResponseWriter, r *http.Request) {
	statuses := s.tools.Status()
	allTools := s.tools.AllTools()

	anyConnected := false
	servers := make([]toolServerSummary, 0, len(statuses))
	for _, st := range statuses {
		if st.Connected {
			anyConnected = true
		}
		names := make([]string, 0, len(allTools[st.ID]))
		for _, tool := range allTools[st.ID] {
			names = append(names, tool.Name)
		}
		servers = append(servers, toolServerSummary{
			ServerID:  st.ID,
			Name:      st.Name,
			Connected: st.Connected,
			Tools:     names,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connected": anyConnected,
		"servers":   servers,
	})
}
