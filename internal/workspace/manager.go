// Package workspace manages shared rooms where bots collaborate, one
// JSON file per workspace.
package workspace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"botfleet/internal/team"
)

// Type controls who may join a workspace.
type Type string

const (
	TypeOpen    Type = "open"
	TypePrivate Type = "private"
)

const (
	DefaultWorkspaceID   = "general"
	DefaultWorkspaceName = "General"
)

// Workspace is one shared room.
type Workspace struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	Participants []string  `json:"participants"`
	Owner        string    `json:"owner"`
	CreatedAt    time.Time `json:"created_at"`
	Summary      string    `json:"summary,omitempty"`
	AutoArchive  bool      `json:"auto_archive,omitempty"`
}

// Manager loads, creates, and persists workspaces. The default
// "general" workspace always exists with the coordinator in it.
type Manager struct {
	mu         sync.Mutex
	dir        string
	workspaces map[string]*Workspace
}

// NewManager loads workspaces from dir, creating the default one on
// first run.
func NewManager(dir string) (*Manager, error) {
	m := &Manager{dir: dir, workspaces: make(map[string]*Workspace)}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var ws Workspace
		if err := json.Unmarshal(data, &ws); err != nil {
			slog.Warn("skipping corrupt workspace file", "file", e.Name(), "error", err)
			continue
		}
		m.workspaces[ws.ID] = &ws
	}
	if _, ok := m.workspaces[DefaultWorkspaceID]; !ok {
		general := &Workspace{
			ID:           DefaultWorkspaceID,
			Type:         TypeOpen,
			Participants: []string{team.CoordinatorID},
			Owner:        "user",
			CreatedAt:    time.Now(),
		}
		m.workspaces[DefaultWorkspaceID] = general
		if err := m.save(general); err != nil {
			return nil, err
		}
		slog.Info("created default workspace", "id", DefaultWorkspaceID)
	}
	return m, nil
}

func (m *Manager) save(ws *Workspace) error {
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(m.dir, ws.ID+".json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(m.dir, ws.ID+".json"))
}

// Default returns the always-present general workspace.
func (m *Manager) Default() *Workspace {
	ws, _ := m.Get(DefaultWorkspaceID)
	return ws
}

// Get returns a copy of a workspace.
func (m *Manager) Get(id string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, false
	}
	cp := *ws
	cp.Participants = append([]string(nil), ws.Participants...)
	return &cp, true
}

// Create adds a workspace. The coordinator participates in every
// workspace.
func (m *Manager) Create(id string, typ Type, owner string, participants []string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.workspaces[id]; exists {
		return nil, fmt.Errorf("workspace %q already exists", id)
	}
	ws := &Workspace{
		ID:           id,
		Type:         typ,
		Owner:        owner,
		Participants: participants,
		CreatedAt:    time.Now(),
	}
	if !contains(ws.Participants, team.CoordinatorID) {
		ws.Participants = append([]string{team.CoordinatorID}, ws.Participants...)
	}
	m.workspaces[id] = ws
	if err := m.save(ws); err != nil {
		delete(m.workspaces, id)
		return nil, err
	}
	slog.Info("workspace created", "id", id, "type", typ)
	cp := *ws
	return &cp, nil
}

// InviteBot adds a bot to a workspace.
func (m *Manager) InviteBot(id, botID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return fmt.Errorf("workspace %q not found", id)
	}
	if contains(ws.Participants, botID) {
		return nil
	}
	ws.Participants = append(ws.Participants, botID)
	return m.save(ws)
}

// RemoveBot removes a bot. The coordinator cannot be removed.
func (m *Manager) RemoveBot(id, botID string) error {
	if botID == team.CoordinatorID {
		return fmt.Errorf("the coordinator cannot leave a workspace")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return fmt.Errorf("workspace %q not found", id)
	}
	out := ws.Participants[:0]
	for _, p := range ws.Participants {
		if p != botID {
			out = append(out, p)
		}
	}
	ws.Participants = out
	return m.save(ws)
}

// List returns all workspaces sorted by id.
func (m *Manager) List() []*Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		cp := *ws
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Participants returns the member list of a workspace.
func (m *Manager) Participants(id string) []string {
	ws, ok := m.Get(id)
	if !ok {
		return nil
	}
	return ws.Participants
}

// DirectivePath returns the heartbeat directive file for a bot: the
// bot's own file when present, otherwise the workspace-level one.
func (m *Manager) DirectivePath(workspaceRoot, botID string) string {
	botPath := filepath.Join(workspaceRoot, "bots", botID, "HEARTBEAT.md")
	if _, err := os.Stat(botPath); err == nil {
		return botPath
	}
	return filepath.Join(workspaceRoot, "HEARTBEAT.md")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
