package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/chative-relay/server/internal/agent/model"
	errx "github.com/chative-relay/server/internal/core/error"
)

// Memory is a process-local Store for development and tests. Records are
// copied on the way in and out so callers never share backing slices.
type Memory struct {
	mu       sync.RWMutex
	agents   map[string]model.Agent
	profiles map[string]model.Profile
	bySender map[string]string
	analyses map[string]model.Analysis
	sessions map[string]model.ChatSession
}

func NewMemory() *Memory {
	return &Memory{
		agents:   make(map[string]model.Agent),
		profiles: make(map[string]model.Profile),
		bySender: make(map[string]string),
		analyses: make(map[string]model.Analysis),
		sessions: make(map[string]model.ChatSession),
	}
}

func senderKey(ch model.Channel, senderID string) string {
	return string(ch) + ":" + senderID
}

// ================ Agents ================

func (m *Memory) FindAgentByRoutingID(_ context.Context, routingID string) (*model.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.agents {
		if a.PhoneNumber == routingID || a.SocialLink == routingID {
			out := a
			return &out, nil
		}
	}
	return nil, errx.ErrNotFound
}

func (m *Memory) ListSocialAgents(_ context.Context) ([]model.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Agent
	for _, a := range m.agents {
		if a.SocialLink != "" {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) CreateAgent(_ context.Context, agent *model.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agent.ID]; ok {
		return fmt.Errorf("agent %s already exists", agent.ID)
	}
	m.agents[agent.ID] = *agent
	return nil
}

// ================ Profiles ================

func (m *Memory) FindProfile(_ context.Context, ch model.Channel, senderID string) (*model.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySender[senderKey(ch, senderID)]
	if !ok {
		return nil, errx.ErrNotFound
	}
	p := cloneProfile(m.profiles[id])
	return &p, nil
}

// GetProfile is a lookup by id used by tests and admin tooling.
func (m *Memory) GetProfile(_ context.Context, id string) (*model.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, errx.ErrNotFound
	}
	out := cloneProfile(p)
	return &out, nil
}

func (m *Memory) GetOrCreateProfile(_ context.Context, p *model.Profile) (*model.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := senderKey(p.Channel, p.SenderID)
	if id, ok := m.bySender[key]; ok {
		out := cloneProfile(m.profiles[id])
		return &out, false, nil
	}
	stored := cloneProfile(*p)
	m.profiles[p.ID] = stored
	m.bySender[key] = p.ID
	out := cloneProfile(stored)
	return &out, true, nil
}

func (m *Memory) UpdateProfileLinks(_ context.Context, profileID, agentID, analysisID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[profileID]
	if !ok {
		return errx.ErrNotFound
	}
	if agentID != "" {
		p.AgentID = agentID
	}
	if analysisID != "" {
		p.AnalysisID = analysisID
	}
	m.profiles[profileID] = p
	return nil
}

func (m *Memory) AppendProfileSession(_ context.Context, profileID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[profileID]
	if !ok {
		return errx.ErrNotFound
	}
	p.SessionIDs = append(append([]string(nil), p.SessionIDs...), sessionID)
	m.profiles[profileID] = p
	return nil
}

func (m *Memory) CreateAnalysis(_ context.Context, a *model.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses[a.ID] = *a
	return nil
}

// CountAnalyses reports how many analyses reference profileID.
func (m *Memory) CountAnalyses(profileID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.analyses {
		if a.ProfileID == profileID {
			n++
		}
	}
	return n
}

// CountProfiles reports the number of stored profiles.
func (m *Memory) CountProfiles() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.profiles)
}

// ================ Sessions ================

func (m *Memory) GetSession(_ context.Context, sessionID string) (*model.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, errx.ErrNotFound
	}
	out := cloneSession(s)
	return &out, nil
}

func (m *Memory) CreateSession(_ context.Context, s *model.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = cloneSession(*s)
	return nil
}

func (m *Memory) AppendMessages(_ context.Context, sessionID string, msgs ...model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return errx.ErrNotFound
	}
	s.Messages = append(append([]model.Message(nil), s.Messages...), msgs...)
	m.sessions[sessionID] = s
	return nil
}

func cloneProfile(p model.Profile) model.Profile {
	p.SessionIDs = append([]string{}, p.SessionIDs...)
	return p
}

func cloneSession(s model.ChatSession) model.ChatSession {
	s.Messages = append([]model.Message{}, s.Messages...)
	return s
}

var _ model.Store = (*Memory)(nil)
