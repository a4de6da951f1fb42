// Package session binds an agent identity to its nonce, parser, and router.
// The nonce is minted at session creation and handed to the agent out of
// band; requests carrying a different nonce are rejected by the router.
package session

import (
	"errors"
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/kathoros-ai/proxenos/internal/audit"
	"github.com/kathoros-ai/proxenos/internal/core"
	"github.com/kathoros-ai/proxenos/internal/parser"
	"github.com/kathoros-ai/proxenos/internal/registry"
	"github.com/kathoros-ai/proxenos/internal/router"
)

const nonceLength = 32

// Session is one agent's tool-access scope. Output handling is serialized:
// one in-flight pipeline run per session.
type Session struct {
	ID         string
	AgentID    string
	AgentName  string
	TrustLevel core.TrustLevel
	AccessMode core.AccessMode
	Nonce      string
	RunID      string

	parser *parser.Parser
	router *router.Router
	mu     sync.Mutex
}

// HandleOutput parses one chunk of agent output and, when a tool request is
// detected, runs it through the pipeline. The RouterResult is nil when no
// tool was detected.
func (s *Session) HandleOutput(text string) (parser.ParseResult, *router.RouterResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.parser.Parse(text, parser.Identity{
		AgentID:    s.AgentID,
		AgentName:  s.AgentName,
		TrustLevel: s.TrustLevel,
		AccessMode: s.AccessMode,
		Nonce:      s.Nonce,
		RunID:      s.RunID,
	})
	if res.Request == nil {
		return res, nil
	}
	return res, s.router.Handle(res.Request)
}

// Config carries the process-wide collaborators every session shares.
type Config struct {
	Registry    *registry.Registry
	ProjectRoot string
	Audit       audit.Sink
	Approver    router.Approver
	Executors   map[string]router.Executor
	Logger      *zap.Logger
}

// Manager creates and tracks sessions.
type Manager struct {
	cfg      Config
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager validates the shared collaborators and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Registry == nil || !cfg.Registry.Built() {
		return nil, errors.New("session manager requires a built registry")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}, nil
}

// Create registers a new session for an agent and mints its nonce.
func (m *Manager) Create(agentID, agentName string, trust core.TrustLevel, mode core.AccessMode, runID string) (*Session, error) {
	if agentID == "" {
		return nil, errors.New("session requires an agent_id")
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	nonce, err := gonanoid.New(nonceLength)
	if err != nil {
		return nil, fmt.Errorf("session nonce: %w", err)
	}

	rt, err := router.New(router.Config{
		Registry:     m.cfg.Registry,
		ProjectRoot:  m.cfg.ProjectRoot,
		SessionNonce: nonce,
		SessionID:    id,
		AccessMode:   mode,
		Approver:     m.cfg.Approver,
		Executors:    m.cfg.Executors,
		Audit:        m.cfg.Audit,
		Logger:       m.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:         id,
		AgentID:    agentID,
		AgentName:  agentName,
		TrustLevel: trust,
		AccessMode: mode,
		Nonce:      nonce,
		RunID:      runID,
		parser:     parser.New(),
		router:     rt,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.cfg.Logger.Info("session created",
		zap.String("session_id", id),
		zap.String("agent_id", agentID),
		zap.String("trust_level", string(trust)),
		zap.String("access_mode", string(mode)),
	)
	return s, nil
}

// Get returns the session for id, or an error when unknown.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("unknown session: %q", id)
	}
	return s, nil
}
