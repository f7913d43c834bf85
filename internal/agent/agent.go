// Package agent manages the directory of voice agents: the provider's base
// template and the clones recorded locally.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/comigor/escal8-go/internal/apperr"
	"github.com/comigor/escal8-go/internal/logger"
	"github.com/comigor/escal8-go/internal/store"
	"github.com/comigor/escal8-go/internal/voice"
)

const (
	defaultBaseName = "Base Agent"
	clonePrefix     = "Custom Agent - "
	cloneMessage    = "Agent cloned successfully. Note: Extra prompts are stored but not yet applied to the agent behavior."
)

// Provider is the part of the voice client the directory needs.
type Provider interface {
	GetAgent(ctx context.Context, agentID string) (*voice.Agent, error)
	DuplicateAgent(ctx context.Context, agentID, name string) (string, error)
	SignedURL(ctx context.Context, agentID string) (string, error)
}

// Base describes the template agent every clone starts from.
type Base struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

// Cloned is the result of Clone.
type Cloned struct {
	AgentID string `json:"agent_id"`
	DBID    string `json:"db_id"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Directory reads the base template from the provider and records clones in
// the store.
type Directory struct {
	provider    Provider
	store       store.Store
	baseAgentID string
	logger      *slog.Logger
}

func NewDirectory(provider Provider, st store.Store, baseAgentID string) *Directory {
	return &Directory{
		provider:    provider,
		store:       st,
		baseAgentID: baseAgentID,
		logger:      logger.For("agent"),
	}
}

// BaseAgentID returns the configured template id.
func (d *Directory) BaseAgentID() string { return d.baseAgentID }

// GetBase fetches the template agent from the provider.
func (d *Directory) GetBase(ctx context.Context) (*Base, error) {
	a, err := d.provider.GetAgent(ctx, d.baseAgentID)
	if err != nil {
		d.logger.Error("fetch base agent failed", "agent_id", d.baseAgentID, "error", err)
		return nil, apperr.Upstream("elevenlabs", err)
	}
	name := a.Name
	if strings.TrimSpace(name) == "" {
		name = defaultBaseName
	}
	return &Base{AgentID: d.baseAgentID, Name: name}, nil
}

// Clone duplicates the template on the provider and records the copy. Extra
// prompts are stored locally only; the provider-side agent keeps the
// template's prompt.
func (d *Directory) Clone(ctx context.Context, name, extraPrompts string, userID *string) (*Cloned, error) {
	providerID, err := d.provider.DuplicateAgent(ctx, d.baseAgentID, clonePrefix+name)
	if err != nil {
		d.logger.Error("duplicate agent failed", "base_agent_id", d.baseAgentID, "error", err)
		return nil, apperr.Upstream("elevenlabs", err)
	}

	base := d.baseAgentID
	row := &store.Agent{
		ProviderAgentID: providerID,
		BaseAgentID:     &base,
		Name:            name,
		ExtraPrompts:    extraPrompts,
		CreatedByUserID: userID,
	}
	if err := d.store.CreateAgent(ctx, row); err != nil {
		d.logger.Error("record cloned agent failed", "agent_id", providerID, "error", err)
		return nil, apperr.Upstream("store", fmt.Errorf("record agent %s: %w", providerID, err))
	}
	d.logger.Info("agent cloned", "agent_id", providerID, "db_id", row.ID, "name", name)

	return &Cloned{
		AgentID: providerID,
		DBID:    row.ID,
		Name:    name,
		Message: cloneMessage,
	}, nil
}

// List returns every recorded agent.
func (d *Directory) List(ctx context.Context) ([]*store.Agent, error) {
	agents, err := d.store.ListAgents(ctx)
	if err != nil {
		return nil, apperr.Upstream("store", err)
	}
	return agents, nil
}

// SignedURL issues a browser session URL for providerAgentID.
func (d *Directory) SignedURL(ctx context.Context, providerAgentID string) (string, error) {
	u, err := d.provider.SignedURL(ctx, providerAgentID)
	if err != nil {
		d.logger.Error("signed url failed", "agent_id", providerAgentID, "error", err)
		return "", apperr.Upstream("elevenlabs", err)
	}
	return u, nil
}
