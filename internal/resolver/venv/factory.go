// Package venv provides a resolver backend for pip-only requirement sets based on virtual environments.
package venv

import (
	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/pluginsdk/schema"
	"go.flow.arcalot.io/stepenv/internal/resolver"
)

// NewFactory creates a new factory for the venv resolver.
func NewFactory() resolver.ResolverFactory[*Config] {
	return &factory{}
}

type factory struct {
}

func (f factory) ID() string {
	return "venv"
}

func (f factory) ConfigurationSchema() *schema.TypedScopeSchema[*Config] {
	return configSchema
}

func (f factory) Create(config *Config, logger log.Logger) (resolver.Resolver, error) {
	return &venvResolver{
		config: config,
		logger: logger,
	}, nil
}
