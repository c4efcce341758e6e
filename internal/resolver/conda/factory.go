// Package conda provides a resolver backend driving a conda-compatible command line tool.
package conda

import (
	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/pluginsdk/schema"
	"go.flow.arcalot.io/stepenv/internal/resolver"
)

// NewFactory creates a new factory for the conda resolver.
func NewFactory() resolver.ResolverFactory[*Config] {
	return &factory{}
}

type factory struct {
}

func (f factory) ID() string {
	return "conda"
}

func (f factory) ConfigurationSchema() *schema.TypedScopeSchema[*Config] {
	return configSchema
}

func (f factory) Create(config *Config, logger log.Logger) (resolver.Resolver, error) {
	return &condaResolver{
		config: config,
		logger: logger,
	}, nil
}
