package stepenv

import (
	"fmt"

	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/stepenv/config"
	"go.flow.arcalot.io/stepenv/internal/envcache"
	"go.flow.arcalot.io/stepenv/internal/metadata"
	"go.flow.arcalot.io/stepenv/internal/resolver/registry"
)

// New creates a new provisioner with the provided configuration. The passed resolverRegistry is responsible for
// providing the resolver backends.
func New(
	cfg *config.Config,
	resolverRegistry registry.Registry,
) (Provisioner, error) {
	logger := log.New(cfg.Log)

	unserializedResolverConfig, err := resolverRegistry.Schema().Unserialize(cfg.Resolver)
	if err != nil {
		return nil, fmt.Errorf("failed to load the resolver configuration (%w)", err)
	}
	envResolver, err := resolverRegistry.Create(unserializedResolverConfig, logger.WithLabel("source", "resolver"))
	if err != nil {
		return nil, fmt.Errorf("failed to create the resolver (%w)", err)
	}

	cache, err := envcache.New(cfg.CacheDir, logger.WithLabel("source", "envcache"))
	if err != nil {
		return nil, err
	}
	meta, err := metadata.New(cfg.MetadataDir, logger.WithLabel("source", "metadata"))
	if err != nil {
		return nil, err
	}

	return &provisioner{
		logger:   logger,
		config:   cfg,
		resolver: envResolver,
		cache:    cache,
		meta:     meta,
	}, nil
}
