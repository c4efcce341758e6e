// Package registry joins the resolver backends together and selects the correct one for a given configuration.
package registry

import (
	"fmt"
	"reflect"

	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/pluginsdk/schema"
	"go.flow.arcalot.io/stepenv/internal/resolver"
)

// Registry describes the functions a resolver registry must implement.
type Registry interface {
	// List lists the registered resolvers with their scopes.
	List() map[string]schema.Object
	// Schema returns a composite schema for the registry.
	Schema() schema.OneOf[string]
	// Create creates a resolver with the given configuration type. The registry must identify the correct backend
	// based on the type passed.
	Create(config any, logger log.Logger) (resolver.Resolver, error)
}

type registry struct {
	resolverFactories map[string]resolver.AnyResolverFactory
}

func (r registry) List() map[string]schema.Object {
	result := make(map[string]schema.Object, len(r.resolverFactories))
	for id, factory := range r.resolverFactories {
		result[id] = factory.ConfigurationSchema()
	}
	return result
}

func (r registry) Schema() schema.OneOf[string] {
	schemas := make(map[string]schema.Object, len(r.resolverFactories))
	for id, factory := range r.resolverFactories {
		schemas[id] = factory.ConfigurationSchema()
	}
	return schema.NewOneOfStringSchema[any](
		schemas,
		"type",
		false,
	)
}

func (r registry) Create(config any, logger log.Logger) (resolver.Resolver, error) {
	if config == nil {
		return nil, fmt.Errorf("the resolver configuration cannot be nil")
	}
	reflectedConfig := reflect.ValueOf(config)
	for _, factory := range r.resolverFactories {
		if factory.ConfigurationSchema().ReflectedType() == reflectedConfig.Type() {
			return factory.Create(config, logger)
		}
	}
	return nil, fmt.Errorf("could not identify correct resolver factory for %T", config)
}
