package resolver

import (
	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/pluginsdk/schema"
)

// Any wraps a factory and creates an anonymous factory from it.
func Any[T any](factory ResolverFactory[T]) AnyResolverFactory {
	return &anyResolverFactory[T]{
		factory: factory,
	}
}

type anyResolverFactory[T any] struct {
	factory ResolverFactory[T]
}

func (a anyResolverFactory[T]) ID() string {
	return a.factory.ID()
}

func (a anyResolverFactory[T]) ConfigurationSchema() schema.Object {
	return a.factory.ConfigurationSchema()
}

func (a anyResolverFactory[T]) Create(config any, logger log.Logger) (Resolver, error) {
	return a.factory.Create(config.(T), logger)
}
