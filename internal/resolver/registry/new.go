package registry

import (
	"fmt"

	"go.flow.arcalot.io/stepenv/internal/resolver"
)

// New creates a new registry with the given factories.
func New(factory ...resolver.AnyResolverFactory) Registry {
	factories := make(map[string]resolver.AnyResolverFactory, len(factory))

	for _, f := range factory {
		if v, ok := factories[f.ID()]; ok {
			panic(fmt.Errorf("duplicate resolver factory ID: %s (first: %T, second: %T)", f.ID(), v, f))
		}
		factories[f.ID()] = f
	}

	return &registry{
		factories,
	}
}
