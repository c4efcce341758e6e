// Package registry provides the decorator registry, joining the step decorators together.
package registry

import (
	"fmt"
	"reflect"

	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/pluginsdk/schema"
	"go.flow.arcalot.io/stepenv/internal/step"
)

// New creates a new decorator registry from the specified factories.
func New(factories ...step.AnyDecoratorFactory) (step.Registry, error) {
	f := make(map[string]step.AnyDecoratorFactory, len(factories))
	for _, factory := range factories {
		name := factory.Name()
		if _, ok := f[name]; ok {
			return nil, &ErrDuplicateDecoratorName{
				name,
			}
		}
		f[name] = factory
	}
	return &decoratorRegistry{
		f,
	}, nil
}

type decoratorRegistry struct {
	factories map[string]step.AnyDecoratorFactory
}

func (r decoratorRegistry) Schema() schema.OneOf[string] {
	schemas := make(map[string]schema.Object, len(r.factories))
	for name, factory := range r.factories {
		schemas[name] = factory.ConfigurationSchema()
	}
	return schema.NewOneOfStringSchema[any](
		schemas,
		"type",
		false,
	)
}

func (r decoratorRegistry) SchemaByName(name string) (schema.Object, error) {
	factory, ok := r.factories[name]
	if !ok {
		names := make([]string, 0, len(r.factories))
		for n := range r.factories {
			names = append(names, n)
		}
		return nil, &step.ErrDecoratorNotFound{
			Name:       name,
			ValidNames: names,
		}
	}
	return factory.ConfigurationSchema(), nil
}

func (r decoratorRegistry) Create(config any, logger log.Logger) (step.Decorator, error) {
	if config == nil {
		return nil, fmt.Errorf("the decorator configuration cannot be nil")
	}
	reflectedConfig := reflect.ValueOf(config)
	for _, factory := range r.factories {
		if factory.ConfigurationSchema().ReflectedType() == reflectedConfig.Type() {
			return factory.Create(config, logger)
		}
	}
	return nil, fmt.Errorf("could not identify correct decorator factory for %T", config)
}

func (r decoratorRegistry) List() map[string]schema.Object {
	result := make(map[string]schema.Object, len(r.factories))
	for name, factory := range r.factories {
		result[name] = factory.ConfigurationSchema()
	}
	return result
}
