package registry_test

import (
	"context"
	"fmt"

	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/pluginsdk/schema"
	"go.flow.arcalot.io/stepenv/internal/requirements"
	"go.flow.arcalot.io/stepenv/internal/resolver"
)

type testConfig struct {
}

type testNewFactory struct {
}

func (t testNewFactory) ID() string {
	return "test"
}

func (t testNewFactory) ConfigurationSchema() schema.Object {
	return schema.NewTypedScopeSchema[testConfig](
		schema.NewStructMappedObjectSchema[testConfig](
			"test",
			map[string]*schema.PropertySchema{},
		),
	)
}

func (t testNewFactory) Create(_ any, _ log.Logger) (resolver.Resolver, error) {
	return &testResolver{}, nil
}

type testResolver struct {
}

func (t testResolver) Resolve(_ context.Context, _ requirements.Set) (*resolver.ResolvedEnvironment, error) {
	return nil, fmt.Errorf("not implemented")
}

func (t testResolver) Install(_ context.Context, _ *resolver.ResolvedEnvironment, _ string) error {
	return fmt.Errorf("not implemented")
}
