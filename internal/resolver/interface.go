// Package resolver provides the interfaces all environment resolvers follow. A resolver maps a declared requirement
// set to a concrete package list and materializes it into a directory. The dependency solving itself happens in the
// external tool the resolver drives; this module never builds lockfiles of its own.
package resolver

import (
	"context"

	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/pluginsdk/schema"
	"go.flow.arcalot.io/stepenv/internal/requirements"
)

// LockedPackage is one concrete package of a resolved environment.
type LockedPackage struct {
	// Name is the package name.
	Name string `json:"name"`
	// Version is the exact resolved version.
	Version string `json:"version"`
	// Source is the channel or index the package resolves through.
	Source string `json:"source"`
}

// Spec returns the name=version=source triple of the package.
func (p LockedPackage) Spec() string {
	return p.Name + "=" + p.Version + "=" + p.Source
}

// ResolvedEnvironment is the outcome of resolving a requirement set: a concrete, installable package list with its
// derived environment identity.
type ResolvedEnvironment struct {
	// ID is the full identity of the resolution. The full ID component is a hash of the package list.
	ID requirements.EnvID `json:"id"`
	// PythonVersion is the exact interpreter version of the environment.
	PythonVersion string `json:"python_version"`
	// Packages is the concrete package list.
	Packages []LockedPackage `json:"packages"`
	// ExtraIndexes are the additional package indexes the pip packages were resolved against. Installation needs
	// them again, a package may only exist on one of them.
	ExtraIndexes []string `json:"extra_indexes,omitempty"`
}

// Resolver resolves requirement sets and installs the resulting environments.
type Resolver interface {
	// Resolve maps the requirement set to a concrete package list without installing anything.
	Resolve(ctx context.Context, reqs requirements.Set) (*ResolvedEnvironment, error)
	// Install materializes the resolved environment into the target directory. The directory must contain a
	// bin/python entrypoint afterwards.
	Install(ctx context.Context, env *ResolvedEnvironment, targetDir string) error
}

// ResolverFactory is an abstraction that hides away the complexity of instantiating a Resolver. Its main purpose is
// to provide the configuration schema for the resolver and then create an instance of said resolver.
type ResolverFactory[ConfigType any] interface {
	ID() string
	ConfigurationSchema() *schema.TypedScopeSchema[ConfigType]
	Create(config ConfigType, logger log.Logger) (Resolver, error)
}

// AnyResolverFactory is the untyped version of ResolverFactory.
type AnyResolverFactory interface {
	ID() string
	ConfigurationSchema() schema.Object
	Create(config any, logger log.Logger) (Resolver, error)
}
