// Package stepenv provisions isolated, requirement-addressed package environments for pipeline steps. Environments
// are built at most once per identity and shared between steps, runs and processes; task processes run inside them
// without the parent process environment ever being modified.
package stepenv

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/stepenv/config"
	"go.flow.arcalot.io/stepenv/internal/envcache"
	"go.flow.arcalot.io/stepenv/internal/launcher"
	"go.flow.arcalot.io/stepenv/internal/metadata"
	"go.flow.arcalot.io/stepenv/internal/requirements"
	"go.flow.arcalot.io/stepenv/internal/resolver"
	"go.flow.arcalot.io/stepenv/internal/step"
	"go.flow.arcalot.io/stepenv/internal/step/condaenv"
	"go.flow.arcalot.io/stepenv/internal/step/noop"
	stepregistry "go.flow.arcalot.io/stepenv/internal/step/registry"
)

// Provisioner is responsible for turning requirement files into ready-to-use package environments and for running
// commands inside them.
type Provisioner interface {
	// Provision resolves the requirement file contents and builds or fetches the matching environment. The caller
	// must Release the returned environment when done with it.
	Provision(ctx context.Context, requirementsFile []byte) (*Environment, error)

	// Command builds a command running the argument vector inside the environment. An interpreter entrypoint is
	// rewritten to the environment's own interpreter; everything else is found through the isolated PATH.
	Command(ctx context.Context, env *Environment, argv []string) (*exec.Cmd, error)

	// DecoratorRegistry returns the registry of step decorators backed by this provisioner.
	DecoratorRegistry() (step.Registry, error)

	// List returns the cached environments.
	List() ([]EnvironmentInfo, error)

	// Prune removes all cached environments that are not referenced by any run and returns their IDs.
	Prune(ctx context.Context) ([]string, error)
}

// Environment is a provisioned environment held by the caller.
type Environment struct {
	// ID is the environment identity in its req/full/arch form.
	ID string
	// Dir is the environment directory.
	Dir string
	// Python is the interpreter entrypoint of the environment.
	Python string

	release func() error
}

// Release drops the reference the caller holds on the environment. Releasing twice is harmless.
func (e *Environment) Release() error {
	if e.release == nil {
		return nil
	}
	release := e.release
	e.release = nil
	return release()
}

// EnvironmentInfo describes one cached environment.
type EnvironmentInfo struct {
	ID        string
	Dir       string
	Refs      int
	CreatedAt time.Time
}

type provisioner struct {
	logger   log.Logger
	config   *config.Config
	resolver resolver.Resolver
	cache    *envcache.Cache
	meta     *metadata.Store
}

func (p *provisioner) Provision(ctx context.Context, requirementsFile []byte) (*Environment, error) {
	set, err := requirements.Load(requirementsFile)
	if err != nil {
		return nil, err
	}
	if set.Disabled {
		return nil, ErrRequirementsDisabled{}
	}

	resolved, err := p.resolver.Resolve(ctx, *set)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve the requirement set (%w)", err)
	}
	if _, cached := p.cache.Lookup(resolved.ID); cached {
		p.logger.Infof("Using existing environment %s...", resolved.ID)
	} else {
		p.logger.Infof("Creating environment %s...", resolved.ID)
	}
	env, _, err := p.cache.Acquire(ctx, resolved.ID, func(ctx context.Context, dir string) error {
		return p.resolver.Install(ctx, resolved, dir)
	})
	if err != nil {
		return nil, err
	}
	return &Environment{
		ID:      env.ID.String(),
		Dir:     env.Dir,
		Python:  env.Python(),
		release: env.Release,
	}, nil
}

func (p *provisioner) Command(ctx context.Context, env *Environment, argv []string) (*exec.Cmd, error) {
	if env == nil {
		return nil, fmt.Errorf("cannot build a command without an environment")
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("cannot build a command from an empty argument vector")
	}
	rewritten := append([]string{}, argv...)
	if strings.HasPrefix(filepath.Base(rewritten[0]), "python") {
		rewritten[0] = env.Python
	}
	return launcher.Command(ctx, rewritten, launcher.Environ(env.Dir, launcher.BaseEnviron(), nil))
}

func (p *provisioner) DecoratorRegistry() (step.Registry, error) {
	return stepregistry.New(
		condaenv.NewFactory(condaenv.Dependencies{
			Cache:    p.cache,
			Resolver: p.resolver,
			Metadata: p.meta,
			WorkDir:  p.config.WorkDir,
		}),
		noop.NewFactory(),
	)
}

func (p *provisioner) List() ([]EnvironmentInfo, error) {
	entries, err := p.cache.List()
	if err != nil {
		return nil, err
	}
	result := make([]EnvironmentInfo, len(entries))
	for i, entry := range entries {
		result[i] = EnvironmentInfo{
			ID:        entry.ID.String(),
			Dir:       entry.Dir,
			Refs:      entry.Refs,
			CreatedAt: entry.CreatedAt,
		}
	}
	return result, nil
}

func (p *provisioner) Prune(ctx context.Context) ([]string, error) {
	removed, err := p.cache.Prune(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(removed))
	for i, id := range removed {
		ids[i] = id.String()
	}
	return ids, nil
}
