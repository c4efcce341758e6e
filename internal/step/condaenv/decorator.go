// Package condaenv is the step decorator that provisions an isolated package environment for a step before its user
// code executes. Environments are addressed by the declared requirements, built at most once and shared between
// steps, runs and processes through the environment cache.
package condaenv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/pluginsdk/schema"
	"go.flow.arcalot.io/stepenv/internal/envcache"
	"go.flow.arcalot.io/stepenv/internal/launcher"
	"go.flow.arcalot.io/stepenv/internal/metadata"
	"go.flow.arcalot.io/stepenv/internal/pipeline"
	"go.flow.arcalot.io/stepenv/internal/requirements"
	"go.flow.arcalot.io/stepenv/internal/resolver"
	"go.flow.arcalot.io/stepenv/internal/step"
)

const (
	// EnvVarEnvID carries the JSON-encoded environment ID into the task process.
	EnvVarEnvID = "STEPENV_ENV_ID"
	// EnvVarRunID carries the run ID into the task process.
	EnvVarRunID = "STEPENV_RUN_ID"
	// EnvVarStepName carries the step name into the task process.
	EnvVarStepName = "STEPENV_STEP_NAME"
	// EnvVarTaskID carries the task ID into the task process.
	EnvVarTaskID = "STEPENV_TASK_ID"
	// EnvVarAttempt carries the retry counter into the task process.
	EnvVarAttempt = "STEPENV_ATTEMPT"
	// EnvVarParameterPrefix prefixes the pipeline parameter values the runtime hands to the task process.
	EnvVarParameterPrefix = "STEPENV_INIT_"
)

// Dependencies are the services the condaenv decorator operates on. All of them are required except the overlay
// settings.
type Dependencies struct {
	// Cache is the environment cache environments are acquired from.
	Cache *envcache.Cache
	// Resolver maps requirement sets to concrete environments.
	Resolver resolver.Resolver
	// Metadata is the task metadata store.
	Metadata *metadata.Store
	// WorkDir is where runtime overlays are created. Empty means the system temporary directory.
	WorkDir string
	// RuntimeRoot is the directory of the host runtime package linked into overlays. Empty disables the overlay.
	RuntimeRoot string
	// RuntimeInfo is written as the runtime description when no INFO file sits next to RuntimeRoot.
	RuntimeInfo []byte
	// ExtraModulePaths are additional module directories exposed to task processes.
	ExtraModulePaths []string
}

// NewFactory creates a new factory for the condaenv decorator with the given dependencies.
func NewFactory(deps Dependencies) step.AnyDecoratorFactory {
	return step.Any[Config](&factory{
		deps: deps,
	})
}

type factory struct {
	deps Dependencies
}

func (f factory) Name() string {
	return "condaenv"
}

func (f factory) ConfigurationSchema() *schema.TypedScopeSchema[Config] {
	return configSchema
}

func (f factory) Create(config Config, logger log.Logger) (step.Decorator, error) {
	if f.deps.Cache == nil || f.deps.Resolver == nil || f.deps.Metadata == nil {
		return nil, fmt.Errorf("bug: the condaenv decorator factory is missing its cache, resolver or metadata store")
	}
	return &decorator{
		logger: logger,
		config: config,
		deps:   f.deps,
		envIDs: map[string]requirements.EnvID{},
	}, nil
}

// StageID is the constant that holds valid condaenv stage IDs.
type StageID string

const (
	// StageIDResolve maps the declared requirements to a concrete environment.
	StageIDResolve StageID = "resolve"
	// StageIDProvision builds or fetches the environment.
	StageIDProvision StageID = "provision"
	// StageIDLaunch launches the task process inside the environment.
	StageIDLaunch StageID = "launch"
	// StageIDCleanup releases the environments held by the run.
	StageIDCleanup StageID = "cleanup"
)

type decorator struct {
	logger log.Logger
	config Config
	deps   Dependencies

	reqs     requirements.Set
	stepName string
	isRemote bool

	lock     sync.Mutex
	overlay  *launcher.Overlay
	envIDs   map[string]requirements.EnvID
	acquired []*envcache.Environment
}

func (d *decorator) Name() string {
	return "condaenv"
}

func (d *decorator) Lifecycle() step.Lifecycle[step.LifecycleStage] {
	return step.Lifecycle[step.LifecycleStage]{
		InitialStage: string(StageIDResolve),
		Stages: []step.LifecycleStage{
			{
				ID:           string(StageIDResolve),
				WaitingName:  "waiting to resolve requirements",
				RunningName:  "resolving requirements",
				FinishedName: "requirements resolved",
				NextStages:   []string{string(StageIDProvision)},
			},
			{
				ID:           string(StageIDProvision),
				WaitingName:  "waiting to provision",
				RunningName:  "provisioning environment",
				FinishedName: "environment provisioned",
				NextStages:   []string{string(StageIDLaunch)},
			},
			{
				ID:           string(StageIDLaunch),
				WaitingName:  "waiting to launch",
				RunningName:  "running",
				FinishedName: "finished",
				NextStages:   []string{string(StageIDCleanup)},
			},
			{
				ID:           string(StageIDCleanup),
				WaitingName:  "waiting for cleanup",
				RunningName:  "cleaning up",
				FinishedName: "cleaned up",
				NextStages:   nil,
			},
		},
	}
}

func (d *decorator) StepInit(init *pipeline.StepInit) error {
	d.stepName = init.StepName
	d.reqs = d.config.EffectiveRequirements()
	if d.reqs.Disabled {
		return nil
	}
	if init.EnvironmentType != EnvironmentTypeConda {
		return fmt.Errorf(
			"step %s declares package requirements but the runtime was started with the %q environment (start it with %q)",
			init.StepName,
			init.EnvironmentType,
			EnvironmentTypeConda,
		)
	}
	if d.config.FetchAtExec && !d.reqs.Empty() {
		return fmt.Errorf(
			"step %s declares both fetch-at-exec and a requirement set; the environment of a fetch-at-exec step is recovered from its parent task",
			init.StepName,
		)
	}
	for _, name := range init.Decorators {
		for _, remote := range d.config.RemoteDecorators {
			if name == remote {
				d.isRemote = true
			}
		}
	}
	return nil
}

func (d *decorator) RuntimeInit(_ context.Context, run *pipeline.RunInfo) error {
	if !d.active() {
		return nil
	}
	if d.deps.RuntimeRoot == "" && len(d.deps.ExtraModulePaths) == 0 {
		return nil
	}
	overlay, err := launcher.NewOverlay(d.deps.WorkDir, d.deps.RuntimeRoot, d.deps.RuntimeInfo, d.deps.ExtraModulePaths)
	if err != nil {
		return fmt.Errorf("failed to create the runtime overlay for run %s (%w)", run.RunID, err)
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	d.overlay = overlay
	return nil
}

func (d *decorator) TaskCreated(ctx context.Context, task *pipeline.TaskInfo) error {
	if !d.active() {
		return nil
	}
	if !d.config.FetchAtExec {
		d.setEnvID(task, d.reqs.EnvID())
		return nil
	}
	if len(task.InputPaths) == 0 {
		return fmt.Errorf("fetch-at-exec task %s has no input paths to recover its environment from", task.Pathspec())
	}
	parent, err := pipeline.ParsePathspec(task.InputPaths[0])
	if err != nil {
		return fmt.Errorf("failed to parse the input path of task %s (%w)", task.Pathspec(), err)
	}
	id, err := d.deps.Metadata.LookupEnvID(ctx, parent)
	if err != nil {
		return fmt.Errorf("failed to recover the environment of task %s from its parent %s (%w)", task.Pathspec(), parent.Pathspec(), err)
	}
	d.setEnvID(task, id)
	return nil
}

func (d *decorator) StepLaunch(ctx context.Context, task *pipeline.TaskInfo, launch *pipeline.LaunchSpec, retryCount int) error {
	if !d.active() {
		return nil
	}
	id, ok := d.envID(task)
	if !ok {
		return fmt.Errorf("no environment recorded for task %s (was task creation skipped?)", task.Pathspec())
	}
	d.propagate(task, launch, id, retryCount)

	if task.UBFContext == pipeline.UBFControl {
		// Control tasks never run user code; they only hand the environment on to the worker tasks they launch.
		return nil
	}
	if d.isRemote {
		// The remote executor provisions the environment on the other side from the propagated ID.
		return nil
	}

	var resolvedEnv *resolver.ResolvedEnvironment
	if !id.Resolved() {
		resolved, err := d.deps.Resolver.Resolve(ctx, d.reqs)
		if err != nil {
			return fmt.Errorf("failed to resolve the requirements of step %s (%w)", d.stepName, err)
		}
		resolvedEnv = resolved
		id = resolved.ID
		d.setEnvID(task, id)
		d.propagate(task, launch, id, retryCount)
	}

	if _, cached := d.deps.Cache.Lookup(id); cached {
		d.logger.Infof("Using existing environment %s for step %s...", id, d.stepName)
	} else {
		d.logger.Infof("Creating environment %s for step %s...", id, d.stepName)
	}
	env, built, err := d.deps.Cache.Acquire(ctx, id, func(ctx context.Context, dir string) error {
		return d.install(ctx, id, resolvedEnv, dir)
	})
	if err != nil {
		return fmt.Errorf("failed to provision the environment of step %s (%w)", d.stepName, err)
	}
	d.track(env)
	if built {
		d.logger.Debugf("Environment %s built in %s", id, env.Dir)
	}

	if len(launch.Entrypoint) == 0 {
		return fmt.Errorf("cannot launch task %s with an empty entrypoint", task.Pathspec())
	}
	launch.Entrypoint[0] = launcher.PythonEntrypoint(env.Dir)
	for name, value := range launcher.Environ(env.Dir, launcher.BaseEnviron(), d.currentOverlay()) {
		launch.SetEnv(name, value)
	}
	return nil
}

// install materializes the environment into dir. A fetch-at-exec task arrives here with a resolved ID but no
// resolution; the declared requirements must then still resolve to the same environment, because the cache that
// built it originally is gone.
func (d *decorator) install(ctx context.Context, id requirements.EnvID, resolvedEnv *resolver.ResolvedEnvironment, dir string) error {
	if resolvedEnv == nil {
		resolved, err := d.deps.Resolver.Resolve(ctx, d.reqs)
		if err != nil {
			return fmt.Errorf("failed to re-resolve the requirements for environment %s (%w)", id, err)
		}
		if resolved.ID.FullID != id.FullID {
			return fmt.Errorf(
				"environment %s is not cached and the declared requirements now resolve to %s instead",
				id,
				resolved.ID.FullID,
			)
		}
		resolvedEnv = resolved
	}
	return d.deps.Resolver.Install(ctx, resolvedEnv, dir)
}

func (d *decorator) TaskPreStep(_ context.Context, task *pipeline.TaskInfo, launch *pipeline.LaunchSpec) error {
	if !d.active() || task.UBFContext == pipeline.UBFControl {
		return nil
	}
	id, ok := d.envID(task)
	if encoded, found := launch.Env[EnvVarEnvID]; found {
		var fromEnv requirements.EnvID
		if err := json.Unmarshal([]byte(encoded), &fromEnv); err != nil {
			return fmt.Errorf("invalid environment ID in the environment of task %s (%w)", task.Pathspec(), err)
		}
		id = fromEnv
		ok = true
	}
	if !ok {
		return fmt.Errorf("no environment recorded for task %s", task.Pathspec())
	}

	if err := d.deps.Metadata.RegisterEnvID(task.TaskRef, task.Attempt, id); err != nil {
		return fmt.Errorf("failed to record the environment of task %s (%w)", task.Pathspec(), err)
	}
	parameters := map[string]string{}
	for name, value := range launch.Env {
		parameter, found := strings.CutPrefix(name, EnvVarParameterPrefix)
		if !found {
			continue
		}
		parameters[strings.ToLower(parameter)] = value
	}
	if len(parameters) > 0 {
		if err := d.deps.Metadata.RegisterParameters(task.TaskRef, task.Attempt, parameters); err != nil {
			return fmt.Errorf("failed to record the parameters of task %s (%w)", task.Pathspec(), err)
		}
	}

	if dir, cached := d.deps.Cache.Lookup(id); cached {
		launch.Env = launcher.PrependPath(launch.Env, "PATH", filepath.Join(dir, "bin"))
	}
	return nil
}

func (d *decorator) RuntimeFinished(_ context.Context) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	var errs []error
	for _, env := range d.acquired {
		if err := env.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	d.acquired = nil
	if d.overlay != nil {
		if err := d.overlay.Remove(); err != nil {
			errs = append(errs, err)
		}
		d.overlay = nil
	}
	return errors.Join(errs...)
}

// propagate sets the identification variables on the launch spec. The environment map only affects the child; the
// environment of the current process stays untouched.
func (d *decorator) propagate(task *pipeline.TaskInfo, launch *pipeline.LaunchSpec, id requirements.EnvID, retryCount int) {
	encoded, err := json.Marshal(id)
	if err != nil {
		// EnvID only contains strings.
		panic(fmt.Errorf("failed to encode environment ID %s (%w)", id, err))
	}
	launch.SetEnv(EnvVarEnvID, string(encoded))
	launch.SetEnv(EnvVarRunID, task.RunID)
	launch.SetEnv(EnvVarStepName, task.StepName)
	launch.SetEnv(EnvVarTaskID, task.TaskID)
	launch.SetEnv(EnvVarAttempt, strconv.Itoa(retryCount))
}

func (d *decorator) active() bool {
	return !d.reqs.Disabled
}

func (d *decorator) envID(task *pipeline.TaskInfo) (requirements.EnvID, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	id, ok := d.envIDs[task.Pathspec()]
	return id, ok
}

func (d *decorator) setEnvID(task *pipeline.TaskInfo, id requirements.EnvID) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.envIDs[task.Pathspec()] = id
}

func (d *decorator) track(env *envcache.Environment) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.acquired = append(d.acquired, env)
}

func (d *decorator) currentOverlay() *launcher.Overlay {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.overlay
}
