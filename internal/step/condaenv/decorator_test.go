package condaenv_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"go.arcalot.io/assert"
	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/stepenv/internal/envcache"
	"go.flow.arcalot.io/stepenv/internal/metadata"
	"go.flow.arcalot.io/stepenv/internal/pipeline"
	"go.flow.arcalot.io/stepenv/internal/requirements"
	"go.flow.arcalot.io/stepenv/internal/resolver"
	"go.flow.arcalot.io/stepenv/internal/step"
	"go.flow.arcalot.io/stepenv/internal/step/condaenv"
)

// fakeResolver resolves every requirement set to the same single-package environment and installs it by writing a
// python entrypoint stub.
type fakeResolver struct {
	resolveCalls atomic.Int32
	installCalls atomic.Int32
}

func (f *fakeResolver) Resolve(_ context.Context, reqs requirements.Set) (*resolver.ResolvedEnvironment, error) {
	f.resolveCalls.Add(1)
	packages := []resolver.LockedPackage{
		{Name: "python", Version: "3.11.8", Source: "conda-forge"},
	}
	specs := make([]string, len(packages))
	for i, pkg := range packages {
		specs[i] = pkg.Spec()
	}
	return &resolver.ResolvedEnvironment{
		ID: requirements.EnvID{
			RequirementsID: reqs.RequirementsID(),
			FullID:         requirements.FullIDFor(specs),
			Arch:           requirements.CurrentArch(),
		},
		PythonVersion: "3.11.8",
		Packages:      packages,
	}, nil
}

func (f *fakeResolver) Install(_ context.Context, _ *resolver.ResolvedEnvironment, targetDir string) error {
	f.installCalls.Add(1)
	if err := os.MkdirAll(filepath.Join(targetDir, "bin"), 0o750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(targetDir, "bin", "python"), []byte("#!/bin/sh\n"), 0o750)
}

type harness struct {
	factory  step.AnyDecoratorFactory
	resolver *fakeResolver
	cache    *envcache.Cache
	meta     *metadata.Store
}

func newHarness(t *testing.T) *harness {
	logger := log.NewTestLogger(t)
	cache, err := envcache.New(t.TempDir(), logger)
	assert.NoError(t, err)
	meta, err := metadata.New(t.TempDir(), logger)
	assert.NoError(t, err)
	fake := &fakeResolver{}
	return &harness{
		factory: condaenv.NewFactory(condaenv.Dependencies{
			Cache:    cache,
			Resolver: fake,
			Metadata: meta,
			WorkDir:  t.TempDir(),
		}),
		resolver: fake,
		cache:    cache,
		meta:     meta,
	}
}

func (h *harness) decorator(t *testing.T, config condaenv.Config) step.Decorator {
	decorator, err := h.factory.Create(config, log.NewTestLogger(t))
	assert.NoError(t, err)
	return decorator
}

func testConfig() condaenv.Config {
	return condaenv.Config{
		Requirements: &requirements.Set{
			Packages: map[string]string{"numpy": ">=1.26"},
		},
	}
}

func testTask(taskID string) *pipeline.TaskInfo {
	return &pipeline.TaskInfo{
		TaskRef: pipeline.TaskRef{RunID: "1723", StepName: "train", TaskID: taskID},
	}
}

func initStep(t *testing.T, decorator step.Decorator) {
	assert.NoError(t, decorator.StepInit(&pipeline.StepInit{
		FlowName:        "TrainingFlow",
		StepName:        "train",
		EnvironmentType: condaenv.EnvironmentTypeConda,
		Decorators:      []string{"condaenv"},
	}))
	assert.NoError(t, decorator.RuntimeInit(context.Background(), &pipeline.RunInfo{RunID: "1723"}))
}

func TestProvisionsEnvironmentOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	decorator := h.decorator(t, testConfig())
	initStep(t, decorator)
	ctx := context.Background()

	for _, taskID := range []string{"1", "2"} {
		task := testTask(taskID)
		launch := pipeline.NewLaunchSpec("python", "flow.py", "step", "train")
		assert.NoError(t, decorator.TaskCreated(ctx, task))
		assert.NoError(t, decorator.StepLaunch(ctx, task, launch, 0))

		if !filepath.IsAbs(launch.Entrypoint[0]) {
			t.Fatalf("the entrypoint was not rewritten to the environment interpreter: %s", launch.Entrypoint[0])
		}
		assert.Equals(t, filepath.Base(launch.Entrypoint[0]), "python")
		if !strings.HasPrefix(launch.Env["PATH"], filepath.Dir(launch.Entrypoint[0])) {
			t.Fatalf("the environment bin directory does not lead PATH: %s", launch.Env["PATH"])
		}
		assert.Equals(t, launch.Env["PYTHONNOUSERSITE"], "1")
		assert.Equals(t, launch.Env[condaenv.EnvVarRunID], "1723")
		assert.Equals(t, launch.Env[condaenv.EnvVarTaskID], taskID)
	}

	// Both tasks resolve, but the second one finds the environment in the cache.
	assert.Equals(t, int(h.resolver.installCalls.Load()), 1)
	assert.NoError(t, decorator.RuntimeFinished(ctx))
}

func TestParentEnvironmentUntouched(t *testing.T) {
	h := newHarness(t)
	decorator := h.decorator(t, testConfig())
	initStep(t, decorator)
	ctx := context.Background()

	t.Setenv("PATH", "/usr/bin")
	task := testTask("1")
	launch := pipeline.NewLaunchSpec("python", "flow.py")
	assert.NoError(t, decorator.TaskCreated(ctx, task))
	assert.NoError(t, decorator.StepLaunch(ctx, task, launch, 0))

	assert.Equals(t, os.Getenv("PATH"), "/usr/bin")
	if launch.Env["PATH"] == "/usr/bin" {
		t.Fatalf("the launch spec PATH was not rewritten")
	}
	assert.NoError(t, decorator.RuntimeFinished(ctx))
}

func TestDisabledRequirements(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	decorator := h.decorator(t, condaenv.Config{
		Requirements: &requirements.Set{Disabled: true},
	})
	// A disabled step never checks the environment type.
	assert.NoError(t, decorator.StepInit(&pipeline.StepInit{StepName: "train", EnvironmentType: "local"}))

	ctx := context.Background()
	task := testTask("1")
	launch := pipeline.NewLaunchSpec("python", "flow.py")
	assert.NoError(t, decorator.TaskCreated(ctx, task))
	assert.NoError(t, decorator.StepLaunch(ctx, task, launch, 0))

	assert.Equals(t, launch.Entrypoint[0], "python")
	assert.Equals(t, int(h.resolver.resolveCalls.Load()), 0)
}

func TestBaseRequirementsAugmented(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	decorator := h.decorator(t, condaenv.Config{
		BaseRequirements: &requirements.Set{
			Python:   "3.11",
			Packages: map[string]string{"numpy": "1.26", "pandas": "2.2"},
		},
		Requirements: &requirements.Set{
			Packages: map[string]string{"numpy": "2.0"},
		},
	})
	initStep(t, decorator)
	ctx := context.Background()

	task := testTask("1")
	launch := pipeline.NewLaunchSpec("python", "flow.py")
	assert.NoError(t, decorator.TaskCreated(ctx, task))
	assert.NoError(t, decorator.StepLaunch(ctx, task, launch, 0))

	// The step set augments the flow-level base set; on conflict the step value prevails.
	merged := requirements.Set{
		Python:   "3.11",
		Packages: map[string]string{"numpy": "2.0", "pandas": "2.2"},
	}
	assert.Contains(t, launch.Env[condaenv.EnvVarEnvID], merged.RequirementsID())
	assert.NoError(t, decorator.RuntimeFinished(ctx))
}

func TestRejectsWrongEnvironmentType(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	decorator := h.decorator(t, testConfig())
	assert.Error(t, decorator.StepInit(&pipeline.StepInit{StepName: "train", EnvironmentType: "local"}))
}

func TestRejectsFetchAtExecWithRequirements(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	config := testConfig()
	config.FetchAtExec = true
	decorator := h.decorator(t, config)
	assert.Error(t, decorator.StepInit(&pipeline.StepInit{StepName: "train", EnvironmentType: condaenv.EnvironmentTypeConda}))
}

func TestRemoteStepOnlyPropagates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	config := testConfig()
	config.RemoteDecorators = []string{"kubernetes"}
	decorator := h.decorator(t, config)
	assert.NoError(t, decorator.StepInit(&pipeline.StepInit{
		StepName:        "train",
		EnvironmentType: condaenv.EnvironmentTypeConda,
		Decorators:      []string{"condaenv", "kubernetes"},
	}))

	ctx := context.Background()
	task := testTask("1")
	launch := pipeline.NewLaunchSpec("python", "flow.py")
	assert.NoError(t, decorator.TaskCreated(ctx, task))
	assert.NoError(t, decorator.StepLaunch(ctx, task, launch, 2))

	assert.Contains(t, launch.Env[condaenv.EnvVarEnvID], requirements.FullIDDefault)
	assert.Equals(t, launch.Env[condaenv.EnvVarAttempt], "2")
	assert.Equals(t, launch.Entrypoint[0], "python")
	assert.Equals(t, int(h.resolver.installCalls.Load()), 0)
}

func TestControlTaskNeverBuilds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	decorator := h.decorator(t, testConfig())
	initStep(t, decorator)

	ctx := context.Background()
	task := testTask("1")
	task.UBFContext = pipeline.UBFControl
	launch := pipeline.NewLaunchSpec("python", "flow.py")
	assert.NoError(t, decorator.TaskCreated(ctx, task))
	assert.NoError(t, decorator.StepLaunch(ctx, task, launch, 0))

	if _, ok := launch.Env[condaenv.EnvVarEnvID]; !ok {
		t.Fatalf("the environment ID was not propagated to the control task")
	}
	assert.Equals(t, launch.Entrypoint[0], "python")
	assert.Equals(t, int(h.resolver.installCalls.Load()), 0)
	assert.NoError(t, decorator.RuntimeFinished(ctx))
}

func TestPreStepRecordsMetadata(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	decorator := h.decorator(t, testConfig())
	initStep(t, decorator)
	ctx := context.Background()

	task := testTask("1")
	launch := pipeline.NewLaunchSpec("python", "flow.py")
	assert.NoError(t, decorator.TaskCreated(ctx, task))
	assert.NoError(t, decorator.StepLaunch(ctx, task, launch, 0))
	launch.SetEnv(condaenv.EnvVarParameterPrefix+"ALPHA", "0.5")
	assert.NoError(t, decorator.TaskPreStep(ctx, task, launch))

	recovered, err := h.meta.LookupEnvID(ctx, task.TaskRef)
	assert.NoError(t, err)
	if !recovered.Resolved() {
		t.Fatalf("an unresolved environment ID was recorded: %s", recovered)
	}
	value, err := h.meta.LookupParameter(ctx, task.TaskRef, "alpha")
	assert.NoError(t, err)
	assert.Equals(t, value, "0.5")
	assert.NoError(t, decorator.RuntimeFinished(ctx))
}

func TestFetchAtExecRecoversParentEnvironment(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	// The parent step runs first and records its environment.
	parentDecorator := h.decorator(t, testConfig())
	initStep(t, parentDecorator)
	parent := testTask("1")
	parentLaunch := pipeline.NewLaunchSpec("python", "flow.py")
	assert.NoError(t, parentDecorator.TaskCreated(ctx, parent))
	assert.NoError(t, parentDecorator.StepLaunch(ctx, parent, parentLaunch, 0))
	assert.NoError(t, parentDecorator.TaskPreStep(ctx, parent, parentLaunch))
	assert.NoError(t, parentDecorator.RuntimeFinished(ctx))

	childDecorator := h.decorator(t, condaenv.Config{FetchAtExec: true})
	assert.NoError(t, childDecorator.StepInit(&pipeline.StepInit{
		StepName:        "score",
		EnvironmentType: condaenv.EnvironmentTypeConda,
	}))
	child := testTask("2")
	child.StepName = "score"
	child.InputPaths = []string{parent.Pathspec()}
	childLaunch := pipeline.NewLaunchSpec("python", "flow.py")
	assert.NoError(t, childDecorator.TaskCreated(ctx, child))
	assert.NoError(t, childDecorator.StepLaunch(ctx, child, childLaunch, 0))

	parentID, err := h.meta.LookupEnvID(ctx, parent.TaskRef)
	assert.NoError(t, err)
	assert.Contains(t, childLaunch.Env[condaenv.EnvVarEnvID], parentID.FullID)
	// The parent built the environment already; the child only acquires it.
	assert.Equals(t, int(h.resolver.installCalls.Load()), 1)
	assert.NoError(t, childDecorator.RuntimeFinished(ctx))
}

func TestFetchAtExecWithoutParentFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	decorator := h.decorator(t, condaenv.Config{FetchAtExec: true})
	assert.NoError(t, decorator.StepInit(&pipeline.StepInit{
		StepName:        "score",
		EnvironmentType: condaenv.EnvironmentTypeConda,
	}))

	task := testTask("1")
	assert.Error(t, decorator.TaskCreated(context.Background(), task))

	task.InputPaths = []string{"1723/train/99"}
	assert.Error(t, decorator.TaskCreated(context.Background(), task))
}

func TestReleasedEnvironmentsArePrunable(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	decorator := h.decorator(t, testConfig())
	initStep(t, decorator)
	ctx := context.Background()

	task := testTask("1")
	launch := pipeline.NewLaunchSpec("python", "flow.py")
	assert.NoError(t, decorator.TaskCreated(ctx, task))
	assert.NoError(t, decorator.StepLaunch(ctx, task, launch, 0))

	// The environment is referenced while the run holds it.
	removed, err := h.cache.Prune(ctx)
	assert.NoError(t, err)
	assert.Equals(t, len(removed), 0)

	assert.NoError(t, decorator.RuntimeFinished(ctx))
	removed, err = h.cache.Prune(ctx)
	assert.NoError(t, err)
	assert.Equals(t, len(removed), 1)
}
