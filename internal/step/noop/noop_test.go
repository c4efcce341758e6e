package noop_test

import (
	"context"
	"testing"

	"go.arcalot.io/assert"
	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/stepenv/internal/pipeline"
	"go.flow.arcalot.io/stepenv/internal/step/noop"
)

func TestNoopLifecycle(t *testing.T) {
	t.Parallel()

	factory := noop.NewFactory()
	decorator, err := factory.Create(noop.Config{Message: "test"}, log.NewTestLogger(t))
	assert.NoError(t, err)
	assert.Equals(t, decorator.Name(), "noop")

	dag, err := decorator.Lifecycle().DAG()
	assert.NoError(t, err)
	assert.NotNil(t, dag)

	ctx := context.Background()
	task := &pipeline.TaskInfo{
		TaskRef: pipeline.TaskRef{RunID: "1", StepName: "start", TaskID: "2"},
	}
	launch := pipeline.NewLaunchSpec("python", "step.py")

	assert.NoError(t, decorator.StepInit(&pipeline.StepInit{StepName: "start"}))
	assert.NoError(t, decorator.RuntimeInit(ctx, &pipeline.RunInfo{RunID: "1"}))
	assert.NoError(t, decorator.TaskCreated(ctx, task))
	assert.NoError(t, decorator.StepLaunch(ctx, task, launch, 0))
	assert.NoError(t, decorator.TaskPreStep(ctx, task, launch))
	assert.NoError(t, decorator.RuntimeFinished(ctx))
}
