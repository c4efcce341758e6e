// Package noop is a step decorator that does nothing besides logging its lifecycle hooks. This is intended as a test
// decorator as well as an implementation guide for decorators.
package noop

import (
	"context"

	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/pluginsdk/schema"
	"go.flow.arcalot.io/stepenv/internal/pipeline"
	"go.flow.arcalot.io/stepenv/internal/step"
)

// NewFactory creates a new factory for the noop decorator.
func NewFactory() step.AnyDecoratorFactory {
	return step.Any[Config](&factory{})
}

// Config is the configuration of the noop decorator.
type Config struct {
	// Message is logged on every lifecycle hook.
	Message string `json:"message"`
}

type factory struct {
}

func (f factory) Name() string {
	return "noop"
}

func (f factory) ConfigurationSchema() *schema.TypedScopeSchema[Config] {
	return schema.NewTypedScopeSchema[Config](
		schema.NewStructMappedObjectSchema[Config](
			"NoopDecorator",
			map[string]*schema.PropertySchema{
				"message": schema.NewPropertySchema(
					schema.NewStringSchema(nil, nil, nil),
					schema.NewDisplayValue(
						schema.PointerTo("Message"),
						schema.PointerTo("Message to log on every lifecycle hook."),
						nil,
					),
					false,
					nil,
					nil,
					nil,
					schema.PointerTo(`"noop"`),
					nil,
				),
			},
		),
	)
}

func (f factory) Create(config Config, logger log.Logger) (step.Decorator, error) {
	return &decorator{
		config: config,
		logger: logger,
	}, nil
}

// StageID is the constant that holds valid noop stage IDs.
type StageID string

const (
	// StageIDObserve is the single stage of the noop decorator.
	StageIDObserve StageID = "observe"
)

type decorator struct {
	config Config
	logger log.Logger
}

func (d *decorator) Name() string {
	return "noop"
}

func (d *decorator) Lifecycle() step.Lifecycle[step.LifecycleStage] {
	return step.Lifecycle[step.LifecycleStage]{
		InitialStage: string(StageIDObserve),
		Stages: []step.LifecycleStage{
			{
				ID:           string(StageIDObserve),
				WaitingName:  "waiting to observe",
				RunningName:  "observing",
				FinishedName: "observed",
				NextStages:   nil,
			},
		},
	}
}

func (d *decorator) StepInit(init *pipeline.StepInit) error {
	d.logger.Debugf("%s: step %s initialized", d.config.Message, init.StepName)
	return nil
}

func (d *decorator) RuntimeInit(_ context.Context, run *pipeline.RunInfo) error {
	d.logger.Debugf("%s: run %s starting", d.config.Message, run.RunID)
	return nil
}

func (d *decorator) TaskCreated(_ context.Context, task *pipeline.TaskInfo) error {
	d.logger.Debugf("%s: task %s created", d.config.Message, task.Pathspec())
	return nil
}

func (d *decorator) StepLaunch(_ context.Context, task *pipeline.TaskInfo, _ *pipeline.LaunchSpec, retryCount int) error {
	d.logger.Debugf("%s: task %s launching (retry %d)", d.config.Message, task.Pathspec(), retryCount)
	return nil
}

func (d *decorator) TaskPreStep(_ context.Context, task *pipeline.TaskInfo, _ *pipeline.LaunchSpec) error {
	d.logger.Debugf("%s: task %s about to run user code", d.config.Message, task.Pathspec())
	return nil
}

func (d *decorator) RuntimeFinished(_ context.Context) error {
	d.logger.Debugf("%s: run finished", d.config.Message)
	return nil
}
