package step

import (
	"context"

	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/pluginsdk/schema"
	"go.flow.arcalot.io/stepenv/internal/pipeline"
)

// Decorator is a set of callbacks the host runtime invokes around the lifecycle of a step. All substantive work of a
// decorator happens in these hooks; the runtime owns scheduling, retries and the pipeline graph.
type Decorator interface {
	// Name returns the identifier that uniquely identifies this decorator on a step.
	// e.g. "condaenv"
	Name() string

	// Lifecycle describes the lifecycle stages of this decorator.
	Lifecycle() Lifecycle[LifecycleStage]

	// StepInit is called when the host loads the pipeline graph, before any run starts.
	StepInit(init *pipeline.StepInit) error

	// RuntimeInit is called once at the beginning of a run, before any task of the step launches.
	RuntimeInit(ctx context.Context, run *pipeline.RunInfo) error

	// TaskCreated is called when the runtime has created a task for the step but has not launched it yet.
	TaskCreated(ctx context.Context, task *pipeline.TaskInfo) error

	// StepLaunch gives the decorator the opportunity to rewrite the launch spec of a task process before it
	// starts. retryCount is the number of times the task has been retried so far.
	StepLaunch(ctx context.Context, task *pipeline.TaskInfo, launch *pipeline.LaunchSpec, retryCount int) error

	// TaskPreStep is called right before user code executes, with the launch spec the task is running under.
	TaskPreStep(ctx context.Context, task *pipeline.TaskInfo, launch *pipeline.LaunchSpec) error

	// RuntimeFinished is called once after the run has ended, successfully or not. The decorator must release the
	// resources it holds.
	RuntimeFinished(ctx context.Context) error
}

// DecoratorFactory is an abstraction that hides away the complexity of instantiating a Decorator. Its main purpose
// is to provide the configuration schema for the decorator and then create an instance of said decorator.
type DecoratorFactory[ConfigType any] interface {
	Name() string
	ConfigurationSchema() *schema.TypedScopeSchema[ConfigType]
	Create(config ConfigType, logger log.Logger) (Decorator, error)
}

// AnyDecoratorFactory is the untyped version of DecoratorFactory.
type AnyDecoratorFactory interface {
	Name() string
	ConfigurationSchema() schema.Object
	Create(config any, logger log.Logger) (Decorator, error)
}

// Registry holds the decorator factories available to pipeline steps.
type Registry interface {
	// Schema provides a composite schema for all decorator configurations.
	Schema() schema.OneOf[string]
	// SchemaByName returns the configuration schema of a single decorator.
	SchemaByName(name string) (schema.Object, error)
	// Create creates a decorator with the given configuration type. The registry must identify the correct
	// factory based on the type passed.
	Create(config any, logger log.Logger) (Decorator, error)
	// List returns the configuration schemas of all decorator factories mapped by their names.
	List() map[string]schema.Object
}

// Any wraps a factory and creates an anonymous factory from it.
func Any[T any](factory DecoratorFactory[T]) AnyDecoratorFactory {
	return &anyDecoratorFactory[T]{
		factory: factory,
	}
}

type anyDecoratorFactory[T any] struct {
	factory DecoratorFactory[T]
}

func (a anyDecoratorFactory[T]) Name() string {
	return a.factory.Name()
}

func (a anyDecoratorFactory[T]) ConfigurationSchema() schema.Object {
	return a.factory.ConfigurationSchema()
}

func (a anyDecoratorFactory[T]) Create(config any, logger log.Logger) (Decorator, error) {
	return a.factory.Create(config.(T), logger)
}
