// Package pipeline contains the host-facing data types the step decorators receive from the pipeline runtime:
// run/step/task identifiers, the unbounded-foreach context and the launch specification of a task process.
package pipeline

import (
	"fmt"
	"strings"
)

// UBFContext describes the role of a task within an unbounded-foreach construct.
type UBFContext string

const (
	// UBFNone indicates that the task is not part of an unbounded foreach.
	UBFNone UBFContext = ""
	// UBFControl indicates the coordinating task of an unbounded foreach. Control tasks do not run user code
	// themselves, they only launch the worker tasks.
	UBFControl UBFContext = "ubf_control"
	// UBFTask indicates a worker task of an unbounded foreach.
	UBFTask UBFContext = "ubf_task"
)

// TaskRef identifies a single task within a run.
type TaskRef struct {
	RunID    string `json:"run_id"`
	StepName string `json:"step_name"`
	TaskID   string `json:"task_id"`
}

// Pathspec returns the run/step/task form of the reference.
func (r TaskRef) Pathspec() string {
	return strings.Join([]string{r.RunID, r.StepName, r.TaskID}, "/")
}

// ParsePathspec parses a run/step/task pathspec into a TaskRef.
func ParsePathspec(pathspec string) (TaskRef, error) {
	parts := strings.Split(pathspec, "/")
	if len(parts) != 3 {
		return TaskRef{}, fmt.Errorf("invalid pathspec: %s (expected run/step/task)", pathspec)
	}
	for _, part := range parts {
		if part == "" {
			return TaskRef{}, fmt.Errorf("invalid pathspec: %s (empty component)", pathspec)
		}
	}
	return TaskRef{
		RunID:    parts[0],
		StepName: parts[1],
		TaskID:   parts[2],
	}, nil
}

// StepInit carries the information the runtime provides when the pipeline graph is loaded, before any run starts.
type StepInit struct {
	// FlowName is the name of the pipeline the step belongs to.
	FlowName string
	// StepName is the name of the step the decorator is attached to.
	StepName string
	// EnvironmentType is the identifier of the execution environment the runtime was started with.
	EnvironmentType string
	// Decorators lists the names of all decorators attached to the step, including the current one.
	Decorators []string
}

// RunInfo carries the information the runtime provides once, at the beginning of a run.
type RunInfo struct {
	// RunID is the identifier of the current run.
	RunID string
	// ParameterNames lists the declared pipeline parameters by name. The values are only known at task execution.
	ParameterNames []string
}

// TaskInfo carries the information the runtime provides when a task is created and launched.
type TaskInfo struct {
	TaskRef

	// Attempt is the zero-based retry counter for the task.
	Attempt int
	// SplitIndex is the foreach split index of the task, or zero.
	SplitIndex int
	// InputPaths lists the pathspecs of the tasks whose outputs feed this task.
	InputPaths []string
	// Cloned indicates that the task was cloned from a previous run instead of being executed.
	Cloned bool
	// UBFContext describes the unbounded-foreach role of this task.
	UBFContext UBFContext
}

// LaunchSpec describes the command line and environment a task process will be launched with. Decorators may rewrite
// both before the process starts. The environment map only affects the child process, never the current process.
type LaunchSpec struct {
	// Entrypoint is the argument vector of the task process. The first element is the executable.
	Entrypoint []string
	// Env holds the environment variables of the task process.
	Env map[string]string
}

// NewLaunchSpec creates a launch spec for the given argument vector with an empty environment.
func NewLaunchSpec(entrypoint ...string) *LaunchSpec {
	return &LaunchSpec{
		Entrypoint: entrypoint,
		Env:        map[string]string{},
	}
}

// SetEnv sets an environment variable on the launch spec.
func (l *LaunchSpec) SetEnv(name string, value string) {
	if l.Env == nil {
		l.Env = map[string]string{}
	}
	l.Env[name] = value
}
