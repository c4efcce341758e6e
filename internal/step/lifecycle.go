package step

import (
	"fmt"

	"go.arcalot.io/dgraph"
	"go.arcalot.io/lang"
)

// Lifecycle describes the lifecycle of a step decorator. Each stage declares the next possible stages; this
// information is used to build the dependency tree of the decorator within the task lifecycle of the host runtime.
type Lifecycle[StageType lifecycleStage] struct {
	// InitialStage contains the first stage this decorator enters.
	InitialStage string
	// Stages contains the list of stages for this decorator.
	Stages []StageType
}

// DAG will return a directed acyclic graph of the lifecycle.
func (l Lifecycle[StageType]) DAG() (dgraph.DirectedGraph[StageType], error) {
	dag := dgraph.New[StageType]()
	for _, stage := range l.Stages {
		_, err := dag.AddNode(stage.Identifier(), stage)
		if err != nil {
			return nil, fmt.Errorf("failed to add stage %s to lifecycle (%w)", stage.Identifier(), err)
		}
	}
	for _, stage := range l.Stages {
		node := lang.Must2(dag.GetNodeByID(stage.Identifier()))
		for _, nextStage := range stage.NextStageIDs() {
			if err := node.Connect(nextStage); err != nil {
				return nil, fmt.Errorf("failed to connect lifecycle stage %s to %s (%w)", node.ID(), nextStage, err)
			}
		}
	}
	starterNodes := dag.ListNodesWithoutInboundConnections()
	if len(starterNodes) != 1 {
		return nil, fmt.Errorf("invalid number of initial stages for lifecycle: %d", len(starterNodes))
	}
	if _, ok := starterNodes[l.InitialStage]; !ok {
		return nil, fmt.Errorf("incorrect initial stage: %s (not a stage without inbound connections)", l.InitialStage)
	}
	return dag, nil
}

// lifecycleStage is a helper interface for being able to construct a DAG from a lifecycle.
type lifecycleStage interface {
	// Identifier returns the ID of the stage.
	Identifier() string
	// NextStageIDs returns the next stage identifiers.
	NextStageIDs() []string
}

// LifecycleStage is the description of a single stage within a decorator lifecycle.
type LifecycleStage struct {
	// ID uniquely identifies the stage within the current decorator.
	ID string
	// WaitingName describes this stage when waiting to run.
	WaitingName string
	// RunningName describes this stage when it is running.
	RunningName string
	// FinishedName specifies how to call this stage once it is complete.
	FinishedName string
	// NextStages describes the possible next stages. A DAG edge is created between the current and the described
	// next stages to ensure they run in order.
	NextStages []string
}

// Identifier is a helper function for getting the ID.
func (l LifecycleStage) Identifier() string {
	return l.ID
}

// NextStageIDs is a helper function that returns the next possible stages.
func (l LifecycleStage) NextStageIDs() []string {
	return l.NextStages
}
