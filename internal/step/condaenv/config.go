package condaenv

import (
	"go.flow.arcalot.io/stepenv/internal/requirements"
)

// EnvironmentTypeConda is the execution environment identifier the decorator requires the runtime to be started
// with.
const EnvironmentTypeConda = "conda"

// Config is the configuration of the condaenv decorator.
type Config struct {
	// Requirements is the requirement set of the step. A nil value means an empty set.
	Requirements *requirements.Set `json:"requirements"`
	// BaseRequirements is the flow-level requirement set the step set augments. On conflict the step value prevails.
	BaseRequirements *requirements.Set `json:"base_requirements"`
	// FetchAtExec defers environment selection to task execution. The environment ID is recovered from the
	// metadata of the parent task instead of being derived from the declared requirements.
	FetchAtExec bool `json:"fetch_at_exec"`
	// RemoteDecorators lists decorator names that indicate remote execution of the step. When the step carries one
	// of them, the environment is provisioned by the remote executor, not this process.
	RemoteDecorators []string `json:"remote_decorators"`
}

// EffectiveRequirements returns the requirement set the step runs with: the flow-level base set augmented by the
// step-level set, the step value prevailing on conflict.
func (c Config) EffectiveRequirements() requirements.Set {
	if c.BaseRequirements == nil {
		if c.Requirements == nil {
			return requirements.Set{}
		}
		return *c.Requirements
	}
	if c.Requirements == nil {
		return *c.BaseRequirements
	}
	return requirements.Merge(*c.BaseRequirements, *c.Requirements)
}
