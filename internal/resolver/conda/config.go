package conda

import (
	"time"
)

// Config is the configuration of the conda resolver backend. The backend drives a conda-compatible command line
// tool; dependency solving and lockfile handling stay inside that tool.
type Config struct {
	// Executable is the conda-compatible binary to drive.
	Executable string `json:"executable"`
	// Channels lists the default channels to search. Requirement-set channels take priority over these.
	Channels []string `json:"channels"`
	// Timeouts configures the limits on the invoked tool.
	Timeouts Timeouts `json:"timeouts"`
}

// Timeouts holds the timeouts of the conda tool invocations.
type Timeouts struct {
	// Resolve limits a dry-run solve.
	Resolve time.Duration `json:"resolve"`
	// Install limits an environment creation.
	Install time.Duration `json:"install"`
}
