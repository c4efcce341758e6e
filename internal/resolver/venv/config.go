package venv

import (
	"time"
)

// Config is the configuration of the venv resolver backend. The backend provisions virtual environments with the
// interpreter's venv module and installs pip packages into them. It only serves pip-only requirement sets.
type Config struct {
	// Python is the interpreter used to create virtual environments.
	Python string `json:"python"`
	// Timeouts configures the limits on the invoked tools.
	Timeouts Timeouts `json:"timeouts"`
}

// Timeouts holds the timeouts of the venv tool invocations.
type Timeouts struct {
	// Resolve limits a pip dry-run.
	Resolve time.Duration `json:"resolve"`
	// Install limits the environment creation and package installation.
	Install time.Duration `json:"install"`
}
