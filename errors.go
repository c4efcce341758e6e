package stepenv

// ErrRequirementsDisabled indicates that the requirement set opts out of provisioning and the step runs in the
// external environment instead.
type ErrRequirementsDisabled struct {
}

// Error returns the error message.
func (e ErrRequirementsDisabled) Error() string {
	return "the requirement set is disabled; the step runs in the external environment"
}
