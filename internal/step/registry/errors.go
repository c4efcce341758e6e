package registry

import "fmt"

// ErrDuplicateDecoratorName indicates that there are two decorator factories with the same name.
type ErrDuplicateDecoratorName struct {
	Name string
}

// Error returns the error message.
func (e ErrDuplicateDecoratorName) Error() string {
	return fmt.Sprintf("duplicate decorator factory for name %s found", e.Name)
}
