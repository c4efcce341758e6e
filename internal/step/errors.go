package step

import (
	"fmt"
	"strings"
)

// ErrDecoratorNotFound is an error indicating that a decorator name was not found.
type ErrDecoratorNotFound struct {
	Name       string
	ValidNames []string
}

// Error returns the error message.
func (e ErrDecoratorNotFound) Error() string {
	return fmt.Sprintf(
		"the following step decorator is not supported: %s (only the following decorators are supported: %s)",
		e.Name,
		strings.Join(e.ValidNames, ", "),
	)
}
