package registry

import (
	"errors"
	"fmt"
	"strings"
)

// UnsatisfiableError reports that no registered factory matches a requirement
type UnsatisfiableError struct {
	Signature   string
	UnmetTraits []string
}

func (e *UnsatisfiableError) Error() string {
	if len(e.UnmetTraits) == 0 {
		return fmt.Sprintf("no factory satisfies requirement %q", e.Signature)
	}
	return fmt.Sprintf("no factory satisfies requirement %q (unmet traits: %s)",
		e.Signature, strings.Join(e.UnmetTraits, ", "))
}

// IsUnsatisfiable checks if the error is or wraps an UnsatisfiableError
func IsUnsatisfiable(err error) bool {
	var target *UnsatisfiableError
	return err != nil && errors.As(err, &target)
}

// AmbiguityError reports that two or more equally specific factories match a
// requirement. Resolution never guesses between them.
type AmbiguityError struct {
	Signature string
	Factories []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("requirement %q matched by equally specific factories: %s",
		e.Signature, strings.Join(e.Factories, ", "))
}

// IsAmbiguous checks if the error is or wraps an AmbiguityError
func IsAmbiguous(err error) bool {
	var target *AmbiguityError
	return err != nil && errors.As(err, &target)
}
