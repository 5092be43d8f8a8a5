package engine

import "fmt"

// InvalidTransitionError reports a lifecycle transition outside the
// allowed table. The request is left untouched.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
