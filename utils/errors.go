package utils

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// TaskError is the failure of one task of a fan-out stage. Task identifies the unit of work, e.g.
// the row, partition or envelope index the task was given.
type TaskError struct {
	Task int
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// TaskErrors splits an error returned by RunTasks into the failures of individual tasks. Errors
// that did not come from a task are reported with Task -1.
func TaskErrors(err error) []*TaskError {
	var out []*TaskError
	for _, e := range multierr.Errors(err) {
		var taskErr *TaskError
		if errors.As(e, &taskErr) {
			out = append(out, taskErr)
			continue
		}
		out = append(out, &TaskError{Task: -1, Err: e})
	}
	return out
}
