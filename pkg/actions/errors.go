package actions

import (
	"errors"
	"fmt"

	"github.com/dukex/fieldflow/pkg/models"
)

// ErrMissingJobID is returned by update_job_status when neither config nor context name a job.
var ErrMissingJobID = errors.New("no job id in config or context")

// StepError reports the failure of one step. It stops the current execution only.
type StepError struct {
	Index int
	Type  models.StepType
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Type, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func newStepError(index int, stepType models.StepType, err error) *StepError {
	return &StepError{Index: index, Type: stepType, Err: err}
}
