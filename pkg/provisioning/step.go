package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrIrreversible  = errors.New("step cannot be reversed")
	ErrUnknownStep   = errors.New("applied step is not registered")
	ErrDuplicateStep = errors.New("duplicate step id")
	ErrInvalidStep   = errors.New("invalid step")
)

// StepFunc provisions through p. The procedure starts on the runner's
// default guard; use p.Guard to provision others.
type StepFunc func(ctx context.Context, p *Procedure) error

// Step is one append-only provisioning change. Steps are applied in ID
// order, so IDs are usually timestamp prefixed.
type Step struct {
	ID          string
	Description string
	Up          StepFunc
	// Down reverses Up. Nil marks the step irreversible.
	Down StepFunc
}

// sortSteps validates steps and returns a copy ordered by ID
func sortSteps(steps []Step) ([]Step, error) {
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for i, step := range sorted {
		if step.ID == "" {
			return nil, fmt.Errorf("%w: missing id", ErrInvalidStep)
		}
		if step.Up == nil {
			return nil, fmt.Errorf("%w: %s has no up function", ErrInvalidStep, step.ID)
		}
		if i > 0 && sorted[i-1].ID == step.ID {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, step.ID)
		}
	}
	return sorted, nil
}
