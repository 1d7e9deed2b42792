package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rendis/loom/pkg/schema"
)

// executeParallelStep fans the sibling steps out concurrently and reassembles
// their outputs in declaration order. The step's own output is the last
// element of that list; when the step declares an id, the full ordered list
// is stored under it as a JSON array.
func (x *Executor) executeParallelStep(ctx context.Context, step *schema.Step, ec *ExecutionContext) (string, error) {
	outputs, err := x.executeParallel(ctx, step.Steps, ec)
	if err != nil {
		return "", withStep(err, step.ID)
	}

	if step.ID != "" {
		encoded, merr := json.Marshal(outputs)
		if merr != nil {
			return "", schema.NewErrorf(schema.ErrCodeExecution,
				"parallel step: marshal results: %s", merr.Error()).WithCause(merr).WithStep(step.ID)
		}
		ec.StoreResult(step.ID, string(encoded))
	}

	return outputs[len(outputs)-1], nil
}

// executeParallel runs sibling steps concurrently, each on its own context
// clone so siblings cannot observe each other's input threading. outputs[i]
// corresponds to steps[i] regardless of completion order. Policy is
// fail-fast: the first failure cancels the remaining siblings and no partial
// result list is returned.
func (x *Executor) executeParallel(ctx context.Context, steps []schema.Step, ec *ExecutionContext) ([]string, error) {
	if len(steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "parallel step: empty step list")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	outputs := make([]string, len(steps))

	for i := range steps {
		wg.Add(1)
		go func(idx int, sibling *schema.Step) {
			defer wg.Done()

			out, err := x.dispatchStep(runCtx, sibling, ec.Clone())
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
				return
			}
			outputs[idx] = out
		}(i, &steps[i])
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return outputs, nil
}
