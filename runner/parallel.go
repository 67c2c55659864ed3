package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/flightcheck/flightcheck/types"
)

// runChildrenParallel executes nodes on a bounded pool of workers. Each node
// is exclusively owned by the worker running it until finalization; results
// flow through the aggregation cascade, so the pool only has to report
// framework errors.
func (r *Runner) runChildrenParallel(ctx context.Context, nodes []*types.Node) error {
	workers := r.concurrency
	if workers > len(nodes) {
		workers = len(nodes)
	}

	workChan := make(chan *types.Node)
	errChan := make(chan error, len(nodes))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for node := range workChan {
				if err := r.runNode(ctx, node); err != nil {
					errChan <- err
				}
			}
		}()
	}

	// Feed every node regardless of cancellation: a cancelled run still
	// visits each node so its steps finalize as skipped and the aggregate
	// completes.
	for _, node := range nodes {
		workChan <- node
	}
	close(workChan)
	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
