package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/epicrun/internal/builder"
)

type job struct {
	ticketID string
	req      builder.Request
}

type outcome struct {
	ticketID string
	result   *builder.Result
	err      error
	duration time.Duration
}

// dispatcher is a bounded work queue consumed by a fixed set of workers.
// Only the main loop submits and waits, so pending needs no lock; workers
// never touch epic state.
type dispatcher struct {
	jobs    chan job
	results chan outcome
	workers int
	pending int
	wg      sync.WaitGroup
}

func newDispatcher(ctx context.Context, b builder.Builder, workers int) *dispatcher {
	d := &dispatcher{
		jobs:    make(chan job, workers),
		results: make(chan outcome, workers),
		workers: workers,
	}
	for range workers {
		d.wg.Go(func() {
			for j := range d.jobs {
				start := time.Now()
				res, err := b.Invoke(ctx, j.req)
				d.results <- outcome{
					ticketID: j.ticketID,
					result:   res,
					err:      err,
					duration: time.Since(start),
				}
			}
		})
	}
	return d
}

func (d *dispatcher) capacity() int { return d.workers }

func (d *dispatcher) inFlight() int { return d.pending }

// submit never blocks while inFlight() < capacity().
func (d *dispatcher) submit(j job) {
	d.pending++
	d.jobs <- j
}

// wait returns the next finished invocation.
func (d *dispatcher) wait(ctx context.Context) (outcome, error) {
	select {
	case out := <-d.results:
		d.pending--
		return out, nil
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	}
}

// close stops the workers and waits for them. Results of invocations still
// running are discarded; their tickets stay in flight in the persisted
// state and are reset by recovery.
func (d *dispatcher) close() {
	close(d.jobs)
	d.wg.Wait()
}
