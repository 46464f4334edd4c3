package graphics

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RecordWorkers records command buffers across a bounded pool of
// goroutines, one command pool per worker so recording never shares a
// pool between threads.
type RecordWorkers struct {
	cache *CommandPoolCache
	limit int
}

// NewRecordWorkers creates a worker pool over a command pool cache.
// limit <= 0 means one worker per submitted job.
func NewRecordWorkers(cache *CommandPoolCache, limit int) *RecordWorkers {
	return &RecordWorkers{cache: cache, limit: limit}
}

// Record runs fn once per job on the worker pool. Each invocation gets a
// command buffer allocated from that worker's own pool, already begun
// for one-time submit. Recorded buffers come back in job order; on any
// error every buffer is freed and the first error is returned.
func (w *RecordWorkers) Record(ctx context.Context, jobs int, fn func(job int, cmd *CommandBuffer) error) ([]*CommandBuffer, error) {
	if jobs <= 0 {
		return nil, nil
	}

	buffers := make([]*CommandBuffer, jobs)

	group, ctx := errgroup.WithContext(ctx)
	if w.limit > 0 {
		group.SetLimit(w.limit)
	}

	for job := 0; job < jobs; job++ {
		job := job
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			pool, err := w.cache.Get(uint64(job))
			if err != nil {
				return fmt.Errorf("worker %d pool: %w", job, err)
			}

			cmd, err := pool.AllocateCommandBuffer(QueueGraphics, false)
			if err != nil {
				return fmt.Errorf("worker %d command buffer: %w", job, err)
			}
			if err := cmd.BeginOneTime(); err != nil {
				cmd.Free()
				return err
			}

			if err := fn(job, cmd); err != nil {
				cmd.Free()
				return err
			}
			if err := cmd.End(); err != nil {
				cmd.Free()
				return err
			}

			buffers[job] = cmd
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		for _, cmd := range buffers {
			if cmd != nil {
				cmd.Free()
			}
		}
		return nil, err
	}
	return buffers, nil
}
