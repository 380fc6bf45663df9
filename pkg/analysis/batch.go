package analysis

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/snietofennis/BEP-code/pkg/circuit"
	"github.com/snietofennis/BEP-code/pkg/result"
)

// Job is one independent run of RunBatch.
type Job struct {
	Name    string
	Circuit *circuit.Circuit
	Config  Config
	Options []Option
}

type BatchResult struct {
	Name  string
	RunID string
	Store *result.Store
	Stats Stats
	Err   error
}

// RunBatch runs jobs concurrently, at most limit at a time (limit <= 0 means
// no limit). Results are in job order. A failed job does not stop the
// others; the returned error joins every job error.
func RunBatch(ctx context.Context, jobs []Job, limit int) ([]BatchResult, error) {
	results := make([]BatchResult, len(jobs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, job := range jobs {
		g.Go(func() error {
			res := BatchResult{Name: job.Name}
			defer func() { results[i] = res }()

			tr, err := NewTransient(job.Circuit, job.Config, job.Options...)
			if err != nil {
				res.Err = err
				return nil
			}
			res.RunID = tr.RunID()
			res.Store, res.Err = tr.Run(ctx)
			res.Stats = tr.Stats()
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return results, errors.Join(errs...)
}
