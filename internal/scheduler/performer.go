package scheduler

import (
	"context"
	"fmt"

	"caprun/internal/jobs"
	"caprun/internal/jobstore"
	logx "caprun/pkg/logx"
)

// StorePerformer executes jobs out of a job store via the handler registry.
// A handler failure (or panic) completes the job with its error recorded; the
// execution thread keeps draining.
type StorePerformer struct {
	Store    jobstore.Store
	Registry *jobs.Registry
	Log      logx.Logger
}

func NewStorePerformer(store jobstore.Store, reg *jobs.Registry, log logx.Logger) *StorePerformer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &StorePerformer{Store: store, Registry: reg, Log: log}
}

func (p *StorePerformer) Next(ctx context.Context, queue string) (bool, error) {
	job, ok, err := p.Store.Claim(ctx, queue)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	jobErr := p.perform(ctx, job)
	if jobErr != nil {
		p.Log.Warn("job failed", logx.String("job", job.Name), logx.String("id", job.ID), logx.Err(jobErr))
	} else {
		p.Log.Debug("job performed", logx.String("job", job.Name), logx.String("id", job.ID), logx.String("queue", job.Queue))
	}

	if err := p.Store.Complete(ctx, job.ID, jobErr); err != nil {
		return false, err
	}
	return true, nil
}

func (p *StorePerformer) perform(ctx context.Context, job jobs.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job %s: %v", job.Name, r)
		}
	}()
	return p.Registry.Perform(ctx, job)
}

func (p *StorePerformer) Queues(ctx context.Context) ([]string, error) {
	return p.Store.Queues(ctx)
}
