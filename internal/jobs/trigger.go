package jobs

import (
	"context"

	"git.home.luguber.info/inful/coursebuilder/internal/course"
	"git.home.luguber.info/inful/coursebuilder/internal/pipeline"
)

// Enqueuer accepts update jobs.
type Enqueuer interface {
	Enqueue(key string, opts pipeline.Options) (string, error)
}

// Trigger records a PENDING update and enqueues the job that will run it.
type Trigger struct {
	Records course.Store
	Queue   Enqueuer
}

// Request creates the update for key on behalf of requestIP and enqueues it.
// The update stays PENDING if enqueueing fails; the next job for the course picks it up.
func (t *Trigger) Request(ctx context.Context, key, requestIP string, opts pipeline.Options) (*course.Update, string, error) {
	u := course.NewUpdate(key, requestIP)
	if err := t.Records.CreateUpdate(ctx, u); err != nil {
		return nil, "", err
	}
	id, err := t.Queue.Enqueue(key, opts)
	if err != nil {
		return u, "", err
	}
	return u, id, nil
}
