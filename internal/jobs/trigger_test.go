package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/coursebuilder/internal/course"
	"git.home.luguber.info/inful/coursebuilder/internal/pipeline"
	"git.home.luguber.info/inful/coursebuilder/internal/records"
)

type recordingEnqueuer struct {
	keys []string
	opts []pipeline.Options
	err  error
}

func (e *recordingEnqueuer) Enqueue(key string, opts pipeline.Options) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	e.keys = append(e.keys, key)
	e.opts = append(e.opts, opts)
	return "job-1", nil
}

func TestTriggerCreatesPendingUpdate(t *testing.T) {
	ctx := context.Background()
	store, err := records.NewSQLiteStore(filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	c, err := course.New("c1")
	require.NoError(t, err)
	require.NoError(t, store.CreateCourse(ctx, c))

	q := &recordingEnqueuer{}
	tr := &Trigger{Records: store, Queue: q}
	u, id, err := tr.Request(ctx, "c1", "10.0.0.1", pipeline.Options{SkipNotify: true})
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	assert.Equal(t, course.StatusPending, u.Status)
	assert.Equal(t, []string{"c1"}, q.keys)
	assert.True(t, q.opts[0].SkipNotify)

	pending, err := store.ListUpdates(ctx, "c1", course.UpdateQuery{Status: course.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "10.0.0.1", pending[0].RequestIP)

	q.err = errors.New("full")
	u, _, err = tr.Request(ctx, "c1", "", pipeline.Options{})
	require.Error(t, err)
	assert.NotNil(t, u)

	_, _, err = tr.Request(ctx, "missing", "", pipeline.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, course.ErrNotFound)
}
