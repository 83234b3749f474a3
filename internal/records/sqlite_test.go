package records

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/coursebuilder/internal/course"
	ferrors "git.home.luguber.info/inful/coursebuilder/internal/foundation/errors"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedCourse(t *testing.T, s *SQLiteStore, key string) *course.Course {
	t.Helper()
	c, err := course.New(key)
	require.NoError(t, err)
	require.NoError(t, s.CreateCourse(context.Background(), c))
	return c
}

func TestCourseCRUD(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	c := seedCourse(t, s, "algorithms")

	got, err := s.GetCourse(ctx, "algorithms")
	require.NoError(t, err)
	assert.Equal(t, c, got)

	err = s.CreateCourse(ctx, c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, course.ErrAlreadyExists))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryAlreadyExists))

	id := 7
	got.RemoteID = &id
	got.GitOrigin = "https://git.example/algo.git"
	got.WebhookSecret = nil
	require.NoError(t, s.SaveCourse(ctx, got))

	again, err := s.GetCourse(ctx, "algorithms")
	require.NoError(t, err)
	require.NotNil(t, again.RemoteID)
	assert.Equal(t, 7, *again.RemoteID)
	assert.Nil(t, again.WebhookSecret, "legacy records keep a null secret")

	list, err := s.ListCourses(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteCourse(ctx, "algorithms"))
	_, err = s.GetCourse(ctx, "algorithms")
	assert.True(t, errors.Is(err, course.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteCourse(ctx, "algorithms"), course.ErrNotFound))
}

func TestUpdateQueries(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedCourse(t, s, "c1")
	seedCourse(t, s, "c2")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 4; i++ {
		u := course.NewUpdate("c1", "127.0.0.1")
		u.RequestTime = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateUpdate(ctx, u))
		ids = append(ids, u.ID)
	}
	other := course.NewUpdate("c2", "")
	require.NoError(t, s.CreateUpdate(ctx, other))

	pending, err := s.ListUpdates(ctx, "c1", course.UpdateQuery{Status: course.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 4)
	assert.Equal(t, ids[0], pending[0].ID)
	assert.Equal(t, ids[3], pending[3].ID)

	_, err = s.LatestSuccessful(ctx, "c1")
	assert.True(t, errors.Is(err, course.ErrNotFound))

	u := pending[1]
	require.NoError(t, u.Transition(course.StatusRunning))
	require.NoError(t, u.Transition(course.StatusSuccess))
	hash := "abc123"
	u.CommitHash = &hash
	u.Log = "built\n"
	u.Finish(base.Add(time.Hour))
	require.NoError(t, s.SaveUpdate(ctx, u))

	ok, err := s.LatestSuccessful(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, ok.ID)
	require.NotNil(t, ok.CommitHash)
	assert.Equal(t, "abc123", *ok.CommitHash)
	assert.Equal(t, "built\n", ok.Log)

	latest, err := s.LatestUpdate(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, ids[3], latest.ID)

	err = s.CreateUpdate(ctx, course.NewUpdate("missing", ""))
	assert.True(t, errors.Is(err, course.ErrNotFound))
}

func TestPruneUpdatesKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedCourse(t, s, "c1")

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 13; i++ {
		u := course.NewUpdate("c1", "")
		u.RequestTime = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateUpdate(ctx, u))
	}

	removed, err := s.PruneUpdates(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	left, err := s.ListUpdates(ctx, "c1", course.UpdateQuery{Order: course.Descending})
	require.NoError(t, err)
	require.Len(t, left, 10)
	assert.Equal(t, base.Add(12*time.Second), left[0].RequestTime)
	assert.Equal(t, base.Add(3*time.Second), left[9].RequestTime)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	seedCourse(t, s, "persisted")
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()
	_, err = s2.GetCourse(ctx, "persisted")
	require.NoError(t, err)
}
