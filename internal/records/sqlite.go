// Package records persists courses and updates in SQLite.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/coursebuilder/internal/course"
	ferrors "git.home.luguber.info/inful/coursebuilder/internal/foundation/errors"
)

// SQLiteStore implements course.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ course.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and migrates) the record database.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS courses (
		key TEXT PRIMARY KEY,
		remote_id INTEGER,
		git_origin TEXT NOT NULL DEFAULT '',
		git_branch TEXT NOT NULL DEFAULT '',
		update_hook TEXT NOT NULL DEFAULT '',
		email_on_error INTEGER NOT NULL DEFAULT 1,
		update_automatically INTEGER NOT NULL DEFAULT 1,
		skip_build_failsafes INTEGER NOT NULL DEFAULT 0,
		webhook_secret TEXT
	);
	CREATE TABLE IF NOT EXISTS updates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		course_key TEXT NOT NULL REFERENCES courses(key) ON DELETE CASCADE,
		request_ip TEXT NOT NULL DEFAULT '',
		request_time INTEGER NOT NULL,
		updated_time INTEGER,
		status TEXT NOT NULL,
		log TEXT NOT NULL DEFAULT '',
		commit_hash TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_updates_course_time ON updates(course_key, request_time);
	CREATE INDEX IF NOT EXISTS idx_updates_status ON updates(course_key, status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func notFound(kind, key string) error {
	return ferrors.WrapError(course.ErrNotFound, ferrors.CategoryNotFound, kind+" not found").
		WithContext(kind, key).
		Build()
}

func storeError(err error, op string) error {
	return ferrors.WrapError(err, ferrors.CategoryStore, op).Build()
}

const courseColumns = "key, remote_id, git_origin, git_branch, update_hook, email_on_error, update_automatically, skip_build_failsafes, webhook_secret"

func (s *SQLiteStore) GetCourse(ctx context.Context, key string) (*course.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+courseColumns+" FROM courses WHERE key = ?", key)
	c, err := scanCourse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("course", key)
	}
	if err != nil {
		return nil, storeError(err, "get course")
	}
	return c, nil
}

func (s *SQLiteStore) ListCourses(ctx context.Context) ([]*course.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+courseColumns+" FROM courses ORDER BY key")
	if err != nil {
		return nil, storeError(err, "query courses")
	}
	defer rows.Close()

	var out []*course.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, storeError(err, "scan course")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, "iterate courses")
	}
	return out, nil
}

func (s *SQLiteStore) CreateCourse(ctx context.Context, c *course.Course) error {
	if err := course.ValidateKey(c.Key); err != nil {
		return ferrors.ValidationError(err.Error()).Build()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO courses ("+courseColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		courseArgs(c)...,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ferrors.WrapError(course.ErrAlreadyExists, ferrors.CategoryAlreadyExists, "course already exists").
				WithContext("course", c.Key).
				Build()
		}
		return storeError(err, "insert course")
	}
	return nil
}

func (s *SQLiteStore) SaveCourse(ctx context.Context, c *course.Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := courseArgs(c)
	res, err := s.db.ExecContext(ctx, `UPDATE courses SET remote_id = ?, git_origin = ?, git_branch = ?, update_hook = ?,
		email_on_error = ?, update_automatically = ?, skip_build_failsafes = ?, webhook_secret = ? WHERE key = ?`,
		append(args[1:], args[0])...,
	)
	if err != nil {
		return storeError(err, "update course")
	}
	return requireAffected(res, "course", c.Key)
}

func (s *SQLiteStore) DeleteCourse(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM courses WHERE key = ?", key)
	if err != nil {
		return storeError(err, "delete course")
	}
	return requireAffected(res, "course", key)
}

const updateColumns = "id, course_key, request_ip, request_time, updated_time, status, log, commit_hash"

func (s *SQLiteStore) CreateUpdate(ctx context.Context, u *course.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.RequestTime.IsZero() {
		u.RequestTime = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO updates (course_key, request_ip, request_time, updated_time, status, log, commit_hash) VALUES (?, ?, ?, ?, ?, ?, ?)",
		u.CourseKey, u.RequestIP, u.RequestTime.UnixNano(), nullTime(u.UpdatedTime), string(u.Status), u.Log, nullString(u.CommitHash),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return notFound("course", u.CourseKey)
		}
		return storeError(err, "insert update")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storeError(err, "read update id")
	}
	u.ID = id
	return nil
}

func (s *SQLiteStore) SaveUpdate(ctx context.Context, u *course.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE updates SET request_ip = ?, updated_time = ?, status = ?, log = ?, commit_hash = ? WHERE id = ?",
		u.RequestIP, nullTime(u.UpdatedTime), string(u.Status), u.Log, nullString(u.CommitHash), u.ID,
	)
	if err != nil {
		return storeError(err, "update update")
	}
	return requireAffected(res, "update", fmt.Sprint(u.ID))
}

func (s *SQLiteStore) DeleteUpdate(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM updates WHERE id = ?", id)
	if err != nil {
		return storeError(err, "delete update")
	}
	return requireAffected(res, "update", fmt.Sprint(id))
}

func (s *SQLiteStore) ListUpdates(ctx context.Context, courseKey string, q course.UpdateQuery) ([]*course.Update, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + updateColumns + " FROM updates WHERE course_key = ?"
	args := []any{courseKey}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, string(q.Status))
	}
	if q.Order == course.Descending {
		query += " ORDER BY request_time DESC, id DESC"
	} else {
		query += " ORDER BY request_time ASC, id ASC"
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError(err, "query updates")
	}
	defer rows.Close()

	var out []*course.Update
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, storeError(err, "scan update")
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, "iterate updates")
	}
	return out, nil
}

func (s *SQLiteStore) LatestSuccessful(ctx context.Context, courseKey string) (*course.Update, error) {
	return s.first(ctx, courseKey, course.UpdateQuery{Status: course.StatusSuccess, Order: course.Descending, Limit: 1})
}

func (s *SQLiteStore) LatestUpdate(ctx context.Context, courseKey string) (*course.Update, error) {
	return s.first(ctx, courseKey, course.UpdateQuery{Order: course.Descending, Limit: 1})
}

func (s *SQLiteStore) first(ctx context.Context, courseKey string, q course.UpdateQuery) (*course.Update, error) {
	list, err := s.ListUpdates(ctx, courseKey, q)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, notFound("update", courseKey)
	}
	return list[0], nil
}

func (s *SQLiteStore) PruneUpdates(ctx context.Context, courseKey string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM updates WHERE course_key = ? AND id NOT IN (
		SELECT id FROM updates WHERE course_key = ? ORDER BY request_time DESC, id DESC LIMIT ?)`,
		courseKey, courseKey, keep,
	)
	if err != nil {
		return 0, storeError(err, "prune updates")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeError(err, "prune updates")
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCourse(row scanner) (*course.Course, error) {
	var (
		c        course.Course
		remoteID sql.NullInt64
		secret   sql.NullString
	)
	if err := row.Scan(&c.Key, &remoteID, &c.GitOrigin, &c.GitBranch, &c.UpdateHook,
		&c.EmailOnError, &c.UpdateAutomatically, &c.SkipBuildFailsafes, &secret); err != nil {
		return nil, err
	}
	if remoteID.Valid {
		id := int(remoteID.Int64)
		c.RemoteID = &id
	}
	if secret.Valid {
		c.WebhookSecret = &secret.String
	}
	return &c, nil
}

func courseArgs(c *course.Course) []any {
	var remoteID sql.NullInt64
	if c.RemoteID != nil {
		remoteID = sql.NullInt64{Int64: int64(*c.RemoteID), Valid: true}
	}
	return []any{c.Key, remoteID, c.GitOrigin, c.GitBranch, c.UpdateHook,
		c.EmailOnError, c.UpdateAutomatically, c.SkipBuildFailsafes, nullString(c.WebhookSecret)}
}

func scanUpdate(row scanner) (*course.Update, error) {
	var (
		u           course.Update
		requestTime int64
		updatedTime sql.NullInt64
		status      string
		commit      sql.NullString
	)
	if err := row.Scan(&u.ID, &u.CourseKey, &u.RequestIP, &requestTime, &updatedTime, &status, &u.Log, &commit); err != nil {
		return nil, err
	}
	u.RequestTime = time.Unix(0, requestTime).UTC()
	if updatedTime.Valid {
		t := time.Unix(0, updatedTime.Int64).UTC()
		u.UpdatedTime = &t
	}
	u.Status = course.Status(status)
	if commit.Valid {
		u.CommitHash = &commit.String
	}
	return &u, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func requireAffected(res sql.Result, kind, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeError(err, "rows affected")
	}
	if n == 0 {
		return notFound(kind, key)
	}
	return nil
}
