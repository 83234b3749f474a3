package course

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is wrapped by Store implementations when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is wrapped when creating a course whose key is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// Order is the request-time ordering of an update listing.
type Order int

const (
	Ascending Order = iota
	Descending
)

// UpdateQuery filters ListUpdates. An empty Status matches all statuses.
type UpdateQuery struct {
	Status Status
	Order  Order
	Limit  int
}

// Store is the persistent record store. Every write is durable when the call returns.
type Store interface {
	GetCourse(ctx context.Context, key string) (*Course, error)
	ListCourses(ctx context.Context) ([]*Course, error)
	CreateCourse(ctx context.Context, c *Course) error
	SaveCourse(ctx context.Context, c *Course) error
	DeleteCourse(ctx context.Context, key string) error

	CreateUpdate(ctx context.Context, u *Update) error
	SaveUpdate(ctx context.Context, u *Update) error
	DeleteUpdate(ctx context.Context, id int64) error
	ListUpdates(ctx context.Context, courseKey string, q UpdateQuery) ([]*Update, error)
	// LatestSuccessful returns the most recent SUCCESS update, or ErrNotFound.
	LatestSuccessful(ctx context.Context, courseKey string) (*Update, error)
	// LatestUpdate returns the most recently requested update, or ErrNotFound.
	LatestUpdate(ctx context.Context, courseKey string) (*Update, error)
	// PruneUpdates deletes all but the keep most recent updates and returns how many were removed.
	PruneUpdates(ctx context.Context, courseKey string, keep int) (int, error)
}
