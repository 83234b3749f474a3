package course

import (
	"fmt"
	"time"
)

// Update is one sync, build and promote attempt for a course.
type Update struct {
	ID          int64      `json:"id"`
	CourseKey   string     `json:"course"`
	RequestIP   string     `json:"request_ip"`
	RequestTime time.Time  `json:"request_time"`
	UpdatedTime *time.Time `json:"updated_time,omitempty"`
	Status      Status     `json:"status"`
	Log         string     `json:"log"`
	CommitHash  *string    `json:"commit_hash,omitempty"`
}

// NewUpdate returns a PENDING update requested now.
func NewUpdate(courseKey, requestIP string) *Update {
	return &Update{
		CourseKey:   courseKey,
		RequestIP:   requestIP,
		RequestTime: time.Now().UTC(),
		Status:      StatusPending,
	}
}

// Transition moves the update to next if the edge is allowed.
func (u *Update) Transition(next Status) error {
	if !u.Status.CanTransition(next) {
		return fmt.Errorf("update %d: invalid transition %s -> %s", u.ID, u.Status, next)
	}
	u.Status = next
	return nil
}

// Finish forces a terminal status and stamps the completion time.
// RUNNING and PENDING updates that never reached SUCCESS become FAILED.
func (u *Update) Finish(now time.Time) {
	if u.Status != StatusSuccess && u.Status != StatusSkipped {
		u.Status = StatusFailed
	}
	t := now.UTC()
	u.UpdatedTime = &t
}
