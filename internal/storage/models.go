package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ProfileRecord is the persisted form of a user profile. Data holds the
// profile document as JSON; the storage layer does not interpret it.
type ProfileRecord struct {
	UserID    string
	Data      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PlanRecord struct {
	ID        string
	UserID    string
	PlanJSON  string
	Active    bool
	CreatedAt time.Time
}

type ProgressLog struct {
	ID        string
	UserID    string
	LogType   string // "workout", "measurement", "goal"
	LogData   string // JSON object stored as text
	CreatedAt time.Time
}

type Laurel struct {
	ID          string
	UserID      string
	LaurelType  string // "workout_logged", "pr", "progressive_overload", "goal_achieved", ...
	Points      int
	Description string
	SourceID    string // progress log that earned it, empty for manual awards
	CreatedAt   time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// JobAwardLaurel is the job type enqueued for every appended progress log.
const JobAwardLaurel = "award_laurel"
