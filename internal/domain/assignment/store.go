package assignment

import (
	"context"
)

// Store is the persistence port for sticky assignments.
//
// GetOrCreate must be atomic with respect to concurrent callers for the same
// (experiment, subject) key: the first writer's candidate wins, and every
// concurrent caller observes the stored value. Implementations realize this
// with an in-process lock (memory), SetNX (Redis), or an insert-if-absent
// statement (PostgreSQL).
type Store interface {
	// GetOrCreate stores candidate if no assignment exists for its key and
	// returns the stored assignment either way. created reports whether the
	// candidate was the one persisted.
	GetOrCreate(ctx context.Context, candidate Assignment) (stored Assignment, created bool, err error)

	// Get returns the assignment for (experimentName, subjectID), or
	// shared.ErrAssignmentNotFound.
	Get(ctx context.Context, experimentName, subjectID string) (Assignment, error)

	// Force overwrites any existing assignment for the candidate's key.
	// Last writer wins.
	Force(ctx context.Context, candidate Assignment) error

	// Reset removes assignments for the experiment. With a non-empty
	// subjectID only that subject's assignment is removed; with an empty
	// subjectID all assignments for the experiment are removed.
	// Historical events are untouched.
	Reset(ctx context.Context, experimentName, subjectID string) error
}
