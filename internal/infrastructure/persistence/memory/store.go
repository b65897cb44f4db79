// Package memory provides in-process implementations of the persistence
// ports. Suitable for single-instance deployments and testing.
package memory

import (
	"context"
	"sync"

	"github.com/exphub/experiment-hub/internal/domain/assignment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
)

// AssignmentStore keeps assignments in a map guarded by a mutex. The mutex
// makes GetOrCreate atomic: concurrent first resolutions for the same key all
// observe the single stored assignment.
type AssignmentStore struct {
	mu sync.Mutex

	// keyed by experiment name, then subject ID
	byExperiment map[string]map[string]assignment.Assignment
}

// NewAssignmentStore creates an empty in-memory store.
func NewAssignmentStore() *AssignmentStore {
	return &AssignmentStore{
		byExperiment: make(map[string]map[string]assignment.Assignment),
	}
}

// GetOrCreate implements assignment.Store.
func (s *AssignmentStore) GetOrCreate(ctx context.Context, candidate assignment.Assignment) (assignment.Assignment, bool, error) {
	if err := ctx.Err(); err != nil {
		return assignment.Assignment{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subjects, ok := s.byExperiment[candidate.ExperimentName]
	if !ok {
		subjects = make(map[string]assignment.Assignment)
		s.byExperiment[candidate.ExperimentName] = subjects
	}

	if existing, ok := subjects[candidate.SubjectID]; ok {
		return existing, false, nil
	}

	subjects[candidate.SubjectID] = candidate
	return candidate, true, nil
}

// Get implements assignment.Store.
func (s *AssignmentStore) Get(ctx context.Context, experimentName, subjectID string) (assignment.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return assignment.Assignment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if subjects, ok := s.byExperiment[experimentName]; ok {
		if a, ok := subjects[subjectID]; ok {
			return a, nil
		}
	}
	return assignment.Assignment{}, shared.ErrAssignmentNotFound
}

// Force implements assignment.Store.
func (s *AssignmentStore) Force(ctx context.Context, candidate assignment.Assignment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subjects, ok := s.byExperiment[candidate.ExperimentName]
	if !ok {
		subjects = make(map[string]assignment.Assignment)
		s.byExperiment[candidate.ExperimentName] = subjects
	}
	subjects[candidate.SubjectID] = candidate
	return nil
}

// Reset implements assignment.Store.
func (s *AssignmentStore) Reset(ctx context.Context, experimentName, subjectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if subjectID == "" {
		delete(s.byExperiment, experimentName)
		return nil
	}
	if subjects, ok := s.byExperiment[experimentName]; ok {
		delete(subjects, subjectID)
	}
	return nil
}

// Len returns the number of stored assignments for an experiment.
func (s *AssignmentStore) Len(experimentName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byExperiment[experimentName])
}
