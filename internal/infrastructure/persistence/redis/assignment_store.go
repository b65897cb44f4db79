package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/exphub/experiment-hub/internal/domain/assignment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
)

// AssignmentStore implements assignment.Store on Redis.
//
// Atomicity of GetOrCreate comes from SET NX: when two resolutions race for
// the same key, exactly one SET NX succeeds and the loser reads the winner's
// value. Keys carry no TTL; assignments persist until reset.
//
// Per-experiment subject sets (assign:index:<experiment>) track which
// subjects hold an assignment so a full-experiment reset can delete the keys
// without a cluster-hostile SCAN.
type AssignmentStore struct {
	client *Client
}

// NewAssignmentStore creates a Redis-backed assignment store.
func NewAssignmentStore(client *Client) *AssignmentStore {
	return &AssignmentStore{client: client}
}

func assignmentKey(experimentName, subjectID string) string {
	return fmt.Sprintf("%s%s:%s", PrefixAssignment, experimentName, subjectID)
}

func assignmentIndexKey(experimentName string) string {
	return fmt.Sprintf("%sindex:%s", PrefixAssignment, experimentName)
}

// GetOrCreate implements assignment.Store.
func (s *AssignmentStore) GetOrCreate(ctx context.Context, candidate assignment.Assignment) (assignment.Assignment, bool, error) {
	data, err := json.Marshal(candidate)
	if err != nil {
		return assignment.Assignment{}, false, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	key := assignmentKey(candidate.ExperimentName, candidate.SubjectID)

	ok, err := s.client.rdb.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return assignment.Assignment{}, false, shared.WrapError("assignment", "GetOrCreate", shared.ErrPersistenceUnavailable, "setnx failed", err)
	}

	if ok {
		if err := s.client.rdb.SAdd(ctx, assignmentIndexKey(candidate.ExperimentName), candidate.SubjectID).Err(); err != nil {
			return assignment.Assignment{}, false, shared.WrapError("assignment", "GetOrCreate", shared.ErrPersistenceUnavailable, "index update failed", err)
		}
		return candidate, true, nil
	}

	stored, err := s.Get(ctx, candidate.ExperimentName, candidate.SubjectID)
	if err != nil {
		if shared.IsNotFound(err) {
			// Lost the SetNX race and the winner was reset before the
			// re-read. Treat as unavailable; the caller degrades gracefully.
			return assignment.Assignment{}, false, shared.WrapError("assignment", "GetOrCreate", shared.ErrPersistenceUnavailable, "assignment vanished during re-read", err)
		}
		return assignment.Assignment{}, false, err
	}
	return stored, false, nil
}

// Get implements assignment.Store.
func (s *AssignmentStore) Get(ctx context.Context, experimentName, subjectID string) (assignment.Assignment, error) {
	data, err := s.client.rdb.Get(ctx, assignmentKey(experimentName, subjectID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return assignment.Assignment{}, shared.ErrAssignmentNotFound
		}
		return assignment.Assignment{}, shared.WrapError("assignment", "Get", shared.ErrPersistenceUnavailable, "get failed", err)
	}

	var a assignment.Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return assignment.Assignment{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return a, nil
}

// Force implements assignment.Store. Plain SET, last writer wins.
func (s *AssignmentStore) Force(ctx context.Context, candidate assignment.Assignment) error {
	data, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	pipe := s.client.rdb.TxPipeline()
	pipe.Set(ctx, assignmentKey(candidate.ExperimentName, candidate.SubjectID), data, 0)
	pipe.SAdd(ctx, assignmentIndexKey(candidate.ExperimentName), candidate.SubjectID)
	if _, err := pipe.Exec(ctx); err != nil {
		return shared.WrapError("assignment", "Force", shared.ErrPersistenceUnavailable, "set failed", err)
	}
	return nil
}

// Reset implements assignment.Store.
func (s *AssignmentStore) Reset(ctx context.Context, experimentName, subjectID string) error {
	if subjectID != "" {
		pipe := s.client.rdb.TxPipeline()
		pipe.Del(ctx, assignmentKey(experimentName, subjectID))
		pipe.SRem(ctx, assignmentIndexKey(experimentName), subjectID)
		if _, err := pipe.Exec(ctx); err != nil {
			return shared.WrapError("assignment", "Reset", shared.ErrPersistenceUnavailable, "delete failed", err)
		}
		return nil
	}

	subjects, err := s.client.rdb.SMembers(ctx, assignmentIndexKey(experimentName)).Result()
	if err != nil {
		return shared.WrapError("assignment", "Reset", shared.ErrPersistenceUnavailable, "index read failed", err)
	}

	keys := make([]string, 0, len(subjects)+1)
	for _, subject := range subjects {
		keys = append(keys, assignmentKey(experimentName, subject))
	}
	keys = append(keys, assignmentIndexKey(experimentName))

	if err := s.client.rdb.Del(ctx, keys...).Err(); err != nil {
		return shared.WrapError("assignment", "Reset", shared.ErrPersistenceUnavailable, "delete failed", err)
	}
	return nil
}
