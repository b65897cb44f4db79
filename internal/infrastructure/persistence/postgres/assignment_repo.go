package postgres

import (
	"context"

	"github.com/exphub/experiment-hub/internal/domain/assignment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
)

// AssignmentRepository implements assignment.Store using PostgreSQL.
//
// Atomicity of GetOrCreate comes from INSERT ... ON CONFLICT DO NOTHING on the
// (experiment_name, subject_id) primary key followed by a read: when two
// resolutions race, exactly one insert wins and both read the winner's row.
type AssignmentRepository struct {
	conn *Connection
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(conn *Connection) *AssignmentRepository {
	return &AssignmentRepository{conn: conn}
}

// GetOrCreate implements assignment.Store.
func (r *AssignmentRepository) GetOrCreate(ctx context.Context, candidate assignment.Assignment) (assignment.Assignment, bool, error) {
	tag, err := r.conn.Exec(ctx, `
		INSERT INTO assignments (experiment_name, subject_id, variant_name, source, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (experiment_name, subject_id) DO NOTHING
	`, candidate.ExperimentName, candidate.SubjectID, candidate.VariantName, string(candidate.Source), candidate.AssignedAt)
	if err != nil {
		return assignment.Assignment{}, false, shared.WrapError("assignment", "GetOrCreate", shared.ErrPersistenceUnavailable, "insert failed", err)
	}

	created := tag.RowsAffected() == 1
	if created {
		return candidate, true, nil
	}

	stored, err := r.Get(ctx, candidate.ExperimentName, candidate.SubjectID)
	if err != nil {
		// The losing insert saw a row that a concurrent Reset removed before
		// the re-read. Surface it as unavailable so the caller retries or
		// degrades; the window is a few microseconds wide.
		if shared.IsNotFound(err) {
			return assignment.Assignment{}, false, shared.WrapError("assignment", "GetOrCreate", shared.ErrPersistenceUnavailable, "assignment vanished during re-read", err)
		}
		return assignment.Assignment{}, false, err
	}
	return stored, false, nil
}

// Get implements assignment.Store.
func (r *AssignmentRepository) Get(ctx context.Context, experimentName, subjectID string) (assignment.Assignment, error) {
	var a assignment.Assignment
	var source string

	err := r.conn.QueryRow(ctx, `
		SELECT experiment_name, subject_id, variant_name, source, assigned_at
		FROM assignments
		WHERE experiment_name = $1 AND subject_id = $2
	`, experimentName, subjectID).Scan(&a.ExperimentName, &a.SubjectID, &a.VariantName, &source, &a.AssignedAt)
	if err != nil {
		if IsNoRows(err) {
			return assignment.Assignment{}, shared.ErrAssignmentNotFound
		}
		return assignment.Assignment{}, shared.WrapError("assignment", "Get", shared.ErrPersistenceUnavailable, "query failed", err)
	}

	a.Source = assignment.Source(source)
	return a, nil
}

// Force implements assignment.Store. Last writer wins via upsert.
func (r *AssignmentRepository) Force(ctx context.Context, candidate assignment.Assignment) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO assignments (experiment_name, subject_id, variant_name, source, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (experiment_name, subject_id) DO UPDATE
		SET variant_name = EXCLUDED.variant_name,
		    source = EXCLUDED.source,
		    assigned_at = EXCLUDED.assigned_at
	`, candidate.ExperimentName, candidate.SubjectID, candidate.VariantName, string(candidate.Source), candidate.AssignedAt)
	if err != nil {
		return shared.WrapError("assignment", "Force", shared.ErrPersistenceUnavailable, "upsert failed", err)
	}
	return nil
}

// Reset implements assignment.Store.
func (r *AssignmentRepository) Reset(ctx context.Context, experimentName, subjectID string) error {
	var err error
	if subjectID == "" {
		_, err = r.conn.Exec(ctx, `DELETE FROM assignments WHERE experiment_name = $1`, experimentName)
	} else {
		_, err = r.conn.Exec(ctx, `DELETE FROM assignments WHERE experiment_name = $1 AND subject_id = $2`, experimentName, subjectID)
	}
	if err != nil {
		return shared.WrapError("assignment", "Reset", shared.ErrPersistenceUnavailable, "delete failed", err)
	}
	return nil
}

// CountByVariant returns stored assignment counts per variant, used by the
// lapsed-window sweep job for reporting.
func (r *AssignmentRepository) CountByVariant(ctx context.Context, experimentName string) (map[string]int, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT variant_name, count(*)
		FROM assignments
		WHERE experiment_name = $1
		GROUP BY variant_name
	`, experimentName)
	if err != nil {
		return nil, shared.WrapError("assignment", "CountByVariant", shared.ErrPersistenceUnavailable, "query failed", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var variant string
		var n int
		if err := rows.Scan(&variant, &n); err != nil {
			return nil, shared.WrapError("assignment", "CountByVariant", shared.ErrPersistenceUnavailable, "scan failed", err)
		}
		counts[variant] = n
	}
	return counts, rows.Err()
}
