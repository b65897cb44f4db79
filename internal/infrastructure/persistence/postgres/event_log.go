package postgres

import (
	"context"
	"database/sql"

	"github.com/exphub/experiment-hub/internal/domain/analytics"
	"github.com/exphub/experiment-hub/internal/domain/assignment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
)

// EventLogRepository implements analytics.EventLog using PostgreSQL.
// Rows are append-only; the application never updates or deletes them.
type EventLogRepository struct {
	conn *Connection
}

// NewEventLogRepository creates a new EventLogRepository.
func NewEventLogRepository(conn *Connection) *EventLogRepository {
	return &EventLogRepository{conn: conn}
}

// Append implements analytics.EventLog. The unique id column makes retried
// appends idempotent: a duplicate insert is treated as already appended.
func (r *EventLogRepository) Append(ctx context.Context, event analytics.Event) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO experiment_events
			(id, kind, experiment_name, variant_name, subject_id, source, conversion_type, value, occurred_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, string(event.Kind), event.ExperimentName, event.VariantName, event.SubjectID,
		string(event.Source), event.ConversionType, event.Value, event.Timestamp)
	if err != nil {
		return shared.WrapError("analytics", "Append", shared.ErrPersistenceUnavailable, "insert failed", err)
	}
	return nil
}

// ListByExperiment implements analytics.EventLog. Events are returned in
// append order (seq), not occurrence order.
func (r *EventLogRepository) ListByExperiment(ctx context.Context, experimentName string) ([]analytics.Event, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, kind, experiment_name, variant_name, subject_id, source, conversion_type, value, occurred_at
		FROM experiment_events
		WHERE experiment_name = $1
		ORDER BY seq
	`, experimentName)
	if err != nil {
		return nil, shared.WrapError("analytics", "ListByExperiment", shared.ErrPersistenceUnavailable, "query failed", err)
	}
	defer rows.Close()

	var events []analytics.Event
	for rows.Next() {
		var ev analytics.Event
		var kind string
		var source, conversionType sql.NullString
		var value sql.NullFloat64

		if err := rows.Scan(&ev.ID, &kind, &ev.ExperimentName, &ev.VariantName, &ev.SubjectID,
			&source, &conversionType, &value, &ev.Timestamp); err != nil {
			return nil, shared.WrapError("analytics", "ListByExperiment", shared.ErrPersistenceUnavailable, "scan failed", err)
		}

		ev.Kind = analytics.EventKind(kind)
		if source.Valid {
			ev.Source = assignment.Source(source.String)
		}
		if conversionType.Valid {
			ev.ConversionType = conversionType.String
		}
		if value.Valid {
			v := value.Float64
			ev.Value = &v
		}

		events = append(events, ev)
	}
	return events, rows.Err()
}
