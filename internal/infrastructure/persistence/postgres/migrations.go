package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE ASSIGNMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create assignments table
-- Version: 001

CREATE TABLE IF NOT EXISTS assignments (
    experiment_name VARCHAR(120) NOT NULL,
    subject_id VARCHAR(120) NOT NULL,
    variant_name VARCHAR(120) NOT NULL,
    source VARCHAR(20) NOT NULL DEFAULT 'random',
    assigned_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (experiment_name, subject_id),

    CONSTRAINT valid_source CHECK (source IN ('random', 'forced', 'external'))
);

CREATE INDEX IF NOT EXISTS idx_assignments_experiment ON assignments(experiment_name);
CREATE INDEX IF NOT EXISTS idx_assignments_variant ON assignments(experiment_name, variant_name);
`

const migration001Down = `
DROP TABLE IF EXISTS assignments;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE EXPERIMENT EVENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create experiment events log
-- Version: 002
-- The log is append-only: rows are never updated or deleted by the application.

CREATE TABLE IF NOT EXISTS experiment_events (
    seq BIGSERIAL PRIMARY KEY,
    id UUID NOT NULL UNIQUE,
    kind VARCHAR(20) NOT NULL,
    experiment_name VARCHAR(120) NOT NULL,
    variant_name VARCHAR(120) NOT NULL,
    subject_id VARCHAR(120) NOT NULL,
    source VARCHAR(20),
    conversion_type VARCHAR(120),
    value DOUBLE PRECISION,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_kind CHECK (kind IN ('assignment', 'conversion'))
);

CREATE INDEX IF NOT EXISTS idx_events_experiment ON experiment_events(experiment_name, seq);
CREATE INDEX IF NOT EXISTS idx_events_experiment_kind ON experiment_events(experiment_name, kind);
CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON experiment_events(occurred_at);
`

const migration002Down = `
DROP TABLE IF EXISTS experiment_events;
`

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_assignments",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_experiment_events",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}
