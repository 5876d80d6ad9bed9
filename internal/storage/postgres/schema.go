package postgres

import "context"

// schemaDDL creates the tables and indexes enumerated in spec §6. It is
// applied once at startup with CREATE TABLE/INDEX IF NOT EXISTS, since
// this service owns its own schema rather than depending on an external
// migration tool.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS trace_roots (
	trace_id      UUID PRIMARY KEY,
	first_seen_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	event_id   UUID PRIMARY KEY,
	trace_id   UUID NOT NULL,
	parent_id  UUID,
	ts         TIMESTAMPTZ NOT NULL,
	variable   TEXT,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_trace_id ON events (trace_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (ts);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events (created_at);

CREATE TABLE IF NOT EXISTS distributed_spans (
	trace_id       UUID NOT NULL,
	span_id        UUID NOT NULL,
	service        TEXT NOT NULL,
	instance       TEXT NOT NULL,
	first_event_ts TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (trace_id, span_id)
);

CREATE TABLE IF NOT EXISTS distributed_edges (
	trace_id   UUID NOT NULL,
	from_span  UUID NOT NULL,
	to_span    UUID NOT NULL,
	edge_type  TEXT NOT NULL,
	metadata   JSONB,
	PRIMARY KEY (trace_id, from_span, to_span)
);
CREATE INDEX IF NOT EXISTS idx_distributed_edges_from_span ON distributed_edges (from_span);
CREATE INDEX IF NOT EXISTS idx_distributed_edges_to_span ON distributed_edges (to_span);

-- Reserved mirror of distributed_edges, materialized for out-of-process
-- graph inspection tooling; the engine itself derives Parent edges from
-- events.parent_id and Distributed edges from distributed_edges, so this
-- table is written but never read back through the Storage interface.
CREATE TABLE IF NOT EXISTS causal_edges (
	trace_id    UUID NOT NULL,
	from_event  UUID NOT NULL,
	to_event    UUID NOT NULL,
	edge_kind   TEXT NOT NULL,
	PRIMARY KEY (trace_id, from_event, to_event, edge_kind)
);

CREATE TABLE IF NOT EXISTS baseline_metrics (
	operation TEXT PRIMARY KEY,
	count     BIGINT NOT NULL,
	mean      DOUBLE PRECISION NOT NULL,
	m2        DOUBLE PRECISION NOT NULL,
	min_ns    BIGINT NOT NULL,
	max_ns    BIGINT NOT NULL,
	sum_ns    BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS cross_trace_index (
	variable    TEXT NOT NULL,
	event_id    UUID NOT NULL,
	trace_id    UUID NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	thread_id   TEXT NOT NULL,
	access_type TEXT NOT NULL,
	PRIMARY KEY (variable, event_id)
);
CREATE INDEX IF NOT EXISTS idx_cross_trace_index_variable ON cross_trace_index (variable);

CREATE TABLE IF NOT EXISTS anomalies (
	trace_id    UUID NOT NULL,
	event_id    UUID NOT NULL,
	operation   TEXT NOT NULL,
	z           DOUBLE PRECISION NOT NULL,
	expected_ms DOUBLE PRECISION NOT NULL,
	actual_ms   DOUBLE PRECISION NOT NULL,
	severity    TEXT NOT NULL,
	description TEXT NOT NULL,
	detected_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (trace_id, event_id)
);
`

// Migrate applies schemaDDL. It is idempotent and safe to call on every
// startup.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	return err
}
