package sqlite

// schema defines the group store tables.
//
// orphans.signature is UNIQUE so insert-if-absent is a real conditional
// write at the storage layer. orphan_conversations has a composite
// primary key so duplicate membership is impossible at the schema level,
// with position preserving first-seen order. work_item_pending marks
// that some caller holds the right to create the work item; the
// graduation claim takes it, SetWorkItem clears it, and a failed sink
// call releases it so exactly one retry re-attempts creation.
const schema = `
CREATE TABLE IF NOT EXISTS orphans (
	id TEXT PRIMARY KEY,
	signature TEXT NOT NULL UNIQUE,
	theme_bundle TEXT NOT NULL DEFAULT '{}',
	first_seen_at TIMESTAMP NOT NULL,
	last_updated_at TIMESTAMP NOT NULL,
	graduated_at TIMESTAMP,
	work_item_id TEXT,
	work_item_pending INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS orphan_conversations (
	orphan_id TEXT NOT NULL REFERENCES orphans(id),
	conversation_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	added_at TIMESTAMP NOT NULL,
	PRIMARY KEY (orphan_id, conversation_id)
);

CREATE INDEX IF NOT EXISTS idx_orphan_conversations_order
	ON orphan_conversations(orphan_id, position);

CREATE TABLE IF NOT EXISTS signature_equivalences (
	from_signature TEXT PRIMARY KEY,
	to_signature TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS group_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	orphan_id TEXT NOT NULL,
	signature TEXT NOT NULL,
	event_type TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	detail TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_group_events_orphan
	ON group_events(orphan_id, created_at);
`
