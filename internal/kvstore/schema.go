package kvstore

// schemaVersion is the current version this binary knows how to migrate to.
// Bump it and append a migration (migrations.go) whenever the object
// stores change shape.
const schemaVersion = 1

// schema is the full set of object stores and their indices, expressed as
// idempotent DDL. Migration 001 runs it once per store file; CREATE
// TABLE/INDEX IF NOT EXISTS keeps it safe against a file that already has
// some of these tables. Later migrations in migrations.go handle changes
// that IF NOT EXISTS cannot express (column additions, data backfills).
const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS articles (
	id                    TEXT PRIMARY KEY,
	title                 TEXT NOT NULL DEFAULT '',
	updated_at            TEXT NOT NULL DEFAULT '',
	parent_id             TEXT,
	position              INTEGER NOT NULL DEFAULT 0,
	public_slug           TEXT,
	encrypted             INTEGER NOT NULL DEFAULT 0,
	deleted_at            TEXT,
	outline_structure_rev INTEGER NOT NULL DEFAULT 0,
	doc_json              TEXT,
	local_draft           INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_articles_updated_at ON articles (updated_at);
CREATE INDEX IF NOT EXISTS idx_articles_deleted_at ON articles (deleted_at);

CREATE TABLE IF NOT EXISTS outline_sections (
	section_id TEXT PRIMARY KEY,
	article_id TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_outline_sections_article_id ON outline_sections (article_id);
CREATE INDEX IF NOT EXISTS idx_outline_sections_updated_at ON outline_sections (updated_at);

CREATE TABLE IF NOT EXISTS section_embeddings (
	section_id TEXT PRIMARY KEY,
	article_id TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT '',
	vec        BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_section_embeddings_article_id ON section_embeddings (article_id);
CREATE INDEX IF NOT EXISTS idx_section_embeddings_updated_at ON section_embeddings (updated_at);

CREATE TABLE IF NOT EXISTS media_assets (
	url        TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'needed',
	fetched_at INTEGER,
	fail_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_media_assets_status ON media_assets (status);
CREATE INDEX IF NOT EXISTS idx_media_assets_fetched_at ON media_assets (fetched_at);
CREATE INDEX IF NOT EXISTS idx_media_assets_status_fetched_at ON media_assets (status, fetched_at);

CREATE TABLE IF NOT EXISTS media_refs (
	key        TEXT PRIMARY KEY,
	article_id TEXT NOT NULL,
	url        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_media_refs_article_id ON media_refs (article_id);
CREATE INDEX IF NOT EXISTS idx_media_refs_url ON media_refs (url);

CREATE TABLE IF NOT EXISTS outbox (
	id              TEXT PRIMARY KEY,
	created_at_ms   INTEGER NOT NULL,
	type            TEXT NOT NULL,
	article_id      TEXT NOT NULL,
	payload         BLOB,
	coalesce_key    TEXT,
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	last_attempt_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_outbox_created_at_ms ON outbox (created_at_ms);
CREATE INDEX IF NOT EXISTS idx_outbox_type_article_id ON outbox (type, article_id);
CREATE INDEX IF NOT EXISTS idx_outbox_type_coalesce_key ON outbox (type, coalesce_key);

CREATE TABLE IF NOT EXISTS pending_uploads (
	token         TEXT PRIMARY KEY,
	article_id    TEXT NOT NULL,
	kind          TEXT NOT NULL DEFAULT '',
	blob          BLOB,
	mime          TEXT NOT NULL DEFAULT '',
	file_name     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT NOT NULL DEFAULT '',
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_uploads_article_id ON pending_uploads (article_id);
CREATE INDEX IF NOT EXISTS idx_pending_uploads_created_at_ms ON pending_uploads (created_at_ms);

CREATE TABLE IF NOT EXISTS tags_global (
	key             TEXT PRIMARY KEY,
	label           TEXT NOT NULL DEFAULT '',
	count           INTEGER NOT NULL DEFAULT 0,
	last_seen_at_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tags_global_count ON tags_global (count);
CREATE INDEX IF NOT EXISTS idx_tags_global_last_seen_at_ms ON tags_global (last_seen_at_ms);

CREATE TABLE IF NOT EXISTS tags_by_article (
	article_id TEXT PRIMARY KEY,
	tags       TEXT NOT NULL DEFAULT '[]',
	updated_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tags_by_article_updated_at ON tags_by_article (updated_at);

CREATE TABLE IF NOT EXISTS section_seq (
	article_id TEXT NOT NULL,
	section_id TEXT NOT NULL,
	seq        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (article_id, section_id)
);

CREATE TABLE IF NOT EXISTS outline_queue (
	article_id   TEXT PRIMARY KEY,
	doc_json     TEXT,
	queued_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS media_blobs (
	url        TEXT PRIMARY KEY,
	blob       BLOB NOT NULL,
	fetched_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quick_notes_pending (
	section_id    TEXT PRIMARY KEY,
	heading_json  BLOB,
	body_json     BLOB,
	created_at_ms INTEGER NOT NULL
);
`
