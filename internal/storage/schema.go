package storage

const schema = `
-- The 'sessions' table stores review session aggregates. Items are
-- serialized as JSON; the hot columns are broken out for querying.
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    status TEXT NOT NULL,
    current_index INTEGER NOT NULL DEFAULT 0,
    items TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    paused_at DATETIME,
    ended_at DATETIME,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_status ON sessions(user_id, status);

-- Per-session statistics, keyed by session.
CREATE TABLE IF NOT EXISTS statistics (
    session_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    total_items INTEGER NOT NULL,
    completed_items INTEGER NOT NULL,
    correct_items INTEGER NOT NULL,
    incorrect_items INTEGER NOT NULL,
    skipped_items INTEGER NOT NULL,
    accuracy REAL NOT NULL,
    avg_response_ms REAL NOT NULL,
    current_streak INTEGER NOT NULL,
    best_streak INTEGER NOT NULL,
    per_difficulty TEXT,
    updated_at DATETIME NOT NULL
);

-- Scheduling state per (user, item) pair.
CREATE TABLE IF NOT EXISTS srs_data (
    user_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    interval INTEGER NOT NULL DEFAULT 0,
    ease_factor REAL NOT NULL,
    repetitions INTEGER NOT NULL DEFAULT 0,
    last_reviewed_at DATETIME,
    next_review_at DATETIME NOT NULL,
    avg_response_ms REAL NOT NULL DEFAULT 0,
    recent_results TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL,

    PRIMARY KEY (user_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_srs_due ON srs_data(user_id, next_review_at);

-- Append-only per-answer history log.
CREATE TABLE IF NOT EXISTS reviews (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    correct INTEGER NOT NULL,
    quality REAL NOT NULL,
    interval INTEGER NOT NULL,
    ease_factor REAL NOT NULL,
    reviewed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reviews_user ON reviews(user_id, reviewed_at);

-- Pending remote mutations. IDs are ULIDs, so ordering by id is
-- insertion order.
CREATE TABLE IF NOT EXISTS sync_queue (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    action TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    payload TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    next_retry_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

-- Mutations that exhausted their retries live in a separate namespace
-- so the main queue stays clean.
CREATE TABLE IF NOT EXISTS sync_dead_letters (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    action TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    payload TEXT NOT NULL,
    attempts INTEGER NOT NULL,
    last_error TEXT NOT NULL DEFAULT '',
    next_retry_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    dead_lettered_at DATETIME NOT NULL
);
`
