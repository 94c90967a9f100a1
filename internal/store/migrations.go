package store

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    source     TEXT NOT NULL,
    item_key   TEXT NOT NULL,
    title      TEXT NOT NULL,
    url        TEXT NOT NULL DEFAULT '',
    excerpt    TEXT NOT NULL DEFAULT '',
    author     TEXT NOT NULL DEFAULT '',
    state      TEXT NOT NULL DEFAULT 'NEW',
    attempts   INTEGER NOT NULL DEFAULT 0,
    summary    TEXT NOT NULL DEFAULT '',
    fetched_at DATETIME NOT NULL,
    posted_at  DATETIME,
    UNIQUE(source, item_key)
);

CREATE INDEX IF NOT EXISTS idx_items_state ON items(state);
CREATE INDEX IF NOT EXISTS idx_items_fetched_at ON items(fetched_at);

CREATE TABLE IF NOT EXISTS cycles (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at       DATETIME NOT NULL,
    finished_at      DATETIME NOT NULL,
    outcome          TEXT NOT NULL,
    items_considered INTEGER NOT NULL DEFAULT 0,
    items_posted     INTEGER NOT NULL DEFAULT 0,
    note             TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at);
`
