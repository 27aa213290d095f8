package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Activities table: one row per provider activity, owned by a single athlete
CREATE TABLE IF NOT EXISTS activities (
    id INTEGER PRIMARY KEY,  -- Strava activity ID
    athlete_id INTEGER NOT NULL,

    name TEXT NOT NULL DEFAULT '',
    distance REAL NOT NULL DEFAULT 0,              -- meters
    moving_time INTEGER NOT NULL DEFAULT 0,        -- seconds
    elapsed_time INTEGER NOT NULL DEFAULT 0,       -- seconds
    total_elevation_gain REAL NOT NULL DEFAULT 0,  -- meters
    type TEXT NOT NULL DEFAULT '',                 -- e.g., "Run", "Ride", "Swim"
    start_date TEXT,                               -- RFC3339 from the provider

    -- Metadata
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Athlete tokens table: exactly one live credential per athlete
CREATE TABLE IF NOT EXISTS athlete_tokens (
    athlete_id INTEGER PRIMARY KEY,

    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    expires_at INTEGER NOT NULL,  -- epoch seconds
    scope TEXT NOT NULL DEFAULT '',

    -- Metadata
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Sync jobs table: historical backfill queue
CREATE TABLE IF NOT EXISTS sync_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    athlete_id INTEGER NOT NULL,
    job_type TEXT NOT NULL,

    -- Processing state
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    next_retry_at INTEGER,
    processing_started_at INTEGER,

    -- Metadata
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

-- Indexes for activities table
CREATE INDEX IF NOT EXISTS idx_activities_athlete_id ON activities(athlete_id);
CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(type);
CREATE INDEX IF NOT EXISTS idx_activities_athlete_start ON activities(athlete_id, start_date DESC);

-- Indexes for sync_jobs table
CREATE INDEX IF NOT EXISTS idx_sync_jobs_athlete_id ON sync_jobs(athlete_id);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_next_retry_at ON sync_jobs(next_retry_at);
`
