package db

const schema = `
-- Performance and reliability settings
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;
PRAGMA temp_store = MEMORY;

-- Runs: one row per CLI invocation
CREATE TABLE IF NOT EXISTS runs (
    run_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_key TEXT NOT NULL UNIQUE,        -- timestamp-first ID shared with summary.yaml
    command TEXT NOT NULL,               -- harvest, clean, convert, pipeline, run
    start_url TEXT,
    variant TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP,
    unit_count INTEGER DEFAULT 0,
    success_count INTEGER DEFAULT 0,
    partial_count INTEGER DEFAULT 0,
    failed_count INTEGER DEFAULT 0,
    skipped_count INTEGER DEFAULT 0,
    exit_code INTEGER,
    run_dir TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);

-- Unit results: one row per category or file processed in a run
CREATE TABLE IF NOT EXISTS unit_results (
    result_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    stage TEXT NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    error_type TEXT,
    error_message TEXT,
    rows INTEGER DEFAULT 0,
    pages INTEGER DEFAULT 0,
    duration_ms INTEGER DEFAULT 0,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_unit_results_run ON unit_results(run_id);
CREATE INDEX IF NOT EXISTS idx_unit_results_status ON unit_results(status);

-- Artifact types: lookup table for normalization
CREATE TABLE IF NOT EXISTS artifact_types (
    type_id INTEGER PRIMARY KEY AUTOINCREMENT,
    type_name TEXT NOT NULL UNIQUE,
    description TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Artifacts: latest known state of every file the tool has written
CREATE TABLE IF NOT EXISTS artifacts (
    artifact_id INTEGER PRIMARY KEY AUTOINCREMENT,
    result_id INTEGER NOT NULL,
    type_id INTEGER NOT NULL,
    content_hash TEXT NOT NULL,
    file_path TEXT NOT NULL UNIQUE,
    size_bytes INTEGER,
    rows INTEGER,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (result_id) REFERENCES unit_results(result_id) ON DELETE CASCADE,
    FOREIGN KEY (type_id) REFERENCES artifact_types(type_id)
);

CREATE INDEX IF NOT EXISTS idx_artifacts_result ON artifacts(result_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_hash ON artifacts(content_hash);

-- Seed artifact types
INSERT OR IGNORE INTO artifact_types (type_name, description) VALUES
    ('raw_csv', 'Harvested category table'),
    ('cleaned_csv', 'Cleaned table with sentinel-filled cells'),
    ('jsonl', 'Cleaned table re-encoded as JSON Lines'),
    ('parquet', 'Parquet partition');
`
