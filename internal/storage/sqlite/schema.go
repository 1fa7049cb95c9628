package sqlite

const schema = `
-- Canonical events: the per-user system of record
CREATE TABLE IF NOT EXISTS canonical_events (
    id TEXT PRIMARY KEY,
    origin_account_id TEXT NOT NULL,
    origin_event_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    start_ts TEXT NOT NULL,
    end_ts TEXT NOT NULL,
    timezone TEXT NOT NULL DEFAULT '',
    all_day INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'confirmed' CHECK(status IN ('confirmed','tentative','cancelled')),
    visibility TEXT NOT NULL DEFAULT 'default',
    transparency TEXT NOT NULL DEFAULT 'opaque' CHECK(transparency IN ('opaque','transparent')),
    recurrence_rule TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT 'provider' CHECK(source IN ('provider','system','ics')),
    version INTEGER NOT NULL DEFAULT 1 CHECK(version >= 1),
    constraint_id TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(origin_account_id, origin_event_id)
);

CREATE INDEX IF NOT EXISTS idx_canonical_events_range ON canonical_events(start_ts, end_ts);
CREATE INDEX IF NOT EXISTS idx_canonical_events_constraint ON canonical_events(constraint_id);
CREATE INDEX IF NOT EXISTS idx_canonical_events_status ON canonical_events(status);

-- Event mirrors: one row per (canonical event, target account, target calendar)
CREATE TABLE IF NOT EXISTS event_mirrors (
    id TEXT PRIMARY KEY,
    canonical_event_id TEXT NOT NULL,
    target_account_id TEXT NOT NULL,
    target_calendar_id TEXT NOT NULL,
    provider_event_id TEXT,
    last_projected_hash TEXT NOT NULL DEFAULT '',
    last_write_ts DATETIME,
    state TEXT NOT NULL DEFAULT 'PENDING_CREATE' CHECK(state IN
        ('PENDING_CREATE','PENDING_UPDATE','WRITING','LIVE','DELETING','DELETED','TOMBSTONED','FAILED')),
    error TEXT NOT NULL DEFAULT '',
    attempt_count INTEGER NOT NULL DEFAULT 0,
    next_retry_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(canonical_event_id, target_account_id, target_calendar_id),
    FOREIGN KEY (canonical_event_id) REFERENCES canonical_events(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_event_mirrors_state ON event_mirrors(state);
CREATE INDEX IF NOT EXISTS idx_event_mirrors_target ON event_mirrors(target_account_id);

-- Policy edges: directed mirror rules
CREATE TABLE IF NOT EXISTS policy_edges (
    id TEXT PRIMARY KEY,
    source_account_id TEXT NOT NULL,
    target_account_id TEXT NOT NULL,
    target_calendar_id TEXT NOT NULL,
    detail_level TEXT NOT NULL CHECK(detail_level IN ('BUSY','TITLE','FULL')),
    active_from TEXT NOT NULL DEFAULT '',
    active_to TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_policy_edges_source ON policy_edges(source_account_id);

-- Constraints: trip, working_hours, buffer, no_meetings_after, override
CREATE TABLE IF NOT EXISTS constraints (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL CHECK(kind IN ('trip','working_hours','buffer','no_meetings_after','override')),
    config_json TEXT NOT NULL,
    active_from TEXT NOT NULL DEFAULT '',
    active_to TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Journal: append-only change log; never updated or deleted except by
-- whole-user deletion
CREATE TABLE IF NOT EXISTS journal (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    canonical_event_id TEXT NOT NULL,
    change_type TEXT NOT NULL CHECK(change_type IN ('created','updated','deleted')),
    actor TEXT NOT NULL DEFAULT '',
    patch TEXT NOT NULL DEFAULT '',
    ts DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_journal_event ON journal(canonical_event_id);

-- Relationships and interaction ledger (participant-hash keyed)
CREATE TABLE IF NOT EXISTS relationships (
    id TEXT PRIMARY KEY,
    participant_hash TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    city TEXT NOT NULL DEFAULT '',
    tier INTEGER NOT NULL DEFAULT 0,
    last_interaction_ts DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ledger (
    id TEXT PRIMARY KEY,
    participant_hash TEXT NOT NULL,
    kind TEXT NOT NULL CHECK(kind IN ('met','cancelled','rescheduled','no_show')),
    canonical_event_id TEXT NOT NULL DEFAULT '',
    note TEXT NOT NULL DEFAULT '',
    ts DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_ledger_participant ON ledger(participant_hash);

CREATE TABLE IF NOT EXISTS milestones (
    id TEXT PRIMARY KEY,
    participant_hash TEXT NOT NULL,
    title TEXT NOT NULL,
    date TEXT NOT NULL,
    recurring INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Event participants for briefings
CREATE TABLE IF NOT EXISTS event_participants (
    canonical_event_id TEXT NOT NULL,
    participant_hash TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    response TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (canonical_event_id, participant_hash),
    FOREIGN KEY (canonical_event_id) REFERENCES canonical_events(id) ON DELETE CASCADE
);

-- Scheduling sessions and holds
CREATE TABLE IF NOT EXISTS scheduling_sessions (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    duration_minutes INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'proposed' CHECK(status IN ('proposed','committed','cancelled','expired')),
    candidates TEXT NOT NULL DEFAULT '[]',
    selected_candidate_id TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expires_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS holds (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    candidate_id TEXT NOT NULL DEFAULT '',
    target_account_id TEXT NOT NULL,
    target_calendar_id TEXT NOT NULL DEFAULT '',
    provider_event_id TEXT,
    start_ts TEXT NOT NULL,
    end_ts TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','confirmed','committed','released','expired')),
    expires_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (session_id) REFERENCES scheduling_sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_holds_session ON holds(session_id);
CREATE INDEX IF NOT EXISTS idx_holds_expiry ON holds(status, expires_at);

-- Migration bookkeeping (read at actor boot)
CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
