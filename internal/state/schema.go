package state

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  expires_at TEXT,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  session_id TEXT NOT NULL,
  source TEXT,
  data TEXT,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_session ON events (session_id, created_at);

CREATE TABLE IF NOT EXISTS news_items (
  id TEXT PRIMARY KEY,
  headline TEXT NOT NULL,
  content TEXT,
  topics TEXT,
  source TEXT,
  published_at TEXT NOT NULL,
  relevance_score REAL NOT NULL,
  processed_at TEXT,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS posts (
  id TEXT PRIMARY KEY,
  character_id TEXT NOT NULL,
  character_name TEXT,
  content TEXT NOT NULL,
  reply_to TEXT,
  quote TEXT,
  thread_id TEXT,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS threads (
  id TEXT PRIMARY KEY,
  original_content TEXT,
  created_at TEXT NOT NULL
);
`
