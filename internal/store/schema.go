package store

// Schema v1 - initial database schema: file records, sessions, masters
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per ingested exposure
CREATE TABLE IF NOT EXISTS files (
  id TEXT PRIMARY KEY,
  path TEXT NOT NULL,
  frame_type TEXT NOT NULL,
  object TEXT,
  date_obs TEXT NOT NULL,
  date TEXT NOT NULL,
  exposure REAL NOT NULL,
  bin_x INTEGER NOT NULL DEFAULT 1,
  bin_y INTEGER NOT NULL DEFAULT 1,
  ccd_temp REAL,
  gain REAL,
  "offset" REAL,
  filter TEXT,
  telescope TEXT,
  instrument TEXT,
  content_hash TEXT NOT NULL,
  size_bytes INTEGER,
  session_id TEXT,
  calibrated INTEGER NOT NULL DEFAULT 0,
  calibrated_path TEXT,
  calibrated_at DATETIME,
  deleted INTEGER NOT NULL DEFAULT 0,
  fwhm REAL,
  eccentricity REAL,
  hfr REAL,
  snr REAL,
  star_count INTEGER,
  image_scale REAL,
  registered_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Dedup key: content hash must be unique among live records only,
-- so a soft-deleted file can be re-ingested
CREATE UNIQUE INDEX IF NOT EXISTS idx_files_hash_live
  ON files(content_hash) WHERE deleted = 0;
CREATE INDEX IF NOT EXISTS idx_files_session ON files(session_id);
CREATE INDEX IF NOT EXISTS idx_files_type_unassigned
  ON files(frame_type, session_id) WHERE deleted = 0;

-- Groups of frames sharing acquisition parameters
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  object TEXT NOT NULL,
  date TEXT NOT NULL,
  telescope TEXT,
  instrument TEXT,
  exposure REAL,
  bin_x INTEGER,
  bin_y INTEGER,
  ccd_temp REAL,
  gain REAL,
  "offset" REAL,
  filter TEXT,
  bias_session TEXT,
  dark_session TEXT,
  flat_session TEXT,
  auto_cal INTEGER NOT NULL DEFAULT 0,
  source_bias TEXT,
  source_dark TEXT,
  source_flat TEXT,
  fwhm_avg REAL,
  eccentricity_avg REAL,
  hfr_avg REAL,
  snr_avg REAL,
  star_count_avg REAL,
  image_scale_avg REAL,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_object_date ON sessions(object, date);
CREATE INDEX IF NOT EXISTS idx_sessions_equipment
  ON sessions(telescope, instrument, bin_x, bin_y);

-- Derived calibration artifacts
CREATE TABLE IF NOT EXISTS masters (
  id TEXT PRIMARY KEY,
  path TEXT NOT NULL,
  cal_type TEXT NOT NULL,
  session_id TEXT,
  telescope TEXT,
  instrument TEXT,
  bin_x INTEGER,
  bin_y INTEGER,
  ccd_temp REAL,
  gain REAL,
  "offset" REAL,
  exposure REAL,
  filter TEXT,
  source_count INTEGER NOT NULL DEFAULT 0,
  content_hash TEXT,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  validated_at DATETIME,
  valid INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_masters_criteria
  ON masters(cal_type, telescope, instrument, bin_x, bin_y);
CREATE INDEX IF NOT EXISTS idx_masters_session ON masters(session_id);
`
