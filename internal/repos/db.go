package repos

import (
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// timeFormat is a fixed-width UTC layout so string comparison in SQL
// matches chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		// tolerate second-precision rows written by hand in fixtures
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func OpenDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Single writer connection keeps SQLite happy under concurrent commands.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
PRAGMA foreign_keys = ON;

-- Service requests
CREATE TABLE IF NOT EXISTS requests(
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  category_id TEXT NOT NULL,
  service_ids_json TEXT NOT NULL,
  description TEXT,
  image_refs_json TEXT,
  location TEXT,
  status TEXT NOT NULL DEFAULT 'PENDING',
  cancel_reason TEXT,
  version INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL,
  expires_at TEXT NOT NULL
);
-- one active request per customer, enforced at the storage layer
CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_customer_active
  ON requests(customer_id) WHERE status IN ('PENDING','ACCEPTED','IN_PROGRESS');
CREATE INDEX IF NOT EXISTS idx_requests_category_status ON requests(category_id, status);
CREATE INDEX IF NOT EXISTS idx_requests_due ON requests(status, expires_at);

-- Provider offers
CREATE TABLE IF NOT EXISTS offers(
  id TEXT PRIMARY KEY,
  request_id TEXT NOT NULL REFERENCES requests(id),
  provider_id TEXT NOT NULL,
  price NUMERIC NOT NULL CHECK (price > 0),
  status TEXT NOT NULL DEFAULT 'PENDING',
  payment_status INTEGER NOT NULL DEFAULT 0,
  payment_reason TEXT,
  version INTEGER NOT NULL DEFAULT 1,
  sent_at TEXT NOT NULL,
  expires_at TEXT NOT NULL
);
-- one open offer per provider per request, duplicate submits race-free
CREATE UNIQUE INDEX IF NOT EXISTS idx_offers_provider_open
  ON offers(request_id, provider_id) WHERE status NOT IN ('REJECTED','EXPIRED');
CREATE INDEX IF NOT EXISTS idx_offers_request ON offers(request_id, sent_at);
CREATE INDEX IF NOT EXISTS idx_offers_due ON offers(status, expires_at);

-- Idempotency keys for write commands (hashes only)
CREATE TABLE IF NOT EXISTS idempotency_keys(
  key_hash TEXT PRIMARY KEY,
  actor_id TEXT NOT NULL,
  operation TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  created_at TEXT NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

// isConstraintErr detects UNIQUE/CHECK violations from the sqlite driver.
func isConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
