package repos

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"fixmarket/internal/domain"
)

// IdempotencyRepo records completed write commands keyed by a hashed
// Idempotency-Key so a retried command returns the original entity instead
// of re-applying its cascade.
type IdempotencyRepo struct{ db *sqlx.DB }

func NewIdempotencyRepo(db *sqlx.DB) *IdempotencyRepo { return &IdempotencyRepo{db: db} }

type IdempotencyRecord struct {
	KeyHash   string `db:"key_hash"`
	ActorID   string `db:"actor_id"`
	Operation string `db:"operation"`
	EntityID  string `db:"entity_id"`
	CreatedAt string `db:"created_at"`
}

func (r *IdempotencyRepo) Lookup(keyHash string) (IdempotencyRecord, bool, error) {
	var rec IdempotencyRecord
	err := r.db.Get(&rec, `SELECT * FROM idempotency_keys WHERE key_hash = ?`, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return IdempotencyRecord{}, false, domain.Transient("idempotency.lookup", err)
	}
	return rec, true, nil
}

// Save is first-writer-wins; a concurrent duplicate surfaces as ok=false and
// the caller re-reads the stored record.
func (r *IdempotencyRepo) Save(keyHash, actorID, operation, entityID string, now time.Time) (bool, error) {
	_, err := r.db.Exec(`
	  INSERT INTO idempotency_keys (key_hash, actor_id, operation, entity_id, created_at)
	  VALUES (?, ?, ?, ?, ?)`,
		keyHash, actorID, operation, entityID, fmtTime(now))
	if isConstraintErr(err) {
		return false, nil
	}
	if err != nil {
		return false, domain.Transient("idempotency.save", err)
	}
	return true, nil
}
