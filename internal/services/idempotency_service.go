package services

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"

	"fixmarket/internal/domain"
	"fixmarket/internal/repos"
)

// IdempotencyGuard wraps write commands with Idempotency-Key semantics: a
// replayed key returns the entity id recorded by the first success instead
// of re-running the command. Keys are stored hashed, never raw.
type IdempotencyGuard struct {
	Repo *repos.IdempotencyRepo
	Now  func() time.Time
}

func NewIdempotencyGuard(repo *repos.IdempotencyRepo) *IdempotencyGuard {
	return &IdempotencyGuard{Repo: repo, Now: time.Now}
}

func hashKey(key, actorID string) string {
	sum := blake2b.Sum256([]byte(actorID + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

// Run executes fn unless the key has already completed for this actor and
// operation. Replays return (entityID, true, nil) without calling fn. A key
// reused for a different operation is a Conflict.
func (g *IdempotencyGuard) Run(key, actorID, operation string, fn func() (string, error)) (string, bool, error) {
	if key == "" {
		id, err := fn()
		return id, false, err
	}
	h := hashKey(key, actorID)

	rec, found, err := g.Repo.Lookup(h)
	if err != nil {
		return "", false, err
	}
	if found {
		if rec.Operation != operation || rec.ActorID != actorID {
			return "", false, domain.Conflict("idempotency key already used for %s", rec.Operation)
		}
		return rec.EntityID, true, nil
	}

	entityID, err := fn()
	if err != nil {
		// failed commands record nothing; the caller may retry the key
		return "", false, err
	}

	saved, err := g.Repo.Save(h, actorID, operation, entityID, g.Now())
	if err != nil {
		// state committed; a lost idempotency record is logged upstream,
		// never promoted into a command failure
		return entityID, false, nil
	}
	if !saved {
		// concurrent duplicate won the insert; report its entity
		if rec, found, lErr := g.Repo.Lookup(h); lErr == nil && found {
			return rec.EntityID, true, nil
		}
	}
	return entityID, false, nil
}
