package repos

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"fixmarket/internal/domain"
)

type OfferRepo struct{ db *sqlx.DB }

func NewOfferRepo(db *sqlx.DB) *OfferRepo { return &OfferRepo{db: db} }

type offerRow struct {
	ID            string  `db:"id"`
	RequestID     string  `db:"request_id"`
	ProviderID    string  `db:"provider_id"`
	Price         float64 `db:"price"`
	Status        string  `db:"status"`
	PaymentStatus int     `db:"payment_status"`
	PaymentReason *string `db:"payment_reason"`
	Version       int64   `db:"version"`
	SentAt        string  `db:"sent_at"`
	ExpiresAt     string  `db:"expires_at"`
}

func (row offerRow) toDomain() domain.ServiceOffer {
	o := domain.ServiceOffer{
		ID:            row.ID,
		RequestID:     row.RequestID,
		ProviderID:    row.ProviderID,
		Price:         row.Price,
		Status:        domain.OfferStatus(row.Status),
		PaymentStatus: row.PaymentStatus != 0,
		Version:       row.Version,
		SentAt:        parseTime(row.SentAt),
		ExpiresAt:     parseTime(row.ExpiresAt),
	}
	if row.PaymentReason != nil {
		o.PaymentReason = *row.PaymentReason
	}
	return o
}

// Insert lands the offer only while the parent request is still open. The
// status guard sits in the insert statement itself, so an acceptance that
// commits after the caller's precondition read cannot leave a stray Pending
// sibling behind; idx_offers_provider_open rejects a duplicate open offer
// from the same provider the same way.
func (r *OfferRepo) Insert(o domain.ServiceOffer) error {
	res, err := r.db.Exec(`
	  INSERT INTO offers
	    (id, request_id, provider_id, price, status, payment_status, version, sent_at, expires_at)
	  SELECT ?, ?, ?, ?, ?, 0, 1, ?, ?
	  WHERE EXISTS (SELECT 1 FROM requests WHERE id = ? AND status = 'PENDING')`,
		o.ID, o.RequestID, o.ProviderID, o.Price, string(o.Status), fmtTime(o.SentAt), fmtTime(o.ExpiresAt),
		o.RequestID)
	if isConstraintErr(err) {
		return domain.Conflict("provider %s already has an open offer on request %s", o.ProviderID, o.RequestID)
	}
	if err != nil {
		return domain.Transient("offer.insert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Transient("offer.insert", err)
	}
	if n == 0 {
		return domain.Conflict("request %s is not open for offers", o.RequestID)
	}
	return nil
}

func (r *OfferRepo) Get(id string) (domain.ServiceOffer, error) {
	var row offerRow
	err := r.db.Get(&row, `SELECT * FROM offers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ServiceOffer{}, domain.NotFound("offer", id)
	}
	if err != nil {
		return domain.ServiceOffer{}, domain.Transient("offer.get", err)
	}
	return row.toDomain(), nil
}

// ListByRequest is a stable, restartable read: sent_at ASC with id tiebreak.
func (r *OfferRepo) ListByRequest(requestID string) ([]domain.ServiceOffer, error) {
	var rows []offerRow
	err := r.db.Select(&rows, `
	  SELECT * FROM offers WHERE request_id = ? ORDER BY sent_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, domain.Transient("offer.list", err)
	}
	out := make([]domain.ServiceOffer, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *OfferRepo) ListByProvider(providerID string) ([]domain.ServiceOffer, error) {
	var rows []offerRow
	err := r.db.Select(&rows, `
	  SELECT * FROM offers WHERE provider_id = ? ORDER BY sent_at DESC, id ASC`, providerID)
	if err != nil {
		return nil, domain.Transient("offer.list_provider", err)
	}
	out := make([]domain.ServiceOffer, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// Transition is the shared compare-and-set: status moves only if still in an
// expected source status. Loser of any race observes ok=false.
func (r *OfferRepo) Transition(e sqlx.Ext, id string, from []domain.OfferStatus, to domain.OfferStatus) (int64, bool, error) {
	var version int64
	err := sqlx.Get(e, &version, `
	  UPDATE offers SET status = ?, version = version + 1
	  WHERE id = ? AND status IN (`+statusSet(from)+`)
	  RETURNING version`,
		string(to), id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, domain.Transient("offer.transition", err)
	}
	return version, true, nil
}

// PendingSiblings returns the Pending offers of a request other than except.
// Used for cascade rejection and expiry.
func (r *OfferRepo) PendingSiblings(e sqlx.Ext, requestID, except string) ([]OfferRef, error) {
	var refs []OfferRef
	err := sqlx.Select(e, &refs, `
	  SELECT id, provider_id FROM offers
	  WHERE request_id = ? AND status = 'PENDING' AND id <> ?
	  ORDER BY sent_at ASC, id ASC`,
		requestID, except)
	if err != nil {
		return nil, domain.Transient("offer.siblings", err)
	}
	return refs, nil
}

type OfferRef struct {
	ID         string `db:"id"`
	ProviderID string `db:"provider_id"`
}

// OpenByRequest returns the offers still holding a live claim on the
// request: the pending bids plus an accepted-but-unstarted winner. Feeds the
// cancel cascade.
func (r *OfferRepo) OpenByRequest(e sqlx.Ext, requestID string) ([]OfferRef, error) {
	var refs []OfferRef
	err := sqlx.Select(e, &refs, `
	  SELECT id, provider_id FROM offers
	  WHERE request_id = ? AND status IN ('PENDING','ACCEPTED')
	  ORDER BY sent_at ASC, id ASC`,
		requestID)
	if err != nil {
		return nil, domain.Transient("offer.open", err)
	}
	return refs, nil
}

// SetPayment stamps the payment outcome on a Completed offer.
func (r *OfferRepo) SetPayment(id string, paid bool, reason string) (int64, bool, error) {
	p := 0
	if paid {
		p = 1
	}
	var version int64
	err := r.db.Get(&version, `
	  UPDATE offers SET payment_status = ?, payment_reason = ?, version = version + 1
	  WHERE id = ? AND status = 'COMPLETED' AND payment_status = 0
	  RETURNING version`,
		p, reason, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, domain.Transient("offer.payment", err)
	}
	return version, true, nil
}

// DueExpiry lists Pending offers past their own TTL.
func (r *OfferRepo) DueExpiry(now time.Time) ([]string, error) {
	var ids []string
	err := r.db.Select(&ids, `
	  SELECT id FROM offers WHERE status = 'PENDING' AND expires_at <= ?`,
		fmtTime(now))
	if err != nil {
		return nil, domain.Transient("offer.due", err)
	}
	return ids, nil
}

func (r *OfferRepo) DB() *sqlx.DB { return r.db }
