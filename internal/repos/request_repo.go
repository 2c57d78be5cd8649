package repos

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"fixmarket/internal/domain"
)

type RequestRepo struct{ db *sqlx.DB }

func NewRequestRepo(db *sqlx.DB) *RequestRepo { return &RequestRepo{db: db} }

type requestRow struct {
	ID           string  `db:"id"`
	CustomerID   string  `db:"customer_id"`
	CategoryID   string  `db:"category_id"`
	ServiceIDs   string  `db:"service_ids_json"`
	Description  string  `db:"description"`
	ImageRefs    *string `db:"image_refs_json"`
	Location     *string `db:"location"`
	Status       string  `db:"status"`
	CancelReason *string `db:"cancel_reason"`
	Version      int64   `db:"version"`
	CreatedAt    string  `db:"created_at"`
	ExpiresAt    string  `db:"expires_at"`
}

func (row requestRow) toDomain() domain.ServiceRequest {
	r := domain.ServiceRequest{
		ID:          row.ID,
		CustomerID:  row.CustomerID,
		CategoryID:  row.CategoryID,
		Description: row.Description,
		Status:      domain.RequestStatus(row.Status),
		Version:     row.Version,
		CreatedAt:   parseTime(row.CreatedAt),
		ExpiresAt:   parseTime(row.ExpiresAt),
	}
	_ = json.Unmarshal([]byte(row.ServiceIDs), &r.ServiceIDs)
	if row.ImageRefs != nil {
		_ = json.Unmarshal([]byte(*row.ImageRefs), &r.ImageRefs)
	}
	if row.Location != nil {
		r.Location = *row.Location
	}
	if row.CancelReason != nil {
		r.CancelReason = *row.CancelReason
	}
	return r
}

// statusSet renders internal status constants for an IN (...) clause.
func statusSet[T ~string](statuses []T) string {
	quoted := make([]string, len(statuses))
	for i, s := range statuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ",")
}

// Insert persists a new Pending request. The partial unique index rejects a
// second active request for the same customer; that surfaces as Conflict.
func (r *RequestRepo) Insert(req domain.ServiceRequest) error {
	services, _ := json.Marshal(req.ServiceIDs)
	images, _ := json.Marshal(req.ImageRefs)
	_, err := r.db.Exec(`
	  INSERT INTO requests
	    (id, customer_id, category_id, service_ids_json, description, image_refs_json, location, status, version, created_at, expires_at)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		req.ID, req.CustomerID, req.CategoryID, string(services), req.Description,
		string(images), req.Location, string(req.Status), fmtTime(req.CreatedAt), fmtTime(req.ExpiresAt))
	if isConstraintErr(err) {
		return domain.Conflict("customer %s already has an active request", req.CustomerID)
	}
	if err != nil {
		return domain.Transient("request.insert", err)
	}
	return nil
}

func (r *RequestRepo) Get(id string) (domain.ServiceRequest, error) {
	var row requestRow
	err := r.db.Get(&row, `SELECT * FROM requests WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ServiceRequest{}, domain.NotFound("request", id)
	}
	if err != nil {
		return domain.ServiceRequest{}, domain.Transient("request.get", err)
	}
	return row.toDomain(), nil
}

// ActiveForCustomer returns the customer's single non-terminal request, if any.
func (r *RequestRepo) ActiveForCustomer(customerID string) (domain.ServiceRequest, bool, error) {
	var row requestRow
	err := r.db.Get(&row, `
	  SELECT * FROM requests
	  WHERE customer_id = ? AND status IN ('PENDING','ACCEPTED','IN_PROGRESS')`,
		customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ServiceRequest{}, false, nil
	}
	if err != nil {
		return domain.ServiceRequest{}, false, domain.Transient("request.active", err)
	}
	return row.toDomain(), true, nil
}

// ListPendingForCategory is the provider-facing feed; unexpired Pending only.
func (r *RequestRepo) ListPendingForCategory(categoryID string, now time.Time) ([]domain.ServiceRequest, error) {
	var rows []requestRow
	err := r.db.Select(&rows, `
	  SELECT * FROM requests
	  WHERE category_id = ? AND status = 'PENDING' AND expires_at > ?
	  ORDER BY created_at ASC, id ASC`,
		categoryID, fmtTime(now))
	if err != nil {
		return nil, domain.Transient("request.list", err)
	}
	out := make([]domain.ServiceRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// Transition moves the request to a new status only if it is still in one of
// the expected source statuses, bumping version. Returns the committed
// version and whether the compare-and-set won.
func (r *RequestRepo) Transition(e sqlx.Ext, id string, from []domain.RequestStatus, to domain.RequestStatus) (int64, bool, error) {
	var version int64
	err := sqlx.Get(e, &version, `
	  UPDATE requests SET status = ?, version = version + 1
	  WHERE id = ? AND status IN (`+statusSet(from)+`)
	  RETURNING version`,
		string(to), id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, domain.Transient("request.transition", err)
	}
	return version, true, nil
}

// Cancel records the reason alongside the terminal status.
func (r *RequestRepo) Cancel(e sqlx.Ext, id, reason string, from []domain.RequestStatus) (int64, bool, error) {
	var version int64
	err := sqlx.Get(e, &version, `
	  UPDATE requests SET status = 'CANCELLED', cancel_reason = ?, version = version + 1
	  WHERE id = ? AND status IN (`+statusSet(from)+`)
	  RETURNING version`,
		reason, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, domain.Transient("request.cancel", err)
	}
	return version, true, nil
}

// DueExpiry lists Pending requests past their TTL at the given instant.
func (r *RequestRepo) DueExpiry(now time.Time) ([]string, error) {
	var ids []string
	err := r.db.Select(&ids, `
	  SELECT id FROM requests WHERE status = 'PENDING' AND expires_at <= ?`,
		fmtTime(now))
	if err != nil {
		return nil, domain.Transient("request.due", err)
	}
	return ids, nil
}

// CountByStatus powers the ops stats query.
func (r *RequestRepo) CountByStatus() (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := r.db.Select(&rows, `SELECT status, COUNT(*) AS n FROM requests GROUP BY status`); err != nil {
		return nil, domain.Transient("request.stats", err)
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

// DB exposes the handle for transaction scoping by the arbiter.
func (r *RequestRepo) DB() *sqlx.DB { return r.db }
