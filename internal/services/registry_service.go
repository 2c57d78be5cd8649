package services

import (
	"time"

	"github.com/google/uuid"

	"fixmarket/internal/domain"
	"fixmarket/internal/repos"
)

// RequestRegistry owns ServiceRequest creation, reads and cancellation.
// The "one active request per customer" rule lives here (backed by a partial
// unique index) instead of being re-checked per screen.
type RequestRegistry struct {
	Requests *repos.RequestRepo
	Offers   *repos.OfferRepo
	Notify   Notifier
	Expiry   *ExpiryScheduler
	Locks    *KeyedLocks
	TTL      time.Duration
	Now      func() time.Time
}

func NewRequestRegistry(requests *repos.RequestRepo, offers *repos.OfferRepo, n Notifier, expiry *ExpiryScheduler, locks *KeyedLocks, ttl time.Duration) *RequestRegistry {
	return &RequestRegistry{
		Requests: requests,
		Offers:   offers,
		Notify:   n,
		Expiry:   expiry,
		Locks:    locks,
		TTL:      ttl,
		Now:      time.Now,
	}
}

type CreateRequestInput struct {
	CustomerID  string
	CategoryID  string
	ServiceIDs  []string
	Description string
	Location    string   // pre-resolved snapshot from the geocoder collaborator
	ImageRefs   []string // opaque refs owned by the image store collaborator
}

func (s *RequestRegistry) Create(in CreateRequestInput) (domain.ServiceRequest, error) {
	if len(in.ServiceIDs) == 0 {
		return domain.ServiceRequest{}, domain.Invalid("service_ids", "at least one service is required")
	}
	if in.CustomerID == "" {
		return domain.ServiceRequest{}, domain.Invalid("customer_id", "required")
	}
	if in.CategoryID == "" {
		return domain.ServiceRequest{}, domain.Invalid("category_id", "required")
	}

	// Friendly pre-check; the unique index is the authority under races.
	if _, exists, err := s.Requests.ActiveForCustomer(in.CustomerID); err != nil {
		return domain.ServiceRequest{}, err
	} else if exists {
		return domain.ServiceRequest{}, domain.Conflict("customer %s already has an active request", in.CustomerID)
	}

	now := s.Now()
	req := domain.ServiceRequest{
		ID:          uuid.NewString(),
		CustomerID:  in.CustomerID,
		CategoryID:  in.CategoryID,
		ServiceIDs:  in.ServiceIDs,
		Description: in.Description,
		Location:    in.Location,
		ImageRefs:   in.ImageRefs,
		Status:      domain.RequestPending,
		Version:     1,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.TTL),
	}
	if err := s.Requests.Insert(req); err != nil {
		return domain.ServiceRequest{}, err
	}

	publishAll(s.Notify, []string{
		domain.ChannelCategory(req.CategoryID),
		domain.ChannelUser(req.CustomerID),
	}, event(domain.EventRequestCreated, req.ID, string(req.Status), req.Version, now))
	return req, nil
}

// Get reads a request, expiring it lazily first if its TTL has passed.
func (s *RequestRegistry) Get(id string) (domain.ServiceRequest, error) {
	req, err := s.Requests.Get(id)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	if req.ExpiredBy(s.Now()) {
		if _, err := s.Expiry.ExpireRequest(id); err != nil {
			return domain.ServiceRequest{}, err
		}
		return s.Requests.Get(id)
	}
	return req, nil
}

// Cancel ends a request that has not advanced past Accepted. Pending sibling
// offers are rejected; an accepted-but-not-started winner is rejected too.
func (s *RequestRegistry) Cancel(requestID, actorID, reason string) (domain.ServiceRequest, error) {
	req, err := s.Get(requestID)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	if req.CustomerID != actorID {
		return domain.ServiceRequest{}, domain.Unauthorized("only the request owner may cancel")
	}

	unlock := s.Locks.Lock(requestID)
	defer unlock()

	// Terminal status and cascade commit together: no window where a
	// cancelled request still carries open offers.
	tx, err := s.Requests.DB().Beginx()
	if err != nil {
		return domain.ServiceRequest{}, domain.Transient("cancel.begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	ver, won, err := s.Requests.Cancel(tx, requestID, reason, []domain.RequestStatus{domain.RequestPending, domain.RequestAccepted})
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	if !won {
		return domain.ServiceRequest{}, domain.Conflict("request %s can no longer be cancelled", requestID)
	}

	open, err := s.Offers.OpenByRequest(tx, requestID)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	type rejected struct {
		id, provider string
		version      int64
	}
	var losers []rejected
	for _, o := range open {
		oVer, ok, err := s.Offers.Transition(tx, o.ID,
			[]domain.OfferStatus{domain.OfferPending, domain.OfferAccepted}, domain.OfferRejected)
		if err != nil {
			return domain.ServiceRequest{}, err
		}
		if ok {
			losers = append(losers, rejected{id: o.ID, provider: o.ProviderID, version: oVer})
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.ServiceRequest{}, domain.Transient("cancel.commit", err)
	}

	at := s.Now()
	for _, l := range losers {
		publishAll(s.Notify, []string{
			domain.ChannelRequest(requestID),
			domain.ChannelUser(l.provider),
		}, event(domain.EventOfferStatusChanged, l.id, string(domain.OfferRejected), l.version, at))
	}
	publishAll(s.Notify, []string{
		domain.ChannelCategory(req.CategoryID),
		domain.ChannelRequest(requestID),
		domain.ChannelUser(req.CustomerID),
	}, event(domain.EventRequestStatusChanged, requestID, string(domain.RequestCancelled), ver, at))

	return s.Requests.Get(requestID)
}

// ActiveForCustomer backs the GetActiveRequestForCustomer query.
func (s *RequestRegistry) ActiveForCustomer(customerID string) (domain.ServiceRequest, error) {
	req, exists, err := s.Requests.ActiveForCustomer(customerID)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	if !exists {
		return domain.ServiceRequest{}, domain.NotFound("active request for customer", customerID)
	}
	if req.ExpiredBy(s.Now()) {
		if _, err := s.Expiry.ExpireRequest(req.ID); err != nil {
			return domain.ServiceRequest{}, err
		}
		return domain.ServiceRequest{}, domain.NotFound("active request for customer", customerID)
	}
	return req, nil
}

// ListPendingForCategory is the provider feed; rows past TTL are filtered in
// SQL so a stale row never leaks even before the sweep reaches it.
func (s *RequestRegistry) ListPendingForCategory(categoryID string) ([]domain.ServiceRequest, error) {
	return s.Requests.ListPendingForCategory(categoryID, s.Now())
}

// Stats powers the ops dashboard counters.
func (s *RequestRegistry) Stats() (map[string]int, error) {
	return s.Requests.CountByStatus()
}
