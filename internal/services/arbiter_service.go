package services

import (
	"time"

	"fixmarket/internal/domain"
	"fixmarket/internal/repos"
)

// AcceptanceArbiter is the linearization point of the engine: at most one
// offer per request ever reaches Accepted. Acceptance takes the per-request
// lock, re-validates inside it, and commits offer + request + sibling
// cascade as one SQL transaction. Events go out only after commit.
type AcceptanceArbiter struct {
	Requests *repos.RequestRepo
	Offers   *repos.OfferRepo
	Notify   Notifier
	Expiry   *ExpiryScheduler
	Locks    *KeyedLocks
	Now      func() time.Time
}

func NewAcceptanceArbiter(requests *repos.RequestRepo, offers *repos.OfferRepo, n Notifier, expiry *ExpiryScheduler, locks *KeyedLocks) *AcceptanceArbiter {
	return &AcceptanceArbiter{
		Requests: requests,
		Offers:   offers,
		Notify:   n,
		Expiry:   expiry,
		Locks:    locks,
		Now:      time.Now,
	}
}

func (a *AcceptanceArbiter) Accept(requestID, offerID, customerID string) (domain.ServiceOffer, error) {
	req, err := a.Requests.Get(requestID)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	if req.CustomerID != customerID {
		return domain.ServiceOffer{}, domain.Unauthorized("only the request owner may accept an offer")
	}

	unlock := a.Locks.Lock(requestID)
	defer unlock()

	// Re-validate inside the critical section; everything read before the
	// lock may have raced away.
	req, err = a.Requests.Get(requestID)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	offer, err := a.Offers.Get(offerID)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	if offer.RequestID != requestID {
		return domain.ServiceOffer{}, domain.Conflict("offer %s does not belong to request %s", offerID, requestID)
	}

	// Retried accept of the already-chosen winner is a success, not a
	// duplicate cascade.
	if req.Status != domain.RequestPending {
		switch offer.Status {
		case domain.OfferAccepted, domain.OfferInProgress, domain.OfferCompleted:
			return offer, nil
		}
		return domain.ServiceOffer{}, domain.Conflict("request %s is no longer available", requestID)
	}

	now := a.Now()
	if req.ExpiredBy(now) {
		return domain.ServiceOffer{}, a.expirePendingRequestLocked(req)
	}
	if offer.ExpiredBy(now) {
		if _, err := a.Expiry.ExpireOffer(offerID); err != nil {
			return domain.ServiceOffer{}, err
		}
		return domain.ServiceOffer{}, domain.Conflict("offer %s has expired", offerID)
	}
	if offer.Status != domain.OfferPending {
		return domain.ServiceOffer{}, domain.Conflict("offer %s is no longer available", offerID)
	}

	tx, err := a.Requests.DB().Beginx()
	if err != nil {
		return domain.ServiceOffer{}, domain.Transient("accept.begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	offerVer, won, err := a.Offers.Transition(tx, offerID, []domain.OfferStatus{domain.OfferPending}, domain.OfferAccepted)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	if !won {
		return domain.ServiceOffer{}, domain.Conflict("offer %s is no longer available", offerID)
	}
	reqVer, won, err := a.Requests.Transition(tx, requestID, []domain.RequestStatus{domain.RequestPending}, domain.RequestAccepted)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	if !won {
		return domain.ServiceOffer{}, domain.Conflict("request %s is no longer available", requestID)
	}

	sibs, err := a.Offers.PendingSiblings(tx, requestID, offerID)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	type rejected struct {
		id, provider string
		version      int64
	}
	var losers []rejected
	for _, sib := range sibs {
		ver, ok, err := a.Offers.Transition(tx, sib.ID, []domain.OfferStatus{domain.OfferPending}, domain.OfferRejected)
		if err != nil {
			return domain.ServiceOffer{}, err
		}
		if ok {
			losers = append(losers, rejected{id: sib.ID, provider: sib.ProviderID, version: ver})
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.ServiceOffer{}, domain.Transient("accept.commit", err)
	}

	// Emission strictly after commit; delivery failure never rolls back.
	at := a.Now()
	publishAll(a.Notify, []string{
		domain.ChannelRequest(requestID),
		domain.ChannelUser(offer.ProviderID),
		domain.ChannelUser(customerID),
	}, event(domain.EventOfferStatusChanged, offerID, string(domain.OfferAccepted), offerVer, at))
	publishAll(a.Notify, []string{
		domain.ChannelCategory(req.CategoryID),
		domain.ChannelRequest(requestID),
		domain.ChannelUser(customerID),
	}, event(domain.EventRequestStatusChanged, requestID, string(domain.RequestAccepted), reqVer, at))
	for _, l := range losers {
		publishAll(a.Notify, []string{
			domain.ChannelRequest(requestID),
			domain.ChannelUser(l.provider),
		}, event(domain.EventOfferStatusChanged, l.id, string(domain.OfferRejected), l.version, at))
	}

	return a.Offers.Get(offerID)
}

// expirePendingRequestLocked expires a request discovered stale inside the
// acceptance critical section, then reports the conflict to the caller.
func (a *AcceptanceArbiter) expirePendingRequestLocked(req domain.ServiceRequest) error {
	tx, err := a.Requests.DB().Beginx()
	if err != nil {
		return domain.Transient("accept.expire.begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	ver, won, err := a.Requests.Transition(tx, req.ID, []domain.RequestStatus{domain.RequestPending}, domain.RequestExpired)
	if err != nil {
		return err
	}
	if won {
		sibs, err := a.Offers.PendingSiblings(tx, req.ID, "")
		if err != nil {
			return err
		}
		for _, sib := range sibs {
			if _, _, err := a.Offers.Transition(tx, sib.ID, []domain.OfferStatus{domain.OfferPending}, domain.OfferExpired); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return domain.Transient("accept.expire.commit", err)
		}
		publishAll(a.Notify, []string{
			domain.ChannelCategory(req.CategoryID),
			domain.ChannelRequest(req.ID),
			domain.ChannelUser(req.CustomerID),
		}, event(domain.EventRequestStatusChanged, req.ID, string(domain.RequestExpired), ver, a.Now()))
	}
	return domain.Conflict("request %s has expired", req.ID)
}

// Reject turns down one offer without choosing a winner. Per-offer critical
// section only: a single conditional update, the request stays Pending.
func (a *AcceptanceArbiter) Reject(requestID, offerID, customerID string) (domain.ServiceOffer, error) {
	req, err := a.Requests.Get(requestID)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	if req.CustomerID != customerID {
		return domain.ServiceOffer{}, domain.Unauthorized("only the request owner may reject an offer")
	}
	offer, err := a.Offers.Get(offerID)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	if offer.RequestID != requestID {
		return domain.ServiceOffer{}, domain.Conflict("offer %s does not belong to request %s", offerID, requestID)
	}

	ver, won, err := a.Offers.Transition(a.Offers.DB(), offerID, []domain.OfferStatus{domain.OfferPending}, domain.OfferRejected)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	if !won {
		return domain.ServiceOffer{}, domain.Conflict("offer %s is no longer pending", offerID)
	}

	publishAll(a.Notify, []string{
		domain.ChannelRequest(requestID),
		domain.ChannelUser(offer.ProviderID),
		domain.ChannelUser(customerID),
	}, event(domain.EventOfferStatusChanged, offerID, string(domain.OfferRejected), ver, a.Now()))

	return a.Offers.Get(offerID)
}
