package services

import (
	"time"

	"fixmarket/internal/domain"
	"fixmarket/internal/repos"
)

// WorkflowStateMachine drives an accepted pair forward:
// Accepted -> In_Progress -> Completed -> payment resolution. Stages move
// one step at a time and only the assigned provider drives them. The offer
// row is written first; the request mirror is retried with backoff because
// the two writes are not assumed transactional against the store.
type WorkflowStateMachine struct {
	Requests *repos.RequestRepo
	Offers   *repos.OfferRepo
	Notify   Notifier
	Locks    *KeyedLocks
	Now      func() time.Time

	// mirror retry knobs, overridable in tests
	MirrorAttempts int
	MirrorBackoff  time.Duration
}

func NewWorkflowStateMachine(requests *repos.RequestRepo, offers *repos.OfferRepo, n Notifier, locks *KeyedLocks) *WorkflowStateMachine {
	return &WorkflowStateMachine{
		Requests:       requests,
		Offers:         offers,
		Notify:         n,
		Locks:          locks,
		Now:            time.Now,
		MirrorAttempts: 3,
		MirrorBackoff:  25 * time.Millisecond,
	}
}

func (s *WorkflowStateMachine) Advance(requestID, offerID, actorID string, target domain.OfferStatus) (domain.ServiceOffer, error) {
	offer, err := s.Offers.Get(offerID)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	if offer.RequestID != requestID {
		return domain.ServiceOffer{}, domain.Conflict("offer %s does not belong to request %s", offerID, requestID)
	}
	if offer.ProviderID != actorID {
		return domain.ServiceOffer{}, domain.Unauthorized("only the assigned provider may advance the work")
	}
	if !domain.NextStage(offer.Status, target) {
		return domain.ServiceOffer{}, domain.Conflict("cannot advance offer %s from %s to %s", offerID, offer.Status, target)
	}

	unlock := s.Locks.Lock(requestID)
	defer unlock()

	from := offer.Status
	offerVer, won, err := s.Offers.Transition(s.Offers.DB(), offerID, []domain.OfferStatus{from}, target)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	if !won {
		return domain.ServiceOffer{}, domain.Conflict("offer %s moved on; refresh and retry", offerID)
	}

	// The offer transition is committed; its event goes out even if the
	// request mirror below fails.
	publishAll(s.Notify, []string{
		domain.ChannelRequest(requestID),
		domain.ChannelUser(offer.ProviderID),
	}, event(domain.EventOfferStatusChanged, offerID, string(target), offerVer, s.Now()))

	reqVer, err := s.mirrorRequest(requestID, domain.RequestStatusFor(from), domain.RequestStatusFor(target))
	if err != nil {
		return domain.ServiceOffer{}, err
	}

	if req, rErr := s.Requests.Get(requestID); rErr == nil {
		publishAll(s.Notify, []string{
			domain.ChannelRequest(requestID),
			domain.ChannelUser(req.CustomerID),
		}, event(domain.EventRequestStatusChanged, requestID, string(domain.RequestStatusFor(target)), reqVer, s.Now()))
	}

	return s.Offers.Get(offerID)
}

// mirrorRequest keeps request.status in lockstep with the offer stage.
// Transient store failures are retried; a lost compare-and-set means the
// request left the workflow underneath us (e.g. cancelled), which the
// per-request lock prevents for in-flight advances.
func (s *WorkflowStateMachine) mirrorRequest(requestID string, from, to domain.RequestStatus) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < s.MirrorAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * s.MirrorBackoff)
		}
		ver, won, err := s.Requests.Transition(s.Requests.DB(), requestID, []domain.RequestStatus{from}, to)
		if err != nil {
			lastErr = err
			continue
		}
		if !won {
			return 0, domain.Conflict("request %s left stage %s", requestID, from)
		}
		return ver, nil
	}
	return 0, lastErr
}

// ConfirmPayment marks the completed work paid. Either party may confirm;
// confirmation is terminal and single-shot.
func (s *WorkflowStateMachine) ConfirmPayment(offerID, actorID string) (domain.ServiceOffer, error) {
	offer, req, err := s.loadPair(offerID)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	if actorID != offer.ProviderID && actorID != req.CustomerID {
		return domain.ServiceOffer{}, domain.Unauthorized("only the customer or provider may confirm payment")
	}
	if offer.Status != domain.OfferCompleted {
		return domain.ServiceOffer{}, domain.Conflict("offer %s is not completed", offerID)
	}
	if offer.PaymentStatus {
		return domain.ServiceOffer{}, domain.Conflict("payment for offer %s already confirmed", offerID)
	}

	ver, won, err := s.Offers.SetPayment(offerID, true, "")
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	if !won {
		return domain.ServiceOffer{}, domain.Conflict("payment for offer %s already resolved", offerID)
	}

	publishAll(s.Notify, []string{
		domain.ChannelRequest(offer.RequestID),
		domain.ChannelUser(offer.ProviderID),
		domain.ChannelUser(req.CustomerID),
	}, event(domain.EventPaymentStatusChanged, offerID, "CONFIRMED", ver, s.Now()))

	return s.Offers.Get(offerID)
}

// DisputePayment records a "not received" reason. It is informational: it
// does not lock out a later ConfirmPayment. Flagged for product review.
func (s *WorkflowStateMachine) DisputePayment(offerID, actorID, reason string) (domain.ServiceOffer, error) {
	if reason == "" {
		return domain.ServiceOffer{}, domain.Invalid("reason", "required")
	}
	offer, req, err := s.loadPair(offerID)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	if actorID != offer.ProviderID && actorID != req.CustomerID {
		return domain.ServiceOffer{}, domain.Unauthorized("only the customer or provider may dispute payment")
	}
	if offer.Status != domain.OfferCompleted {
		return domain.ServiceOffer{}, domain.Conflict("offer %s is not completed", offerID)
	}
	if offer.PaymentStatus {
		return domain.ServiceOffer{}, domain.Conflict("payment for offer %s already confirmed", offerID)
	}

	ver, won, err := s.Offers.SetPayment(offerID, false, reason)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	if !won {
		return domain.ServiceOffer{}, domain.Conflict("payment for offer %s already resolved", offerID)
	}

	publishAll(s.Notify, []string{
		domain.ChannelRequest(offer.RequestID),
		domain.ChannelUser(offer.ProviderID),
		domain.ChannelUser(req.CustomerID),
	}, event(domain.EventPaymentStatusChanged, offerID, "DISPUTED", ver, s.Now()))

	return s.Offers.Get(offerID)
}

func (s *WorkflowStateMachine) loadPair(offerID string) (domain.ServiceOffer, domain.ServiceRequest, error) {
	offer, err := s.Offers.Get(offerID)
	if err != nil {
		return domain.ServiceOffer{}, domain.ServiceRequest{}, err
	}
	req, err := s.Requests.Get(offer.RequestID)
	if err != nil {
		return domain.ServiceOffer{}, domain.ServiceRequest{}, err
	}
	return offer, req, nil
}
