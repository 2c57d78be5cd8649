package services

import (
	"context"
	"time"

	"fixmarket/internal/domain"
	applog "fixmarket/internal/log"
	"fixmarket/internal/repos"
)

// ExpiryScheduler sweeps Pending entities past their TTL. Every transition
// uses the same compare-and-set as the arbiter, so a race between accept and
// expire always resolves to exactly one winner; the losing sweep is a silent
// no-op. The same methods back the lazy check-on-read paths.
type ExpiryScheduler struct {
	Requests *repos.RequestRepo
	Offers   *repos.OfferRepo
	Notify   Notifier
	Locks    *KeyedLocks
	Interval time.Duration
	Now      func() time.Time
}

func NewExpiryScheduler(requests *repos.RequestRepo, offers *repos.OfferRepo, n Notifier, locks *KeyedLocks, interval time.Duration) *ExpiryScheduler {
	return &ExpiryScheduler{
		Requests: requests,
		Offers:   offers,
		Notify:   n,
		Locks:    locks,
		Interval: interval,
		Now:      time.Now,
	}
}

// Run sweeps until the context is cancelled.
func (s *ExpiryScheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, _, err := s.SweepOnce(); err != nil {
				applog.Error(nil, "expiry.sweep", err, nil)
			}
		}
	}
}

// SweepOnce expires everything due at this instant. Idempotent: entities
// already expired (or raced away from Pending) are skipped.
func (s *ExpiryScheduler) SweepOnce() (requests, offers int, err error) {
	now := s.Now()

	reqIDs, err := s.Requests.DueExpiry(now)
	if err != nil {
		return 0, 0, err
	}
	for _, id := range reqIDs {
		ok, eErr := s.ExpireRequest(id)
		if eErr != nil {
			return requests, offers, eErr
		}
		if ok {
			requests++
		}
	}

	offerIDs, err := s.Offers.DueExpiry(now)
	if err != nil {
		return requests, 0, err
	}
	for _, id := range offerIDs {
		ok, eErr := s.ExpireOffer(id)
		if eErr != nil {
			return requests, offers, eErr
		}
		if ok {
			offers++
		}
	}
	return requests, offers, nil
}

// ExpireRequest moves a Pending request to Expired and cascades its Pending
// offers to Expired in the same transaction.
func (s *ExpiryScheduler) ExpireRequest(id string) (bool, error) {
	unlock := s.Locks.Lock(id)
	defer unlock()

	req, err := s.Requests.Get(id)
	if err != nil {
		if domain.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	tx, err := s.Requests.DB().Beginx()
	if err != nil {
		return false, domain.Transient("expiry.begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	reqVer, won, err := s.Requests.Transition(tx, id, []domain.RequestStatus{domain.RequestPending}, domain.RequestExpired)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	sibs, err := s.Offers.PendingSiblings(tx, id, "")
	if err != nil {
		return false, err
	}
	type expired struct {
		id, provider string
		version      int64
	}
	var cascaded []expired
	for _, sib := range sibs {
		ver, ok, err := s.Offers.Transition(tx, sib.ID, []domain.OfferStatus{domain.OfferPending}, domain.OfferExpired)
		if err != nil {
			return false, err
		}
		if ok {
			cascaded = append(cascaded, expired{id: sib.ID, provider: sib.ProviderID, version: ver})
		}
	}
	if err := tx.Commit(); err != nil {
		return false, domain.Transient("expiry.commit", err)
	}

	at := s.Now()
	publishAll(s.Notify, []string{
		domain.ChannelCategory(req.CategoryID),
		domain.ChannelRequest(id),
		domain.ChannelUser(req.CustomerID),
	}, event(domain.EventRequestStatusChanged, id, string(domain.RequestExpired), reqVer, at))
	for _, c := range cascaded {
		publishAll(s.Notify, []string{
			domain.ChannelRequest(id),
			domain.ChannelUser(c.provider),
		}, event(domain.EventOfferStatusChanged, c.id, string(domain.OfferExpired), c.version, at))
	}
	return true, nil
}

// ExpireOffer expires a single Pending offer past its own TTL. The parent
// request is deliberately untouched; it runs out on its own clock.
func (s *ExpiryScheduler) ExpireOffer(id string) (bool, error) {
	off, err := s.Offers.Get(id)
	if err != nil {
		if domain.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	ver, won, err := s.Offers.Transition(s.Offers.DB(), id, []domain.OfferStatus{domain.OfferPending}, domain.OfferExpired)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	publishAll(s.Notify, []string{
		domain.ChannelRequest(off.RequestID),
		domain.ChannelUser(off.ProviderID),
	}, event(domain.EventOfferStatusChanged, id, string(domain.OfferExpired), ver, s.Now()))
	return true, nil
}
