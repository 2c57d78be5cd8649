package services

import (
	"time"

	"github.com/google/uuid"

	"fixmarket/internal/domain"
	"fixmarket/internal/repos"
)

// OfferBook owns offer creation and reads for a request. Per-provider
// uniqueness is enforced by the partial unique index, so concurrent duplicate
// submits from one provider cannot both land.
type OfferBook struct {
	Requests *repos.RequestRepo
	Offers   *repos.OfferRepo
	Notify   Notifier
	Expiry   *ExpiryScheduler
	TTL      time.Duration
	Now      func() time.Time
}

func NewOfferBook(requests *repos.RequestRepo, offers *repos.OfferRepo, n Notifier, expiry *ExpiryScheduler, ttl time.Duration) *OfferBook {
	return &OfferBook{
		Requests: requests,
		Offers:   offers,
		Notify:   n,
		Expiry:   expiry,
		TTL:      ttl,
		Now:      time.Now,
	}
}

func (s *OfferBook) Submit(requestID, providerID string, price float64) (domain.ServiceOffer, error) {
	if price <= 0 {
		return domain.ServiceOffer{}, domain.Invalid("price", "must be greater than zero")
	}
	if providerID == "" {
		return domain.ServiceOffer{}, domain.Invalid("provider_id", "required")
	}

	req, err := s.Requests.Get(requestID)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	now := s.Now()
	if req.ExpiredBy(now) {
		if _, err := s.Expiry.ExpireRequest(requestID); err != nil {
			return domain.ServiceOffer{}, err
		}
		return domain.ServiceOffer{}, domain.Conflict("request %s has expired", requestID)
	}
	if req.Status != domain.RequestPending {
		return domain.ServiceOffer{}, domain.Conflict("request %s is not open for offers", requestID)
	}
	if req.CustomerID == providerID {
		return domain.ServiceOffer{}, domain.Conflict("cannot bid on your own request")
	}

	offer := domain.ServiceOffer{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		ProviderID: providerID,
		Price:      price,
		Status:     domain.OfferPending,
		Version:    1,
		SentAt:     now,
		ExpiresAt:  now.Add(s.TTL),
	}
	if err := s.Offers.Insert(offer); err != nil {
		return domain.ServiceOffer{}, err
	}

	publishAll(s.Notify, []string{
		domain.ChannelRequest(requestID),
		domain.ChannelUser(req.CustomerID),
		domain.ChannelUser(providerID),
	}, event(domain.EventOfferCreated, offer.ID, string(offer.Status), offer.Version, now))
	return offer, nil
}

// List returns the request's offers by sentAt ascending. Pending offers past
// their own TTL are expired lazily first, so callers never see a stale
// Pending row; the parent request is not touched.
func (s *OfferBook) List(requestID string) ([]domain.ServiceOffer, error) {
	if _, err := s.Requests.Get(requestID); err != nil {
		return nil, err
	}
	offers, err := s.Offers.ListByRequest(requestID)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	stale := false
	for _, o := range offers {
		if o.ExpiredBy(now) {
			if _, err := s.Expiry.ExpireOffer(o.ID); err != nil {
				return nil, err
			}
			stale = true
		}
	}
	if stale {
		return s.Offers.ListByRequest(requestID)
	}
	return offers, nil
}

func (s *OfferBook) Get(offerID string) (domain.ServiceOffer, error) {
	o, err := s.Offers.Get(offerID)
	if err != nil {
		return domain.ServiceOffer{}, err
	}
	if o.ExpiredBy(s.Now()) {
		if _, err := s.Expiry.ExpireOffer(o.ID); err != nil {
			return domain.ServiceOffer{}, err
		}
		return s.Offers.Get(offerID)
	}
	return o, nil
}

// ListByProvider is the provider-side offer history.
func (s *OfferBook) ListByProvider(providerID string) ([]domain.ServiceOffer, error) {
	return s.Offers.ListByProvider(providerID)
}
