package services_test

import (
	"testing"
	"time"

	"fixmarket/internal/domain"
	"fixmarket/internal/repos"
)

func TestSubmitOffer(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")

	offer, err := e.book.Submit(req.ID, "prov-1", 149.50)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if offer.Status != domain.OfferPending {
		t.Fatalf("status = %s, want PENDING", offer.Status)
	}
	if offer.Version != 1 {
		t.Fatalf("version = %d, want 1", offer.Version)
	}
	if want := offer.SentAt.Add(testOfferTTL); !offer.ExpiresAt.Equal(want) {
		t.Fatalf("expiresAt = %v, want %v", offer.ExpiresAt, want)
	}
	if n := e.notify.count(domain.EventOfferCreated, offer.ID); n == 0 {
		t.Fatal("expected an offer_created event")
	}
}

func TestSubmitValidation(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")

	if _, err := e.book.Submit(req.ID, "prov-1", 0); !domain.IsValidation(err) {
		t.Fatalf("zero price: err = %v, want validation error", err)
	}
	if _, err := e.book.Submit(req.ID, "prov-1", -5); !domain.IsValidation(err) {
		t.Fatalf("negative price: err = %v, want validation error", err)
	}
	if _, err := e.book.Submit("missing", "prov-1", 10); !domain.IsNotFound(err) {
		t.Fatalf("unknown request: err = %v, want not found", err)
	}
}

func TestSubmitOwnRequest(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")

	if _, err := e.book.Submit(req.ID, "cust-1", 50); !domain.IsConflict(err) {
		t.Fatalf("self bid: err = %v, want conflict", err)
	}
}

func TestSubmitDuplicateProvider(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")

	e.mustSubmitOffer(t, req.ID, "prov-1", 100)
	if _, err := e.book.Submit(req.ID, "prov-1", 90); !domain.IsConflict(err) {
		t.Fatalf("duplicate open offer: err = %v, want conflict", err)
	}

	// Other providers are unaffected.
	e.mustSubmitOffer(t, req.ID, "prov-2", 85)
}

func TestSubmitAfterRejectionAllowed(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")
	offer := e.mustSubmitOffer(t, req.ID, "prov-1", 100)

	if _, err := e.arbiter.Reject(req.ID, offer.ID, "cust-1"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	// The rejected offer no longer blocks a fresh one from the same provider.
	e.mustSubmitOffer(t, req.ID, "prov-1", 90)
}

func TestSubmitOnNonPendingRequest(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")
	offer := e.mustSubmitOffer(t, req.ID, "prov-1", 100)

	if _, err := e.arbiter.Accept(req.ID, offer.ID, "cust-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := e.book.Submit(req.ID, "prov-2", 60); !domain.IsConflict(err) {
		t.Fatalf("submit on accepted request: err = %v, want conflict", err)
	}
}

// A bid whose precondition read went stale — the acceptance committed after
// the submit path saw the request Pending — must still be refused at the
// store, so an accepted request never gains a Pending sibling.
func TestSubmitLosesRaceWithAccept(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")
	winner := e.mustSubmitOffer(t, req.ID, "prov-1", 100)

	// The late bid as Submit would have built it after its request read.
	now := e.clock.Now()
	late := domain.ServiceOffer{
		ID:         "offer-late",
		RequestID:  req.ID,
		ProviderID: "prov-2",
		Price:      80,
		Status:     domain.OfferPending,
		Version:    1,
		SentAt:     now,
		ExpiresAt:  now.Add(testOfferTTL),
	}

	// Acceptance commits between that read and the insert below.
	if _, err := e.arbiter.Accept(req.ID, winner.ID, "cust-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if err := repos.NewOfferRepo(e.db).Insert(late); !domain.IsConflict(err) {
		t.Fatalf("stale insert: err = %v, want conflict", err)
	}

	offers, err := e.book.List(req.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, o := range offers {
		if o.ID == late.ID {
			t.Fatal("stale bid landed on an accepted request")
		}
		if o.Status == domain.OfferPending {
			t.Fatalf("offer %s still PENDING on an accepted request", o.ID)
		}
	}
}

func TestListOffersOrderedBySentAt(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")

	first := e.mustSubmitOffer(t, req.ID, "prov-1", 100)
	e.clock.Advance(time.Second)
	second := e.mustSubmitOffer(t, req.ID, "prov-2", 80)
	e.clock.Advance(time.Second)
	third := e.mustSubmitOffer(t, req.ID, "prov-3", 120)

	list, err := e.book.List(req.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i, want := range []string{first.ID, second.ID, third.ID} {
		if list[i].ID != want {
			t.Fatalf("list[%d] = %s, want %s", i, list[i].ID, want)
		}
	}
}

func TestListLazilyExpiresStaleOffers(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")
	offer := e.mustSubmitOffer(t, req.ID, "prov-1", 100)

	e.clock.Advance(testOfferTTL + time.Minute)

	list, err := e.book.List(req.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Status != domain.OfferExpired {
		t.Fatalf("list = %+v, want one EXPIRED offer", list)
	}
	if n := e.notify.count(domain.EventOfferStatusChanged, offer.ID); n != 1 {
		t.Fatalf("offer events = %d, want 1", n)
	}

	// Offer expiry never expires the request.
	got, err := e.registry.Get(req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != domain.RequestPending {
		t.Fatalf("request status = %s, want PENDING", got.Status)
	}
}

func TestListByProvider(t *testing.T) {
	e := newEngine(t)
	r1 := e.mustCreateRequest(t, "cust-1")
	r2 := e.mustCreateRequest(t, "cust-2")

	e.mustSubmitOffer(t, r1.ID, "prov-1", 100)
	e.mustSubmitOffer(t, r2.ID, "prov-1", 70)
	e.mustSubmitOffer(t, r2.ID, "prov-2", 65)

	mine, err := e.book.ListByProvider("prov-1")
	if err != nil {
		t.Fatalf("list by provider: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("len = %d, want 2", len(mine))
	}
	for _, o := range mine {
		if o.ProviderID != "prov-1" {
			t.Fatalf("foreign offer in provider list: %+v", o)
		}
	}
}
