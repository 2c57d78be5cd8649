package services_test

import (
	"testing"
	"time"

	"fixmarket/internal/domain"
)

func TestSweepExpiresRequestAndCascades(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")
	o1 := e.mustSubmitOffer(t, req.ID, "prov-1", 100)
	o2 := e.mustSubmitOffer(t, req.ID, "prov-2", 90)

	e.clock.Advance(testRequestTTL + time.Minute)

	reqs, offers, err := e.expiry.SweepOnce()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reqs != 1 {
		t.Fatalf("expired requests = %d, want 1", reqs)
	}
	// The offers went down with the request cascade, not as separate sweeps.
	if offers != 0 {
		t.Fatalf("separately expired offers = %d, want 0", offers)
	}

	r, err := e.registry.Get(req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if r.Status != domain.RequestExpired {
		t.Fatalf("request status = %s, want EXPIRED", r.Status)
	}
	for _, id := range []string{o1.ID, o2.ID} {
		o, err := e.book.Get(id)
		if err != nil {
			t.Fatalf("get offer: %v", err)
		}
		if o.Status != domain.OfferExpired {
			t.Fatalf("offer %s status = %s, want EXPIRED", id, o.Status)
		}
	}

	// A second sweep finds nothing left to do and emits nothing new.
	before := e.notify.count(domain.EventRequestStatusChanged, req.ID)
	reqs, offers, err = e.expiry.SweepOnce()
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if reqs != 0 || offers != 0 {
		t.Fatalf("second sweep expired %d/%d, want 0/0", reqs, offers)
	}
	if after := e.notify.count(domain.EventRequestStatusChanged, req.ID); after != before {
		t.Fatalf("second sweep emitted %d extra events", after-before)
	}
}

func TestSweepExpiresOffersOnly(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")
	offer := e.mustSubmitOffer(t, req.ID, "prov-1", 100)

	e.clock.Advance(testOfferTTL + time.Minute)

	reqs, offers, err := e.expiry.SweepOnce()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reqs != 0 || offers != 1 {
		t.Fatalf("sweep expired %d/%d, want 0 requests and 1 offer", reqs, offers)
	}

	o, err := e.book.Get(offer.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if o.Status != domain.OfferExpired {
		t.Fatalf("offer status = %s, want EXPIRED", o.Status)
	}
	r, err := e.registry.Get(req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if r.Status != domain.RequestPending {
		t.Fatalf("request status = %s, want PENDING", r.Status)
	}
}

func TestSweepSkipsAcceptedRequests(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")
	offer := e.mustSubmitOffer(t, req.ID, "prov-1", 100)
	if _, err := e.arbiter.Accept(req.ID, offer.ID, "cust-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	e.clock.Advance(testRequestTTL + time.Minute)

	reqs, _, err := e.expiry.SweepOnce()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reqs != 0 {
		t.Fatalf("sweep expired %d accepted requests", reqs)
	}
	r, err := e.registry.Get(req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if r.Status != domain.RequestAccepted {
		t.Fatalf("request status = %s, want ACCEPTED", r.Status)
	}
}

// Reading an overdue request expires it without waiting for the sweep.
func TestGetExpiresLazily(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")

	e.clock.Advance(testRequestTTL + time.Minute)

	got, err := e.registry.Get(req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.RequestExpired {
		t.Fatalf("status = %s, want EXPIRED", got.Status)
	}
	if n := e.notify.count(domain.EventRequestStatusChanged, req.ID); n != 1 {
		t.Fatalf("request events = %d, want 1", n)
	}
}
