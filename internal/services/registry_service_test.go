package services_test

import (
	"testing"
	"time"

	"fixmarket/internal/domain"
	"fixmarket/internal/services"
)

func TestCreateRequestRoundTrip(t *testing.T) {
	e := newEngine(t)

	req, err := e.registry.Create(services.CreateRequestInput{
		CustomerID:  "cust-1",
		CategoryID:  "plumbing",
		ServiceIDs:  []string{"svc-leak", "svc-pipe"},
		Description: "burst pipe under the sink",
		Location:    "12 Elm St",
		ImageRefs:   []string{"img-1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.ID == "" {
		t.Fatal("expected a generated id")
	}
	if req.Status != domain.RequestPending {
		t.Fatalf("status = %s, want PENDING", req.Status)
	}
	if req.Version != 1 {
		t.Fatalf("version = %d, want 1", req.Version)
	}
	if want := req.CreatedAt.Add(testRequestTTL); !req.ExpiresAt.Equal(want) {
		t.Fatalf("expiresAt = %v, want %v", req.ExpiresAt, want)
	}

	got, err := e.registry.Get(req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Description != req.Description || got.Location != req.Location {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.ServiceIDs) != 2 || got.ServiceIDs[0] != "svc-leak" {
		t.Fatalf("service ids = %v", got.ServiceIDs)
	}
	if len(got.ImageRefs) != 1 || got.ImageRefs[0] != "img-1" {
		t.Fatalf("image refs = %v", got.ImageRefs)
	}

	if n := e.notify.count(domain.EventRequestCreated, req.ID); n == 0 {
		t.Fatal("expected a request_created event")
	}
}

func TestCreateRequestValidation(t *testing.T) {
	e := newEngine(t)

	_, err := e.registry.Create(services.CreateRequestInput{
		CustomerID: "cust-1",
		CategoryID: "plumbing",
	})
	if !domain.IsValidation(err) {
		t.Fatalf("empty service ids: err = %v, want validation error", err)
	}

	_, err = e.registry.Create(services.CreateRequestInput{
		CategoryID: "plumbing",
		ServiceIDs: []string{"svc-leak"},
	})
	if !domain.IsValidation(err) {
		t.Fatalf("missing customer: err = %v, want validation error", err)
	}
}

func TestOneActiveRequestPerCustomer(t *testing.T) {
	e := newEngine(t)

	first := e.mustCreateRequest(t, "cust-1")

	_, err := e.registry.Create(services.CreateRequestInput{
		CustomerID:  "cust-1",
		CategoryID:  "electrical",
		ServiceIDs:  []string{"svc-outlet"},
		Description: "second posting",
	})
	if !domain.IsConflict(err) {
		t.Fatalf("second active request: err = %v, want conflict", err)
	}

	// A different customer is unaffected.
	e.mustCreateRequest(t, "cust-2")

	// After cancelling, the same customer may post again.
	if _, err := e.registry.Cancel(first.ID, "cust-1", "changed my mind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	e.mustCreateRequest(t, "cust-1")
}

func TestCancelCascadesOpenOffers(t *testing.T) {
	e := newEngine(t)

	req := e.mustCreateRequest(t, "cust-1")
	o1 := e.mustSubmitOffer(t, req.ID, "prov-1", 120)
	o2 := e.mustSubmitOffer(t, req.ID, "prov-2", 95)

	got, err := e.registry.Cancel(req.ID, "cust-1", "found someone offline")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != domain.RequestCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
	if got.CancelReason != "found someone offline" {
		t.Fatalf("cancel reason = %q", got.CancelReason)
	}

	for _, id := range []string{o1.ID, o2.ID} {
		o, err := e.book.Get(id)
		if err != nil {
			t.Fatalf("get offer: %v", err)
		}
		if o.Status != domain.OfferRejected {
			t.Fatalf("offer %s status = %s, want REJECTED", id, o.Status)
		}
	}
	if n := e.notify.count(domain.EventOfferStatusChanged, o1.ID); n != 1 {
		t.Fatalf("offer events for %s = %d, want 1", o1.ID, n)
	}
}

func TestCancelAuthorization(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")

	if _, err := e.registry.Cancel(req.ID, "cust-2", "not mine"); !domain.IsAuthorization(err) {
		t.Fatalf("foreign cancel: err = %v, want authorization error", err)
	}
}

func TestCancelRejectedOnceWorkStarted(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")
	offer := e.mustSubmitOffer(t, req.ID, "prov-1", 80)

	if _, err := e.arbiter.Accept(req.ID, offer.ID, "cust-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := e.workflow.Advance(req.ID, offer.ID, "prov-1", domain.OfferInProgress); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if _, err := e.registry.Cancel(req.ID, "cust-1", "too late"); !domain.IsConflict(err) {
		t.Fatalf("cancel after start: err = %v, want conflict", err)
	}
}

func TestCancelWhileAcceptedRejectsWinner(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")
	offer := e.mustSubmitOffer(t, req.ID, "prov-1", 80)

	if _, err := e.arbiter.Accept(req.ID, offer.ID, "cust-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := e.registry.Cancel(req.ID, "cust-1", "plans changed"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	o, err := e.book.Get(offer.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if o.Status != domain.OfferRejected {
		t.Fatalf("winner status = %s, want REJECTED", o.Status)
	}
}

func TestActiveForCustomer(t *testing.T) {
	e := newEngine(t)

	if _, err := e.registry.ActiveForCustomer("cust-1"); !domain.IsNotFound(err) {
		t.Fatalf("no active request: err = %v, want not found", err)
	}

	req := e.mustCreateRequest(t, "cust-1")
	got, err := e.registry.ActiveForCustomer("cust-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got.ID != req.ID {
		t.Fatalf("active id = %s, want %s", got.ID, req.ID)
	}
}

func TestListPendingForCategoryFiltersExpired(t *testing.T) {
	e := newEngine(t)

	req := e.mustCreateRequest(t, "cust-1")
	if _, err := e.registry.Create(services.CreateRequestInput{
		CustomerID:  "cust-2",
		CategoryID:  "electrical",
		ServiceIDs:  []string{"svc-outlet"},
		Description: "dead outlet",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := e.registry.ListPendingForCategory("plumbing")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != req.ID {
		t.Fatalf("plumbing feed = %v, want just %s", list, req.ID)
	}

	e.clock.Advance(testRequestTTL + time.Minute)
	list, err = e.registry.ListPendingForCategory("plumbing")
	if err != nil {
		t.Fatalf("list after ttl: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("stale feed rows = %d, want 0", len(list))
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	e := newEngine(t)
	req := e.mustCreateRequest(t, "cust-1")
	e.mustCreateRequest(t, "cust-2")
	if _, err := e.registry.Cancel(req.ID, "cust-1", "nevermind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stats, err := e.registry.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["PENDING"] != 1 || stats["CANCELLED"] != 1 {
		t.Fatalf("stats = %v", stats)
	}
}
