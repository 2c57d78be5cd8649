package services_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"fixmarket/internal/domain"
	"fixmarket/internal/repos"
	"fixmarket/internal/services"
)

const (
	testRequestTTL = 24 * time.Hour
	testOfferTTL   = 2 * time.Hour
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recNotifier records published events for assertions.
type recNotifier struct {
	mu     sync.Mutex
	events []recorded
}

type recorded struct {
	Channel string
	Event   domain.Event
}

func (n *recNotifier) Publish(ch string, ev domain.Event) {
	n.mu.Lock()
	n.events = append(n.events, recorded{Channel: ch, Event: ev})
	n.mu.Unlock()
}

// count tallies distinct logical events (deduped by status+version) so the
// multi-channel fan-out in publishAll registers as one event per committed
// transition.
func (n *recNotifier) count(t domain.EventType, entityID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	seen := make(map[string]struct{})
	for _, r := range n.events {
		if r.Event.Type == t && r.Event.EntityID == entityID {
			seen[fmt.Sprintf("%s|%d", r.Event.NewStatus, r.Event.Version)] = struct{}{}
		}
	}
	return len(seen)
}

type engine struct {
	db       *sqlx.DB
	clock    *fakeClock
	notify   *recNotifier
	registry *services.RequestRegistry
	book     *services.OfferBook
	arbiter  *services.AcceptanceArbiter
	workflow *services.WorkflowStateMachine
	expiry   *services.ExpiryScheduler
	guard    *services.IdempotencyGuard
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	clock := &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	rec := &recNotifier{}

	reqRepo := repos.NewRequestRepo(db)
	offerRepo := repos.NewOfferRepo(db)
	locks := services.NewKeyedLocks()

	expiry := services.NewExpiryScheduler(reqRepo, offerRepo, rec, locks, time.Minute)
	expiry.Now = clock.Now
	registry := services.NewRequestRegistry(reqRepo, offerRepo, rec, expiry, locks, testRequestTTL)
	registry.Now = clock.Now
	book := services.NewOfferBook(reqRepo, offerRepo, rec, expiry, testOfferTTL)
	book.Now = clock.Now
	arbiter := services.NewAcceptanceArbiter(reqRepo, offerRepo, rec, expiry, locks)
	arbiter.Now = clock.Now
	workflow := services.NewWorkflowStateMachine(reqRepo, offerRepo, rec, locks)
	workflow.Now = clock.Now
	guard := services.NewIdempotencyGuard(repos.NewIdempotencyRepo(db))
	guard.Now = clock.Now

	return &engine{
		db:       db,
		clock:    clock,
		notify:   rec,
		registry: registry,
		book:     book,
		arbiter:  arbiter,
		workflow: workflow,
		expiry:   expiry,
		guard:    guard,
	}
}

func (e *engine) mustCreateRequest(t *testing.T, customerID string) domain.ServiceRequest {
	t.Helper()
	req, err := e.registry.Create(services.CreateRequestInput{
		CustomerID:  customerID,
		CategoryID:  "plumbing",
		ServiceIDs:  []string{"svc-leak"},
		Description: "kitchen sink leaking",
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func (e *engine) mustSubmitOffer(t *testing.T, requestID, providerID string, price float64) domain.ServiceOffer {
	t.Helper()
	o, err := e.book.Submit(requestID, providerID, price)
	if err != nil {
		t.Fatalf("submit offer: %v", err)
	}
	return o
}
