package handlers

import (
	"github.com/jmoiron/sqlx"

	"fixmarket/internal/config"
	"fixmarket/internal/notify"
	"fixmarket/internal/repos"
	"fixmarket/internal/services"
)

type Deps struct {
	RequestHandler  *RequestHandler
	OfferHandler    *OfferHandler
	WorkflowHandler *WorkflowHandler
	WSHandler       *WSHandler

	Expiry *services.ExpiryScheduler
	Hub    *notify.Hub
}

func NewDeps(db *sqlx.DB, cfg config.Config) *Deps {
	reqRepo := repos.NewRequestRepo(db)
	offerRepo := repos.NewOfferRepo(db)
	idemRepo := repos.NewIdempotencyRepo(db)

	hub := notify.NewHub()
	locks := services.NewKeyedLocks()

	expiry := services.NewExpiryScheduler(reqRepo, offerRepo, hub, locks, cfg.SweepInterval)
	registry := services.NewRequestRegistry(reqRepo, offerRepo, hub, expiry, locks, cfg.RequestTTL)
	book := services.NewOfferBook(reqRepo, offerRepo, hub, expiry, cfg.OfferTTL)
	arbiter := services.NewAcceptanceArbiter(reqRepo, offerRepo, hub, expiry, locks)
	workflow := services.NewWorkflowStateMachine(reqRepo, offerRepo, hub, locks)
	guard := services.NewIdempotencyGuard(idemRepo)

	return &Deps{
		RequestHandler:  &RequestHandler{Registry: registry, Guard: guard},
		OfferHandler:    &OfferHandler{Book: book, Arbiter: arbiter, Guard: guard},
		WorkflowHandler: &WorkflowHandler{Workflow: workflow, Book: book, Guard: guard},
		WSHandler:       &WSHandler{Hub: hub},
		Expiry:          expiry,
		Hub:             hub,
	}
}
