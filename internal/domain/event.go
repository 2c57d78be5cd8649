package domain

import "time"

type EventType string

const (
	EventRequestCreated       EventType = "request_created"
	EventRequestStatusChanged EventType = "request_status_changed"
	EventOfferCreated         EventType = "offer_created"
	EventOfferStatusChanged   EventType = "offer_status_changed"
	EventPaymentStatusChanged EventType = "payment_status_changed"
)

// Event is the wire form pushed over the realtime channels. Delivery is
// at-most-once; consumers must apply an event only when Version is strictly
// newer than their cached copy of the entity and reconcile via the query
// API otherwise.
type Event struct {
	Type      EventType `json:"type"`
	EntityID  string    `json:"entity_id"`
	NewStatus string    `json:"new_status,omitempty"`
	Version   int64     `json:"version"`
	At        time.Time `json:"at"`
}

// Channel names. Providers watch their category, both parties watch the
// request thread, and each user has a private feed.
func ChannelCategory(categoryID string) string { return "category:" + categoryID }
func ChannelRequest(requestID string) string   { return "request:" + requestID }
func ChannelUser(userID string) string         { return "user:" + userID }
