package domain

import "time"

type RequestStatus string

const (
	RequestPending    RequestStatus = "PENDING"
	RequestAccepted   RequestStatus = "ACCEPTED"
	RequestInProgress RequestStatus = "IN_PROGRESS"
	RequestCompleted  RequestStatus = "COMPLETED"
	RequestCancelled  RequestStatus = "CANCELLED"
	RequestExpired    RequestStatus = "EXPIRED"
)

// ServiceRequest is a customer's posting that providers bid on.
// ImageRefs and Location are opaque collaborator outputs stored verbatim.
type ServiceRequest struct {
	ID           string        `json:"id"`
	CustomerID   string        `json:"customer_id"`
	CategoryID   string        `json:"category_id"`
	ServiceIDs   []string      `json:"service_ids"`
	Description  string        `json:"description"`
	ImageRefs    []string      `json:"image_refs,omitempty"`
	Location     string        `json:"location,omitempty"`
	Status       RequestStatus `json:"status"`
	CancelReason string        `json:"cancel_reason,omitempty"`
	Version      int64         `json:"version"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// Terminal reports whether the request can never change status again.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestCompleted, RequestCancelled, RequestExpired:
		return true
	}
	return false
}

// Active statuses block the customer from opening another request.
func (s RequestStatus) Active() bool {
	switch s {
	case RequestPending, RequestAccepted, RequestInProgress:
		return true
	}
	return false
}

func (r ServiceRequest) ExpiredBy(now time.Time) bool {
	return r.Status == RequestPending && !r.ExpiresAt.After(now)
}
