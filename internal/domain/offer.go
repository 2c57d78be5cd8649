package domain

import "time"

type OfferStatus string

const (
	OfferPending    OfferStatus = "PENDING"
	OfferAccepted   OfferStatus = "ACCEPTED"
	OfferRejected   OfferStatus = "REJECTED"
	OfferExpired    OfferStatus = "EXPIRED"
	OfferInProgress OfferStatus = "IN_PROGRESS"
	OfferCompleted  OfferStatus = "COMPLETED"
)

// ServiceOffer is a provider's priced bid on a request. ProviderID is
// immutable after creation; offers are never hard-deleted.
type ServiceOffer struct {
	ID            string      `json:"id"`
	RequestID     string      `json:"request_id"`
	ProviderID    string      `json:"provider_id"`
	Price         float64     `json:"price"`
	Status        OfferStatus `json:"status"`
	PaymentStatus bool        `json:"payment_status"`
	PaymentReason string      `json:"payment_reason,omitempty"`
	Version       int64       `json:"version"`
	SentAt        time.Time   `json:"sent_at"`
	ExpiresAt     time.Time   `json:"expires_at"`
}

func (s OfferStatus) Terminal() bool {
	switch s {
	case OfferRejected, OfferExpired, OfferCompleted:
		return true
	}
	return false
}

func (o ServiceOffer) ExpiredBy(now time.Time) bool {
	return o.Status == OfferPending && !o.ExpiresAt.After(now)
}

// stageRank orders the post-acceptance workflow. Only the immediate
// successor of the current stage is a legal Advance target.
var stageRank = map[OfferStatus]int{
	OfferAccepted:   0,
	OfferInProgress: 1,
	OfferCompleted:  2,
}

// NextStage reports whether target immediately follows current in the
// workflow. Unknown statuses (Pending, Rejected, Expired) are never stages.
func NextStage(current, target OfferStatus) bool {
	cr, ok := stageRank[current]
	if !ok {
		return false
	}
	tr, ok := stageRank[target]
	if !ok {
		return false
	}
	return tr == cr+1
}

// RequestStatusFor mirrors a workflow stage onto the parent request.
func RequestStatusFor(stage OfferStatus) RequestStatus {
	switch stage {
	case OfferAccepted:
		return RequestAccepted
	case OfferInProgress:
		return RequestInProgress
	case OfferCompleted:
		return RequestCompleted
	}
	return RequestPending
}
