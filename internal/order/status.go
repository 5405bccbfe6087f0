package order

// Status is the local order lifecycle state. Transitions are driven by the
// webhook processor or explicit merchant/customer action, never invented here.
type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
	StatusRefundPending Status = "refund_pending"
	StatusRefunded      Status = "refunded"
)

// transitions is the explicit legal-transition table. Anything absent here is
// rejected and logged by callers instead of being silently applied.
var transitions = map[Status][]Status{
	StatusPending:       {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing:    {StatusCompleted, StatusFailed, StatusCancelled, StatusRefundPending},
	StatusCompleted:     {StatusRefundPending},
	StatusFailed:        {StatusProcessing, StatusCancelled},
	StatusCancelled:     {},
	StatusRefundPending: {StatusProcessing, StatusRefunded, StatusFailed},
	StatusRefunded:      {},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no webhook-driven transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

// CanTransition reports whether moving from s to next is legal. A transition
// to the current status is permitted and treated as a no-op by callers.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
