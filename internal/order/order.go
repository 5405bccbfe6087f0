package order

import "time"

// SubscriptionStatus is the locally cached state of a provider agreement.
// The empty value means "not yet known", not "inactive".
type SubscriptionStatus string

const (
	SubscriptionUnset     SubscriptionStatus = ""
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Order is the local record reconciled against provider webhooks.
type Order struct {
	ID         string
	MerchantID string
	Amount     int64
	Currency   string
	Status     Status

	// PurchaseSessionID is the provider-issued checkout session id and the
	// webhook correlation key. It may be stored with or without the sess_
	// prefix depending on when the order was created; the resolver handles
	// both conventions.
	PurchaseSessionID string

	IsSubscription     bool
	AgreementID        string
	SubscriptionStatus SubscriptionStatus

	// Transaction fields are written once at the first successful payment
	// webhook and never cleared afterwards.
	PaymentID       string
	TransactionID   string
	TransactionHash string
	ChainID         string

	FailureReason string

	TransferID   string
	TransferHash string
	WalletID     string
	Network      string

	CancelledAt *time.Time
	StatusNote  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SubscriptionConfirmed reports whether the provider has assigned an
// agreement to this subscription order. A subscription order without an
// agreement id is in the "checkout started, not yet confirmed" window.
func (o Order) SubscriptionConfirmed() bool {
	return o.IsSubscription && o.AgreementID != ""
}

// PaymentDetails carries the fields written by a successful payment webhook.
type PaymentDetails struct {
	PaymentID       string
	AgreementID     string
	TransactionID   string
	TransactionHash string
	ChainID         string
}

// TransferDetails carries the fields written by a transfer webhook.
type TransferDetails struct {
	TransferID   string
	TransferHash string
	WalletID     string
	Network      string
}

// ListFilter narrows admin list queries.
type ListFilter struct {
	Status            *Status
	SubscriptionsOnly bool
	Limit             int
	Offset            int
}
