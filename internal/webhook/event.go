package webhook

import (
	"encoding/json"
	"errors"
	"strings"
)

// Event types delivered by the provider. Unrecognized values are acknowledged
// and ignored, never fatal.
const (
	TypePayment        = "payment"
	TypeFailedPayment  = "failed_payment"
	TypeCancellation   = "cancellation"
	TypeTransfer       = "transfer"
	TypeFailedTransfer = "failed_transfer"
)

// ErrMalformed marks a payload that cannot be processed at all, producing a
// 400 rather than an acknowledgement.
var ErrMalformed = errors.New("webhook: malformed payload")

// TransactionDetails is the on-chain settlement block of a payment event.
type TransactionDetails struct {
	TransactionID   string `json:"transaction_id"`
	TransactionHash string `json:"transaction_hash"`
	ChainID         string `json:"chain_id"`
}

// Event is the decoded inbound webhook payload. It is transient: nothing here
// outlives the request except the ledger row.
type Event struct {
	Type          string              `json:"type"`
	OriginID      string              `json:"origin_id"`
	MerchantID    string              `json:"merchant_id"`
	PaymentID     string              `json:"payment_id"`
	AgreementID   string              `json:"agreement_id"`
	Transaction   *TransactionDetails `json:"transaction_details"`
	FailureReason string              `json:"failure_reason"`
	TransferID    string              `json:"transfer_id"`
	Hash          string              `json:"hash"`
	WalletID      string              `json:"wallet_id"`
	Network       string              `json:"network"`
}

// KnownType reports whether the event type drives a state-machine transition.
func (e Event) KnownType() bool {
	switch e.Type {
	case TypePayment, TypeFailedPayment, TypeCancellation, TypeTransfer, TypeFailedTransfer:
		return true
	default:
		return false
	}
}

// ParseEvent decodes and minimally validates a webhook body. A body that is
// not JSON, or that lacks type or origin_id, is malformed.
func ParseEvent(body []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, errors.Join(ErrMalformed, err)
	}
	evt.Type = strings.TrimSpace(evt.Type)
	evt.OriginID = strings.TrimSpace(evt.OriginID)
	if evt.Type == "" {
		return Event{}, errors.Join(ErrMalformed, errors.New("missing type"))
	}
	if evt.OriginID == "" {
		return Event{}, errors.Join(ErrMalformed, errors.New("missing origin_id"))
	}
	return evt, nil
}
