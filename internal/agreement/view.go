package agreement

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonpay/paybridge/internal/order"
	"github.com/halcyonpay/paybridge/internal/provider"
)

// View is the display record for a confirmed subscription agreement, merged
// from the live provider payload and local order metadata.
type View struct {
	OrderID            string `json:"order_id"`
	AgreementID        string `json:"agreement_id"`
	Status             string `json:"status"`
	CreatedAt          string `json:"created_at"`
	NextProcessingDate string `json:"next_processing_date,omitempty"`
	CancelledAt        string `json:"cancelled_at,omitempty"`
	Frequency          string `json:"frequency"`
	Live               bool   `json:"live"`
}

// Retriever is the slice of the provider client the builder needs.
type Retriever interface {
	RetrieveAgreement(ctx context.Context, agreementID string) (provider.Agreement, error)
}

// Builder merges live agreement payloads with local order state. The
// provider's payload shape has drifted across integration versions, so every
// field is extracted through an ordered list of known key paths and the first
// present value wins.
type Builder struct {
	Provider Retriever
	Logger   zerolog.Logger
}

// Key paths tried per display field, most recent payload shape first. Paths
// are dotted, so "agreement.created_at" descends into a nested object.
var (
	createdAtPaths = []string{
		"created_at", "createdAt", "created",
		"agreement.created_at", "agreement.createdAt",
	}
	nextProcessingPaths = []string{
		"next_process_date", "next_processing", "nextProcessDate", "nextProcess",
		"agreement.next_process_date", "agreement.next_processing",
		"agreement.nextProcessDate", "agreement.nextProcess",
	}
	cancelledAtPaths = []string{
		"cancelled_at", "cancelledAt", "canceled_at",
		"agreement.cancelled_at", "agreement.cancelledAt",
	}
	statusPaths = []string{
		"status", "agreement.status",
	}
	frequencyPaths = []string{
		"frequency", "agreement.frequency",
	}
	intervalPaths = []string{
		"interval", "period", "agreement.interval", "agreement.period",
	}
)

// Build produces the agreement view for a confirmed subscription order. When
// the live fetch fails or omits fields, locally known values fill in; the
// view never fails outright.
func (b Builder) Build(ctx context.Context, ord order.Order) View {
	view := View{
		OrderID:     ord.ID,
		AgreementID: ord.AgreementID,
		Status:      string(ord.SubscriptionStatus),
		CreatedAt:   ord.CreatedAt.UTC().Format(time.RFC3339),
		Frequency:   FrequencyPhrase(1, "month"),
	}
	if ord.CancelledAt != nil {
		view.CancelledAt = ord.CancelledAt.UTC().Format(time.RFC3339)
	}
	if ord.AgreementID == "" {
		return view
	}

	agr, err := b.Provider.RetrieveAgreement(ctx, ord.AgreementID)
	if err != nil {
		b.Logger.Warn().Err(err).
			Str("order_id", ord.ID).
			Str("agreement_id", ord.AgreementID).
			Msg("agreement fetch failed, using local values")
		return view
	}
	view.Live = true

	if v, ok := extractString(agr.Raw, statusPaths); ok {
		view.Status = v
	}
	if v, ok := extractString(agr.Raw, createdAtPaths); ok {
		view.CreatedAt = v
	}
	if v, ok := extractString(agr.Raw, nextProcessingPaths); ok {
		view.NextProcessingDate = v
	}
	if v, ok := extractString(agr.Raw, cancelledAtPaths); ok {
		// provider's stamp takes display precedence over the local one
		view.CancelledAt = v
	}

	freq := 1
	if v, ok := extractInt(agr.Raw, frequencyPaths); ok {
		freq = v
	}
	interval := "month"
	if v, ok := extractString(agr.Raw, intervalPaths); ok {
		interval = v
	}
	view.Frequency = FrequencyPhrase(freq, interval)

	return view
}

// extractString walks the paths in order and returns the first non-empty
// string-like value.
func extractString(raw map[string]any, paths []string) (string, bool) {
	for _, path := range paths {
		v, ok := lookup(raw, path)
		if !ok {
			continue
		}
		s := stringify(v)
		if s != "" {
			return s, true
		}
	}
	return "", false
}

func extractInt(raw map[string]any, paths []string) (int, bool) {
	for _, path := range paths {
		v, ok := lookup(raw, path)
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n), true
		case int:
			return n, true
		case string:
			if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				return i, true
			}
		}
	}
	return 0, false
}

func lookup(raw map[string]any, path string) (any, bool) {
	current := raw
	parts := strings.Split(path, ".")
	for i, part := range parts {
		v, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}
