package order

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// SessionPrefix is the prefix the provider added to purchase session ids at
// some point in the integration's history. Orders created before and after
// the format change must both resolve, so lookups try both conventions.
const SessionPrefix = "sess_"

// Resolver maps a webhook origin id to exactly one local order.
type Resolver struct {
	Store  Store
	Logger zerolog.Logger
}

// Resolve looks up the order whose purchase session matches originID. It tries
// the exact value first, then the value with the sess_ prefix stripped or
// prepended. A miss returns ErrNotFound after logging recent candidate session
// ids; a missing order on webhook delivery is expected, non-fatal traffic.
func (r Resolver) Resolve(ctx context.Context, originID string) (Order, error) {
	originID = strings.TrimSpace(originID)
	if originID == "" {
		return Order{}, ErrNotFound
	}

	o, err := r.Store.FindBySessionID(ctx, originID)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Order{}, err
	}

	var alternate string
	if strings.HasPrefix(originID, SessionPrefix) {
		alternate = strings.TrimPrefix(originID, SessionPrefix)
	} else {
		alternate = SessionPrefix + originID
	}
	o, err = r.Store.FindBySessionID(ctx, alternate)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Order{}, err
	}

	r.logMiss(ctx, originID, alternate)
	return Order{}, ErrNotFound
}

func (r Resolver) logMiss(ctx context.Context, originID, alternate string) {
	evt := r.Logger.Warn().
		Str("origin_id", originID).
		Str("alternate_id", alternate)
	if recent, err := r.Store.RecentSessionIDs(ctx, 10); err == nil {
		evt = evt.Strs("recent_session_ids", recent)
	}
	evt.Msg("webhook origin id matched no order")
}
