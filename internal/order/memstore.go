package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store used by tests and local development. It
// mirrors the write-once and stamp-once semantics of the Postgres store.
type MemStore struct {
	mu     sync.Mutex
	orders map[string]Order
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{orders: make(map[string]Order)}
}

func (s *MemStore) Create(_ context.Context, o Order) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = StatusPending
	}
	if o.PurchaseSessionID != "" {
		for _, existing := range s.orders {
			if existing.PurchaseSessionID == o.PurchaseSessionID {
				return Order{}, ErrDuplicateSession
			}
		}
	}
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	s.orders[o.ID] = o
	return o, nil
}

func (s *MemStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (s *MemStore) FindBySessionID(_ context.Context, sessionID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID == "" {
		return Order{}, ErrNotFound
	}
	for _, o := range s.orders {
		if o.PurchaseSessionID == sessionID {
			return o, nil
		}
	}
	return Order{}, ErrNotFound
}

func (s *MemStore) RecentSessionIDs(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	all := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		if o.PurchaseSessionID != "" {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	ids := make([]string, 0, limit)
	for _, o := range all {
		if len(ids) == limit {
			break
		}
		ids = append(ids, o.PurchaseSessionID)
	}
	return ids, nil
}

func (s *MemStore) AssignSession(_ context.Context, id, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	for otherID, other := range s.orders {
		if otherID != id && other.PurchaseSessionID == sessionID {
			return ErrDuplicateSession
		}
	}
	o.PurchaseSessionID = sessionID
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return nil
}

func (s *MemStore) UpdateStatus(_ context.Context, id string, to Status, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = to
	o.StatusNote = note
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return nil
}

func (s *MemStore) RecordPayment(_ context.Context, id string, p PaymentDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentID = writeOnce(o.PaymentID, p.PaymentID)
	o.AgreementID = writeOnce(o.AgreementID, p.AgreementID)
	o.TransactionID = writeOnce(o.TransactionID, p.TransactionID)
	o.TransactionHash = writeOnce(o.TransactionHash, p.TransactionHash)
	o.ChainID = writeOnce(o.ChainID, p.ChainID)
	if o.IsSubscription && o.SubscriptionStatus == SubscriptionUnset {
		o.SubscriptionStatus = SubscriptionActive
	}
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return nil
}

func (s *MemStore) RecordFailure(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.FailureReason = reason
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return nil
}

func (s *MemStore) RecordTransfer(_ context.Context, id string, t TransferDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.TransferID = writeOnce(o.TransferID, t.TransferID)
	o.TransferHash = writeOnce(o.TransferHash, t.TransferHash)
	o.WalletID = writeOnce(o.WalletID, t.WalletID)
	o.Network = writeOnce(o.Network, t.Network)
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return nil
}

func (s *MemStore) MarkSubscriptionCancelled(_ context.Context, id string, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	o.SubscriptionStatus = SubscriptionCancelled
	if o.CancelledAt == nil {
		stamped := at
		o.CancelledAt = &stamped
	}
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return *o.CancelledAt, nil
}

func (s *MemStore) List(_ context.Context, f ListFilter) ([]Order, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		if f.SubscriptionsOnly && !o.IsSubscription {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := int64(len(matched))

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := f.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func writeOnce(current, next string) string {
	if current != "" {
		return current
	}
	return next
}
