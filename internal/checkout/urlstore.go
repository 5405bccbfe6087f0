package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrURLNotFound is returned when no pending checkout URL exists for the
// order, either because none was created or because it expired.
var ErrURLNotFound = errors.New("checkout: url not found")

// URLStore keeps the provider-hosted checkout URL per order in redis with an
// explicit TTL. This replaces ambient session state: the URL is keyed, scoped
// and expiring, never global.
type URLStore struct {
	R   *redis.Client
	TTL time.Duration
}

func urlKey(orderID string) string {
	return "paybridge:checkout:url:" + orderID
}

func (s URLStore) Put(ctx context.Context, orderID, url string) error {
	if s.R == nil {
		return errors.New("checkout: redis client not configured")
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return s.R.Set(ctx, urlKey(orderID), url, ttl).Err()
}

func (s URLStore) Get(ctx context.Context, orderID string) (string, error) {
	if s.R == nil {
		return "", errors.New("checkout: redis client not configured")
	}
	url, err := s.R.Get(ctx, urlKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrURLNotFound
	}
	if err != nil {
		return "", err
	}
	return url, nil
}

// Delete drops the cached URL for an order, typically once a payment has
// settled it and the checkout page must stop resolving.
func (s URLStore) Delete(ctx context.Context, orderID string) error {
	if s.R == nil {
		return errors.New("checkout: redis client not configured")
	}
	return s.R.Del(ctx, urlKey(orderID)).Err()
}
