package cache

import (
	"strings"
	"time"

	subscriptiondomain "github.com/smallbiznis/railzway-reports/internal/subscription/domain"
)

const defaultStatusTTL = 45 * time.Second

// SubscriptionStatusCache stores the status lookup served to a user.
// Webhook-driven changes invalidate the owning user's entry.
type SubscriptionStatusCache interface {
	GetStatus(userID string) (subscriptiondomain.StatusResponse, bool)
	SetStatus(userID string, status subscriptiondomain.StatusResponse)
	Invalidate(userID string)
}

type subscriptionStatusCache struct {
	statuses Cache[string, subscriptiondomain.StatusResponse]
	ttl      time.Duration
}

func NewSubscriptionStatusCache() SubscriptionStatusCache {
	return &subscriptionStatusCache{
		statuses: NewTTLCache[string, subscriptiondomain.StatusResponse](),
		ttl:      defaultStatusTTL,
	}
}

func (c *subscriptionStatusCache) GetStatus(userID string) (subscriptiondomain.StatusResponse, bool) {
	return c.statuses.Get(cacheKey(userID))
}

func (c *subscriptionStatusCache) SetStatus(userID string, status subscriptiondomain.StatusResponse) {
	key := cacheKey(userID)
	if key == "" {
		return
	}
	c.statuses.Set(key, status, c.ttl)
}

func (c *subscriptionStatusCache) Invalidate(userID string) {
	c.statuses.Delete(cacheKey(userID))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
