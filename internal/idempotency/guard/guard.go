// Package guard implements the idempotency protocol that sits between a
// trigger and its effect. The ledger's uniqueness constraint is the only
// serialization point; the guard never holds an in-process lock.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/railzway-reports/internal/idempotency/domain"
)

// Leaser claims a key for the duration of an effect.
type Leaser interface {
	Acquire(ctx context.Context, key domain.Key, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key domain.Key, token string) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrLedgerUnavailable, op, err)
}

func effectFailed(err error) error {
	if errors.Is(err, domain.ErrEffectFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrEffectFailed, err)
}

const maxLastErrorLen = 1024

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxLastErrorLen {
		return msg[:maxLastErrorLen]
	}
	return msg
}
