// Package dedup derives the keys that identify one logical unit of work.
// Derivation is pure: no I/O and no clock.
package dedup

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smallbiznis/railzway-reports/internal/idempotency/domain"
)

// ReportNamespace prefixes every report dedup key.
const ReportNamespace = "auto_report"

// WebhookKey keys a webhook delivery by its provider-assigned event id.
// The id is used verbatim; the provider guarantees it is stable across
// redeliveries.
func WebhookKey(provider, providerEventID string) (domain.Key, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return domain.Key{}, fmt.Errorf("%w: provider is required", domain.ErrInvalidTrigger)
	}
	if strings.TrimSpace(providerEventID) == "" {
		return domain.Key{}, fmt.Errorf("%w: provider event id is required", domain.ErrInvalidTrigger)
	}
	return domain.Key{Namespace: provider, Value: providerEventID}, nil
}

// ReportKey keys a report request by (subject, scope, kind, start, end).
//
// The encoding is a JSON array so that an absent scope (null) never equals
// any concrete scope string. Period strings are compared exactly.
func ReportKey(trigger domain.ReportTrigger) (domain.Key, error) {
	if strings.TrimSpace(trigger.SubjectID) == "" {
		return domain.Key{}, fmt.Errorf("%w: subject id is required", domain.ErrInvalidTrigger)
	}
	if strings.TrimSpace(trigger.Kind) == "" {
		return domain.Key{}, fmt.Errorf("%w: report kind is required", domain.ErrInvalidTrigger)
	}
	if strings.TrimSpace(trigger.PeriodStart) == "" || strings.TrimSpace(trigger.PeriodEnd) == "" {
		return domain.Key{}, fmt.Errorf("%w: period start and end are required", domain.ErrInvalidTrigger)
	}
	if trigger.ScopeID != nil && strings.TrimSpace(*trigger.ScopeID) == "" {
		return domain.Key{}, fmt.Errorf("%w: scope id must be omitted or non-empty", domain.ErrInvalidTrigger)
	}

	var scope any
	if trigger.ScopeID != nil {
		scope = *trigger.ScopeID
	}

	encoded, err := json.Marshal([]any{
		trigger.SubjectID,
		scope,
		trigger.Kind,
		trigger.PeriodStart,
		trigger.PeriodEnd,
	})
	if err != nil {
		return domain.Key{}, fmt.Errorf("%w: %v", domain.ErrInvalidTrigger, err)
	}
	return domain.Key{Namespace: ReportNamespace, Value: string(encoded)}, nil
}
