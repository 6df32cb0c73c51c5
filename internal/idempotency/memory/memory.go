// Package memory provides in-process ledgers with the same uniqueness and
// conditional-update semantics as the SQL ledgers. Intended for tests and
// single-process tooling.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/smallbiznis/railzway-reports/internal/idempotency/domain"
)

var (
	_ domain.WebhookLedger = (*WebhookLedger)(nil)
	_ domain.ReportLedger  = (*ReportLedger)(nil)
)

type WebhookLedger struct {
	mu      sync.Mutex
	entries map[domain.Key]domain.WebhookEntry

	// FailNext, when set, is returned by the next call and then cleared.
	FailNext error
}

func NewWebhookLedger() *WebhookLedger {
	return &WebhookLedger{entries: make(map[domain.Key]domain.WebhookEntry)}
}

func (l *WebhookLedger) InsertIfAbsent(_ context.Context, entry domain.WebhookEntry) (domain.InsertResult[domain.WebhookEntry], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return domain.InsertResult[domain.WebhookEntry]{}, err
	}

	key := entry.Key()
	if existing, ok := l.entries[key]; ok {
		return domain.InsertResult[domain.WebhookEntry]{Existing: &existing}, nil
	}
	l.entries[key] = entry
	return domain.InsertResult[domain.WebhookEntry]{Inserted: true}, nil
}

func (l *WebhookLedger) FindByKey(_ context.Context, key domain.Key) (*domain.WebhookEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return nil, err
	}

	entry, ok := l.entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (l *WebhookLedger) UpdateByKey(_ context.Context, key domain.Key, patch domain.WebhookPatch) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return false, err
	}

	entry, ok := l.entries[key]
	if !ok || entry.Processed {
		return false, nil
	}
	at := patch.ProcessedAt
	entry.Processed = true
	entry.ProcessedAt = &at
	l.entries[key] = entry
	return true, nil
}

// Len returns the number of rows held.
func (l *WebhookLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *WebhookLedger) takeFailure() error {
	err := l.FailNext
	l.FailNext = nil
	return err
}

type ReportLedger struct {
	mu      sync.Mutex
	entries map[string]domain.ReportEntry

	FailNext error
}

func NewReportLedger() *ReportLedger {
	return &ReportLedger{entries: make(map[string]domain.ReportEntry)}
}

func (l *ReportLedger) InsertIfAbsent(_ context.Context, entry domain.ReportEntry) (domain.InsertResult[domain.ReportEntry], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return domain.InsertResult[domain.ReportEntry]{}, err
	}

	if existing, ok := l.entries[entry.DedupKey]; ok {
		return domain.InsertResult[domain.ReportEntry]{Existing: &existing}, nil
	}
	l.entries[entry.DedupKey] = entry
	return domain.InsertResult[domain.ReportEntry]{Inserted: true}, nil
}

func (l *ReportLedger) FindByKey(_ context.Context, key domain.Key) (*domain.ReportEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return nil, err
	}

	entry, ok := l.entries[key.Value]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (l *ReportLedger) UpdateByKey(_ context.Context, key domain.Key, patch domain.ReportPatch) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return false, err
	}

	entry, ok := l.entries[key.Value]
	if !ok || !slices.Contains(patch.From, entry.Status) {
		return false, nil
	}
	if patch.ExpectAttempts != nil && entry.Attempts != *patch.ExpectAttempts {
		return false, nil
	}

	entry.Status = patch.To
	entry.UpdatedAt = patch.UpdatedAt
	if patch.ArtifactRef != nil {
		entry.ArtifactRef = patch.ArtifactRef
	}
	if patch.GeneratedAt != nil {
		entry.GeneratedAt = patch.GeneratedAt
	}
	if patch.NotificationID != nil {
		entry.NotificationID = patch.NotificationID
	}
	if patch.ClearLastError {
		entry.LastError = nil
	}
	if patch.LastError != nil {
		entry.LastError = patch.LastError
	}
	if patch.IncrementAttempts {
		entry.Attempts++
	}
	l.entries[key.Value] = entry
	return true, nil
}

// Entries returns a snapshot of all rows.
func (l *ReportLedger) Entries() []domain.ReportEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ReportEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	return out
}

func (l *ReportLedger) takeFailure() error {
	err := l.FailNext
	l.FailNext = nil
	return err
}
