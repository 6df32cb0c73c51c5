package stripe

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/railzway-reports/internal/clock"
	"github.com/smallbiznis/railzway-reports/internal/webhook/domain"
)

const (
	providerName = "stripe"

	// DefaultTolerance bounds the age of a signed timestamp.
	DefaultTolerance = 5 * time.Minute
)

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	clock         clock.Clock
}

type Option func(*Adapter)

// WithTolerance overrides the signature age limit. Zero disables the check.
func WithTolerance(d time.Duration) Option {
	return func(a *Adapter) {
		a.tolerance = d
	}
}

func NewAdapter(webhookSecret string, clk clock.Clock, opts ...Option) (*Adapter, error) {
	webhookSecret = strings.TrimSpace(webhookSecret)
	if webhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	a := &Adapter{
		webhookSecret: webhookSecret,
		tolerance:     DefaultTolerance,
		clock:         clk,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Adapter) Provider() string {
	return providerName
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	if a.tolerance > 0 {
		signedAt, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return domain.ErrInvalidSignature
		}
		age := a.clock.Now().Sub(time.Unix(signedAt, 0))
		if age > a.tolerance || age < -a.tolerance {
			return domain.ErrInvalidSignature
		}
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return nil, domain.ErrInvalidEvent
	}

	out := &domain.Event{
		Provider:   providerName,
		ID:         event.ID,
		Kind:       domain.Kind(strings.TrimSpace(event.Type)),
		OccurredAt: timestamp(event.Created),
		RawPayload: payload,
	}

	switch out.Kind {
	case domain.KindSubscriptionCreated, domain.KindSubscriptionUpdated, domain.KindSubscriptionDeleted:
		subscription, err := parseSubscription(event.Data.Object)
		if err != nil {
			return nil, err
		}
		out.ObjectID = subscription.ID
		out.Subscription = subscription
	case domain.KindInvoicePaymentSucceeded, domain.KindInvoicePaymentFailed:
		var invoice stripeInvoice
		if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		out.Invoice = &domain.InvoiceObject{
			ID:             strings.TrimSpace(invoice.ID),
			SubscriptionID: strings.TrimSpace(string(invoice.Subscription)),
		}
		// Payment events are recorded against the subscription they move.
		out.ObjectID = out.Invoice.SubscriptionID
		if out.ObjectID == "" {
			out.ObjectID = out.Invoice.ID
		}
	default:
		var object struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(event.Data.Object, &object)
		out.ObjectID = strings.TrimSpace(object.ID)
	}

	return out, nil
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeSubscription struct {
	ID         string            `json:"id"`
	Customer   expandableID      `json:"customer"`
	Status     string            `json:"status"`
	StartDate  int64             `json:"start_date"`
	EndedAt    int64             `json:"ended_at"`
	TrialStart int64             `json:"trial_start"`
	TrialEnd   int64             `json:"trial_end"`
	Metadata   map[string]string `json:"metadata"`
}

type stripeInvoice struct {
	ID           string       `json:"id"`
	Subscription expandableID `json:"subscription"`
}

// expandableID decodes a field that is either an id string, an expanded
// object carrying "id", or null.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*e = expandableID(id)
		return nil
	}
	var object struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &object); err != nil {
		return err
	}
	*e = expandableID(object.ID)
	return nil
}

func parseSubscription(raw json.RawMessage) (*domain.SubscriptionObject, error) {
	var subscription stripeSubscription
	if err := json.Unmarshal(raw, &subscription); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(subscription.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	addonIDs, err := parseAddons(subscription.Metadata["addons"])
	if err != nil {
		return nil, err
	}

	return &domain.SubscriptionObject{
		ID:         strings.TrimSpace(subscription.ID),
		CustomerID: strings.TrimSpace(string(subscription.Customer)),
		Status:     strings.TrimSpace(subscription.Status),
		UserID:     strings.TrimSpace(subscription.Metadata["userId"]),
		PlanID:     strings.TrimSpace(subscription.Metadata["planId"]),
		AddonIDs:   addonIDs,
		StartDate:  optionalTime(subscription.StartDate),
		EndedAt:    optionalTime(subscription.EndedAt),
		TrialStart: optionalTime(subscription.TrialStart),
		TrialEnd:   optionalTime(subscription.TrialEnd),
	}, nil
}

// parseAddons decodes the JSON array of add-on ids stored in metadata.
func parseAddons(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("%w: metadata.addons: %v", domain.ErrInvalidPayload, err)
	}
	return ids, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}

func optionalTime(value int64) *time.Time {
	if value == 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}
