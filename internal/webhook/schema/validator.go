// Package schema validates raw webhook payloads against per-kind JSON
// Schemas before anything is written to the ledger.
package schema

import (
	"bytes"
	"embed"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/smallbiznis/railzway-reports/internal/webhook/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const envelopeSchema = "envelope.json"

var kindSchemas = map[domain.Kind]string{
	domain.KindSubscriptionCreated:     "subscription.json",
	domain.KindSubscriptionUpdated:     "subscription.json",
	domain.KindSubscriptionDeleted:     "subscription.json",
	domain.KindInvoicePaymentSucceeded: "invoice.json",
	domain.KindInvoicePaymentFailed:    "invoice.json",
}

// Validator holds the compiled schemas.
type Validator struct {
	envelope *jsonschema.Schema
	byKind   map[domain.Kind]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	for _, entry := range entries {
		raw, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode schema %s: %w", entry.Name(), err)
		}
		if err := c.AddResource(schemaURL(entry.Name()), doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", entry.Name(), err)
		}
	}

	envelope, err := c.Compile(schemaURL(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}

	v := &Validator{
		envelope: envelope,
		byKind:   make(map[domain.Kind]*jsonschema.Schema, len(kindSchemas)),
	}
	for kind, name := range kindSchemas {
		compiled, err := c.Compile(schemaURL(name))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", kind, err)
		}
		v.byKind[kind] = compiled
	}
	return v, nil
}

// Validate checks payload against the envelope schema and, for kinds the
// service acts on, the kind's object schema.
func (v *Validator) Validate(kind domain.Kind, payload []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if err := v.envelope.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if compiled, ok := v.byKind[kind]; ok {
		if err := compiled.Validate(doc); err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrInvalidPayload, kind, err)
		}
	}
	return nil
}

func schemaURL(name string) string {
	return "railzway://webhook/" + name
}
