package schema

import (
	"testing"

	"github.com/smallbiznis/railzway-reports/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	cases := []struct {
		name    string
		kind    domain.Kind
		payload string
		wantErr bool
	}{
		{
			name:    "subscription ok",
			kind:    domain.KindSubscriptionUpdated,
			payload: `{"id":"evt_1","type":"customer.subscription.updated","created":1704067200,"data":{"object":{"id":"sub_1","status":"active","customer":"cus_1","metadata":{"userId":"u1"}}}}`,
		},
		{
			name:    "subscription missing status",
			kind:    domain.KindSubscriptionUpdated,
			payload: `{"id":"evt_1","type":"customer.subscription.updated","data":{"object":{"id":"sub_1"}}}`,
			wantErr: true,
		},
		{
			name:    "metadata must be strings",
			kind:    domain.KindSubscriptionCreated,
			payload: `{"id":"evt_1","type":"customer.subscription.created","data":{"object":{"id":"sub_1","status":"active","metadata":{"addons":["a"]}}}}`,
			wantErr: true,
		},
		{
			name:    "invoice with expanded subscription",
			kind:    domain.KindInvoicePaymentSucceeded,
			payload: `{"id":"evt_2","type":"invoice.payment_succeeded","data":{"object":{"id":"in_1","subscription":{"id":"sub_1"}}}}`,
		},
		{
			name:    "invoice subscription wrong type",
			kind:    domain.KindInvoicePaymentFailed,
			payload: `{"id":"evt_2","type":"invoice.payment_failed","data":{"object":{"id":"in_1","subscription":42}}}`,
			wantErr: true,
		},
		{
			name:    "unknown kind only checks envelope",
			kind:    domain.Kind("charge.refunded"),
			payload: `{"id":"evt_3","type":"charge.refunded","data":{"object":{"amount":100}}}`,
		},
		{
			name:    "envelope without data",
			kind:    domain.Kind("charge.refunded"),
			payload: `{"id":"evt_3","type":"charge.refunded"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			kind:    domain.KindSubscriptionCreated,
			payload: `{`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.kind, []byte(tc.payload))
			if tc.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidPayload)
				return
			}
			assert.NoError(t, err)
		})
	}
}
