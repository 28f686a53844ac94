package billing

import (
	"errors"
	"testing"
)

func TestParseEventCheckoutCompleted(t *testing.T) {
	raw := []byte(`{
		"id": "evt_checkout_1",
		"type": "checkout.session.completed",
		"created": 1700000000,
		"data": {
			"object": {
				"id": "cs_test_1",
				"customer": "cus_123",
				"subscription": "sub_456",
				"metadata": { "account_id": "42", "tier": "pro" }
			}
		}
	}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if ev.ID != "evt_checkout_1" || ev.Type != EventCheckoutCompleted {
		t.Fatalf("unexpected envelope: id=%q type=%q", ev.ID, ev.Type)
	}
	if ev.Checkout == nil {
		t.Fatalf("expected checkout payload")
	}
	if ev.Checkout.AccountID != 42 || ev.Checkout.TierID != "pro" {
		t.Fatalf("unexpected checkout: account=%d tier=%q", ev.Checkout.AccountID, ev.Checkout.TierID)
	}
	if ev.Checkout.CustomerID != "cus_123" || ev.Checkout.SubscriptionID != "sub_456" {
		t.Fatalf("unexpected references: customer=%q subscription=%q", ev.Checkout.CustomerID, ev.Checkout.SubscriptionID)
	}
}

func TestParseEventSubscriptionUpdated(t *testing.T) {
	raw := []byte(`{
		"id": "evt_sub_1",
		"type": "customer.subscription.updated",
		"data": {
			"object": {
				"id": "sub_456",
				"customer": "cus_123",
				"status": "PAST_DUE",
				"items": { "data": [ { "price": { "id": "price_pro_monthly" } } ] }
			}
		}
	}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if ev.Subscription == nil {
		t.Fatalf("expected subscription payload")
	}
	if ev.Subscription.Status != "past_due" {
		t.Fatalf("expected lowercased status, got %q", ev.Subscription.Status)
	}
	if ev.Subscription.PriceID != "price_pro_monthly" {
		t.Fatalf("unexpected price id %q", ev.Subscription.PriceID)
	}
	if ev.Subscription.AccountID != 0 {
		t.Fatalf("expected no account metadata, got %d", ev.Subscription.AccountID)
	}
}

func TestParseEventInvoice(t *testing.T) {
	raw := []byte(`{
		"id": "evt_inv_1",
		"type": "invoice.payment_succeeded",
		"data": {
			"object": { "id": "in_789", "customer": "cus_123", "subscription": "sub_456" }
		}
	}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if ev.Invoice == nil || ev.Invoice.SubscriptionID != "sub_456" {
		t.Fatalf("unexpected invoice payload: %+v", ev.Invoice)
	}
}

func TestParseEventUnhandledType(t *testing.T) {
	raw := []byte(`{
		"id": "evt_other",
		"type": "charge.refunded",
		"data": { "object": { "id": "ch_1" } }
	}`)

	ev, err := ParseEvent(raw)
	if !errors.Is(err, ErrUnhandledEventType) {
		t.Fatalf("expected ErrUnhandledEventType, got %v", err)
	}
	if ev == nil || ev.ID != "evt_other" {
		t.Fatalf("expected envelope to survive for acknowledgement, got %+v", ev)
	}
}

func TestParseEventRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `this is not json`},
		{name: "missing id", raw: `{"type":"invoice.payment_succeeded","data":{"object":{"id":"in_1","subscription":"sub_1"}}}`},
		{name: "missing type", raw: `{"id":"evt_1","data":{"object":{"id":"in_1"}}}`},
		{name: "missing object", raw: `{"id":"evt_1","type":"invoice.payment_succeeded","data":{}}`},
		{
			name: "checkout without metadata",
			raw:  `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","customer":"cus_1","subscription":"sub_1"}}}`,
		},
		{
			name: "checkout with non-numeric account",
			raw:  `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","customer":"cus_1","subscription":"sub_1","metadata":{"account_id":"abc","tier":"pro"}}}}`,
		},
		{
			name: "checkout missing subscription",
			raw:  `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","customer":"cus_1","metadata":{"account_id":"1","tier":"pro"}}}}`,
		},
		{
			name: "subscription without id",
			raw:  `{"id":"evt_1","type":"customer.subscription.updated","data":{"object":{"status":"active"}}}`,
		},
		{
			name: "invoice without subscription",
			raw:  `{"id":"evt_1","type":"invoice.payment_succeeded","data":{"object":{"id":"in_1"}}}`,
		},
	}

	for _, tt := range tests {
		if _, err := ParseEvent([]byte(tt.raw)); err == nil {
			t.Fatalf("%s: expected parse to fail", tt.name)
		}
	}
}
