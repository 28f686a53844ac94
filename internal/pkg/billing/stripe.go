package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventInvoicePaymentSucceed = "invoice.payment_succeeded"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
)

// ErrUnhandledEventType marks event types the reconciler does not act on.
// Handlers ack these so the provider stops retrying.
var ErrUnhandledEventType = errors.New("unhandled event type")

// Event is the strictly decoded webhook envelope. Exactly one of the object
// fields is populated, matching the event type.
type Event struct {
	ID      string
	Type    string
	Created time.Time

	Checkout     *CheckoutSession
	Subscription *Subscription
	Invoice      *Invoice
}

// CheckoutSession carries the fields needed to link a completed checkout to a
// local account and its new subscription.
type CheckoutSession struct {
	SessionID      string
	CustomerID     string
	SubscriptionID string
	AccountID      uint
	TierID         string
}

// Subscription carries the current external subscription state.
type Subscription struct {
	SubscriptionID string
	CustomerID     string
	Status         string
	PriceID        string
	AccountID      uint
}

// Invoice references the subscription a payment settled (or failed) for.
type Invoice struct {
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
}

type rawEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a webhook body into a typed event. Payloads are
// loosely-typed records on the wire, so every field the reconciler acts on is
// checked here; malformed or incomplete shapes are rejected rather than
// accessed optimistically later.
func ParseEvent(payload []byte) (*Event, error) {
	var env rawEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("invalid event envelope: %w", err)
	}
	if strings.TrimSpace(env.ID) == "" {
		return nil, errors.New("event is missing an id")
	}
	if strings.TrimSpace(env.Type) == "" {
		return nil, errors.New("event is missing a type")
	}
	if len(env.Data.Object) == 0 {
		return nil, errors.New("event is missing data.object")
	}

	event := &Event{
		ID:      env.ID,
		Type:    env.Type,
		Created: time.Unix(env.Created, 0),
	}

	switch env.Type {
	case EventCheckoutCompleted:
		checkout, err := parseCheckoutSession(env.Data.Object)
		if err != nil {
			return nil, err
		}
		event.Checkout = checkout
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		sub, err := parseSubscription(env.Data.Object)
		if err != nil {
			return nil, err
		}
		event.Subscription = sub
	case EventInvoicePaymentSucceed, EventInvoicePaymentFailed:
		invoice, err := parseInvoice(env.Data.Object)
		if err != nil {
			return nil, err
		}
		event.Invoice = invoice
	default:
		return event, ErrUnhandledEventType
	}

	return event, nil
}

func parseCheckoutSession(raw json.RawMessage) (*CheckoutSession, error) {
	var obj struct {
		ID           string `json:"id"`
		Customer     string `json:"customer"`
		Subscription string `json:"subscription"`
		Metadata     struct {
			AccountID string `json:"account_id"`
			Tier      string `json:"tier"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("invalid checkout session object: %w", err)
	}
	if obj.ID == "" || obj.Customer == "" || obj.Subscription == "" {
		return nil, errors.New("checkout session is missing id, customer or subscription")
	}
	accountID, err := parseAccountID(obj.Metadata.AccountID)
	if err != nil {
		return nil, err
	}
	tier := strings.ToLower(strings.TrimSpace(obj.Metadata.Tier))
	if tier == "" {
		return nil, errors.New("checkout session metadata is missing tier")
	}
	return &CheckoutSession{
		SessionID:      obj.ID,
		CustomerID:     obj.Customer,
		SubscriptionID: obj.Subscription,
		AccountID:      accountID,
		TierID:         tier,
	}, nil
}

func parseSubscription(raw json.RawMessage) (*Subscription, error) {
	var obj struct {
		ID       string `json:"id"`
		Customer string `json:"customer"`
		Status   string `json:"status"`
		Items    struct {
			Data []struct {
				Price struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"data"`
		} `json:"items"`
		Metadata struct {
			AccountID string `json:"account_id"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("invalid subscription object: %w", err)
	}
	if obj.ID == "" {
		return nil, errors.New("subscription object is missing id")
	}

	sub := &Subscription{
		SubscriptionID: obj.ID,
		CustomerID:     obj.Customer,
		Status:         strings.ToLower(strings.TrimSpace(obj.Status)),
	}
	if len(obj.Items.Data) > 0 {
		sub.PriceID = obj.Items.Data[0].Price.ID
	}
	if obj.Metadata.AccountID != "" {
		accountID, err := parseAccountID(obj.Metadata.AccountID)
		if err != nil {
			return nil, err
		}
		sub.AccountID = accountID
	}
	return sub, nil
}

func parseInvoice(raw json.RawMessage) (*Invoice, error) {
	var obj struct {
		ID           string `json:"id"`
		Customer     string `json:"customer"`
		Subscription string `json:"subscription"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("invalid invoice object: %w", err)
	}
	if obj.ID == "" || obj.Subscription == "" {
		return nil, errors.New("invoice object is missing id or subscription")
	}
	return &Invoice{
		InvoiceID:      obj.ID,
		CustomerID:     obj.Customer,
		SubscriptionID: obj.Subscription,
	}, nil
}

func parseAccountID(s string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid account_id metadata %q", s)
	}
	return uint(id), nil
}
