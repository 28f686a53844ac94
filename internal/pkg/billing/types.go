package billing

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// ApplyResult reports what an event application actually did, mostly for
// logging and webhook responses.
type ApplyResult struct {
	AccountID     uint
	Tier          string
	TokensGranted int64
	StatusOnly    bool
	Ignored       bool
	IgnoredReason string
}
