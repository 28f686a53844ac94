package accountcontext

import "github.com/gofiber/fiber/v2"

// Shared Locals keys used across controllers and middlewares
const (
	ContextKey      = "ACCOUNT_CONTEXT"
	KeyAccountID    = "account_id"
	KeyAPIKeyID     = "api_key_id"
	KeyRequestID    = "request_id"
	KeyFromMetered  = "from_metered"
	TokensRemaining = "tokens_remaining"
)

// AccountContext is the per-request view of the authenticated account after
// the gate has debited a token. TokensRemaining is the post-debit balance
// derived from the pre-debit snapshot.
type AccountContext struct {
	AccountID       uint   `json:"account_id"`
	APIKeyID        uint   `json:"api_key_id"`
	Tier            string `json:"tier"`
	TokensRemaining int64  `json:"tokens_remaining"`
	Authenticated   bool   `json:"authenticated"`
}

// Get retrieves the account context from fiber context.
// Returns a default unauthenticated context if none is set.
func Get(c *fiber.Ctx) AccountContext {
	if ctx := c.Locals(ContextKey); ctx != nil {
		return ctx.(AccountContext)
	}
	return AccountContext{Authenticated: false}
}

// Set stores the account context in fiber locals.
func Set(c *fiber.Ctx, ctx AccountContext) {
	c.Locals(ContextKey, ctx)
	c.Locals(KeyAccountID, ctx.AccountID)
	c.Locals(KeyAPIKeyID, ctx.APIKeyID)
}

// AccountID returns the current account's ID, or 0 if unauthenticated.
func AccountID(c *fiber.Ctx) uint {
	return Get(c).AccountID
}
