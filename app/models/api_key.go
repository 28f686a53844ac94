package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var apiKeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const apiKeyPrefix = "pg_"

// APIKey is a credential referencing one account. An account may hold several
// keys; keys are stored as SHA-256 digests only. Revoking a key never touches
// the owning account's balance or tier.
type APIKey struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	AccountID  uint           `gorm:"not null;index" json:"account_id"`
	KeyHash    string         `gorm:"type:char(64);not null;uniqueIndex" json:"-"`
	KeyPrefix  string         `gorm:"type:varchar(20);default:''" json:"key_prefix"`
	Label      string         `gorm:"type:varchar(100);default:''" json:"label"`
	LastUsedAt *time.Time     `gorm:"type:timestamp;default:null" json:"last_used_at"`
	RevokedAt  *time.Time     `gorm:"type:timestamp;default:null" json:"revoked_at,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsActive reports whether the key can still authenticate requests.
func (k *APIKey) IsActive() bool {
	return k != nil && k.KeyHash != "" && k.RevokedAt == nil
}

// Revoke marks the key as unusable without deleting the row.
func (k *APIKey) Revoke() {
	now := time.Now()
	k.RevokedAt = &now
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// NewAPIKey generates key material for an account and returns the model plus
// the raw secret. The raw secret is shown once and never stored.
func NewAPIKey(accountID uint, label string) (*APIKey, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, "", err
	}
	rawKey := apiKeyPrefix + strings.ToLower(apiKeyEncoding.EncodeToString(b))
	if len(rawKey) < 12 {
		return nil, "", fmt.Errorf("api key generation failed: key too short")
	}
	key := &APIKey{
		AccountID: accountID,
		KeyHash:   HashAPIKey(rawKey),
		KeyPrefix: rawKey[:min(len(rawKey), 16)],
		Label:     strings.TrimSpace(label),
	}
	return key, rawKey, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
