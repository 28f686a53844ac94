package models

import "time"

// UsageRecord is an append-only audit fact for one metered call. Rows are
// never updated or deleted by the application; reporting reads them elsewhere.
type UsageRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AccountID     uint      `gorm:"not null;index" json:"account_id"`
	APIKeyID      uint      `gorm:"not null;index" json:"api_key_id"`
	RequestID     string    `gorm:"type:char(36);not null;index" json:"request_id"`
	Endpoint      string    `gorm:"type:varchar(100);not null;index" json:"endpoint"`
	Model         string    `gorm:"type:varchar(100);default:''" json:"model"`
	TokensCharged int64     `gorm:"not null;default:1" json:"tokens_charged"`
	DurationMs    int64     `gorm:"not null;default:0" json:"duration_ms"`
	Succeeded     bool      `gorm:"not null;default:true" json:"succeeded"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
