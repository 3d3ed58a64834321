package models

import (
	"time"
)

// QuestionBank carries the session-relevant configuration of a catalog bank
type QuestionBank struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	Name     string `json:"name" gorm:"not null;size:200"`
	IsActive bool   `json:"is_active" gorm:"default:true;index"`

	// Session settings; nil falls back to service defaults
	TimeLimitSeconds  *int     `json:"time_limit_seconds"`
	PassingThreshold  *float64 `json:"passing_threshold"`
	WeakAreaThreshold *float64 `json:"weak_area_threshold"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Questions []Question `json:"questions,omitempty" gorm:"foreignKey:BankID"`
}

func (QuestionBank) TableName() string {
	return "question_banks"
}

// BankConfig is the resolved configuration a session is started and scored with
type BankConfig struct {
	BankID            uint    `json:"bank_id"`
	Name              string  `json:"name"`
	TimeLimitSeconds  *int    `json:"time_limit_seconds"`
	PassingThreshold  float64 `json:"passing_threshold" validate:"threshold"`
	WeakAreaThreshold float64 `json:"weak_area_threshold" validate:"threshold"`
}

// ResolveConfig applies defaults to the bank's optional settings
func (b *QuestionBank) ResolveConfig(defaultPassing, defaultWeak float64) BankConfig {
	cfg := BankConfig{
		BankID:            b.ID,
		Name:              b.Name,
		PassingThreshold:  defaultPassing,
		WeakAreaThreshold: defaultWeak,
	}
	if b.TimeLimitSeconds != nil && *b.TimeLimitSeconds > 0 {
		limit := *b.TimeLimitSeconds
		cfg.TimeLimitSeconds = &limit
	}
	if b.PassingThreshold != nil {
		cfg.PassingThreshold = *b.PassingThreshold
	}
	if b.WeakAreaThreshold != nil {
		cfg.WeakAreaThreshold = *b.WeakAreaThreshold
	}
	return cfg
}

// BankAccess is a learner's entitlement to a bank, granted by the purchase flow
type BankAccess struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	OwnerID     string     `json:"owner_id" gorm:"not null;size:255;uniqueIndex:idx_owner_bank"`
	BankID      uint       `json:"bank_id" gorm:"not null;uniqueIndex:idx_owner_bank"`
	IsActive    bool       `json:"is_active" gorm:"default:true"`
	PurchasedAt time.Time  `json:"purchased_at"`
	ExpiresAt   *time.Time `json:"expires_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BankAccess) TableName() string {
	return "bank_accesses"
}

// IsValid reports whether the entitlement is usable at now
func (a *BankAccess) IsValid(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}
