package models

import (
	"fmt"
	"regexp"
	"time"
)

// Certificate is proof of a passed session. It has no foreign key to
// exam_sessions and must outlive an archived session.
type Certificate struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	SessionID         uint      `json:"session_id" gorm:"not null;uniqueIndex"`
	OwnerID           string    `json:"owner_id" gorm:"not null;index;size:255"`
	BankID            uint      `json:"bank_id" gorm:"not null;index"`
	BankName          string    `json:"bank_name" gorm:"size:200"`
	HolderName        string    `json:"holder_name" gorm:"size:100"`
	Score             float64   `json:"score" gorm:"not null"`
	PassingThreshold  float64   `json:"passing_threshold" gorm:"not null"`
	CertificateNumber string    `json:"certificate_number" gorm:"not null;uniqueIndex;size:64"`
	IssuedAt          time.Time `json:"issued_at" gorm:"not null"`

	CreatedAt time.Time `json:"created_at"`
}

func (Certificate) TableName() string {
	return "certificates"
}

var certificateNumberPattern = regexp.MustCompile(`^CERT-\d{8}-\d+-[0-9A-F]{8}$`)

// NewCertificateNumber formats CERT-YYYYMMDD-<bank>-<suffix>; suffix must be 8 upper-case hex digits
func NewCertificateNumber(issuedAt time.Time, bankID uint, suffix string) string {
	return fmt.Sprintf("CERT-%s-%d-%s", issuedAt.UTC().Format("20060102"), bankID, suffix)
}

func IsCertificateNumber(s string) bool {
	return certificateNumberPattern.MatchString(s)
}
