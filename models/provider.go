package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ProviderKind categorizes a provider adaptor and determines which
// preference fields are legal for it.
type ProviderKind string

const (
	KindHistorical    ProviderKind = "historical"
	KindLive          ProviderKind = "live"
	KindIndexProvider ProviderKind = "index_provider"
	KindUserIndex     ProviderKind = "user_index"
)

// DefaultLookbackDays is the initial backfill depth when a historical
// provider has no data.lookback_days preference set.
const DefaultLookbackDays = 30

// IsValid reports whether k is one of the known provider kinds
func (k ProviderKind) IsValid() bool {
	switch k {
	case KindHistorical, KindLive, KindIndexProvider, KindUserIndex:
		return true
	}
	return false
}

// CryptoPreferences holds preferences shared by all provider kinds
type CryptoPreferences struct {
	PreferredQuoteCurrency *string `json:"preferred_quote_currency,omitempty"`
}

// SchedulingPreferences holds trigger-time preferences.
// delay_hours is legal only for historical providers, pre/post close
// only for live providers.
type SchedulingPreferences struct {
	DelayHours       *int `json:"delay_hours,omitempty"`
	PreCloseSeconds  *int `json:"pre_close_seconds,omitempty"`
	PostCloseSeconds *int `json:"post_close_seconds,omitempty"`
}

// DataPreferences holds data-depth preferences (historical only)
type DataPreferences struct {
	LookbackDays *int `json:"lookback_days,omitempty"`
}

// PreferenceBlob is the sparse per-provider configuration override stored
// in the preferences JSONB column. Absent fields resolve to their
// schema-declared defaults; the blob is never required to be fully
// populated.
type PreferenceBlob struct {
	Crypto     *CryptoPreferences     `json:"crypto,omitempty"`
	Scheduling *SchedulingPreferences `json:"scheduling,omitempty"`
	Data       *DataPreferences       `json:"data,omitempty"`
}

// Value implements driver.Valuer so gorm can write the blob as JSONB
func (b PreferenceBlob) Value() (driver.Value, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preferences: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for reading the JSONB column
func (b *PreferenceBlob) Scan(value interface{}) error {
	if value == nil {
		*b = PreferenceBlob{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported preferences column type %T", value)
	}
	if len(data) == 0 {
		*b = PreferenceBlob{}
		return nil
	}
	return json.Unmarshal(data, b)
}

// DelayHours returns scheduling.delay_hours, zero when unset
func (b PreferenceBlob) DelayHours() int {
	if b.Scheduling == nil || b.Scheduling.DelayHours == nil {
		return 0
	}
	return *b.Scheduling.DelayHours
}

// PreCloseSeconds returns scheduling.pre_close_seconds, zero when unset
func (b PreferenceBlob) PreCloseSeconds() int {
	if b.Scheduling == nil || b.Scheduling.PreCloseSeconds == nil {
		return 0
	}
	return *b.Scheduling.PreCloseSeconds
}

// PostCloseSeconds returns scheduling.post_close_seconds, zero when unset
func (b PreferenceBlob) PostCloseSeconds() int {
	if b.Scheduling == nil || b.Scheduling.PostCloseSeconds == nil {
		return 0
	}
	return *b.Scheduling.PostCloseSeconds
}

// LookbackDays returns data.lookback_days or the default backfill depth
func (b PreferenceBlob) LookbackDays() int {
	if b.Data == nil || b.Data.LookbackDays == nil {
		return DefaultLookbackDays
	}
	return *b.Data.LookbackDays
}

// PreferredQuoteCurrency returns crypto.preferred_quote_currency,
// empty string when unset
func (b PreferenceBlob) PreferredQuoteCurrency() string {
	if b.Crypto == nil || b.Crypto.PreferredQuoteCurrency == nil {
		return ""
	}
	return *b.Crypto.PreferredQuoteCurrency
}

// ErrPartialCredentials is returned when a record is written with only one
// of nonce/ciphertext set
var ErrPartialCredentials = errors.New("credentials must be fully set or fully absent")

// ErrUserIndexCredentials is returned when credentials are attached to a
// user index record
var ErrUserIndexCredentials = errors.New("user index providers cannot carry credentials")

// ProviderRecord identifies one registered provider/broker/index adaptor.
// Nonce and Ciphertext hold the encrypted credential payload and are
// populated together or not at all.
type ProviderRecord struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"uniqueIndex;not null" json:"name"`
	Kind         ProviderKind   `gorm:"index;not null" json:"kind"`
	CodeLocation string         `json:"code_location"`
	ContentHash  string         `gorm:"not null" json:"content_hash"`
	Preferences  PreferenceBlob `gorm:"type:jsonb" json:"preferences"`
	Nonce        []byte         `json:"-"`
	Ciphertext   []byte         `json:"-"`
	Status       string         `gorm:"default:'active'" json:"status"` // active, disabled
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// HasCredentials reports whether an encrypted credential payload is stored
func (r *ProviderRecord) HasCredentials() bool {
	return len(r.Nonce) > 0 && len(r.Ciphertext) > 0
}

// BeforeSave enforces the credential invariants at write time
func (r *ProviderRecord) BeforeSave(tx *gorm.DB) error {
	if (len(r.Nonce) > 0) != (len(r.Ciphertext) > 0) {
		return ErrPartialCredentials
	}
	if r.Kind == KindUserIndex && len(r.Ciphertext) > 0 {
		return ErrUserIndexCredentials
	}
	return nil
}

// MigrateProviderModels runs database migrations for provider records
func MigrateProviderModels(db *gorm.DB) error {
	return db.AutoMigrate(&ProviderRecord{})
}
