package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Operator represents an administrator allowed to change provider
// configuration through the API
type Operator struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Email        string     `gorm:"uniqueIndex" json:"email"`
	FullName     string     `json:"full_name"`
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SetPassword hashes and sets the password for the operator
func (o *Operator) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	o.PasswordHash = string(hash)
	return nil
}

// CheckPassword verifies the provided password against the stored hash
func (o *Operator) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(o.PasswordHash), []byte(password))
	return err == nil
}

// MigrateOperatorModels runs database migrations for operator accounts
func MigrateOperatorModels(db *gorm.DB) error {
	return db.AutoMigrate(&Operator{})
}

// SeedDefaultOperator creates the default operator if none exists
func SeedDefaultOperator(db *gorm.DB) error {
	var count int64
	db.Model(&Operator{}).Count(&count)
	if count > 0 {
		// Operator already exists
		return nil
	}

	op := &Operator{
		Username: "admin",
		Email:    "admin@quasar.local",
		FullName: "Administrator",
		IsActive: true,
	}
	if err := op.SetPassword("change-me-on-first-login"); err != nil {
		return err
	}

	return db.Create(op).Error
}
