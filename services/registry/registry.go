package registry

import (
	"errors"
	"fmt"

	"quasar_backend/models"
	"quasar_backend/services/prefs"

	"gorm.io/gorm"
)

// Storage is the key-value view of the provider registry the orchestrator
// works against. It never exposes raw SQL to callers; records are keyed by
// provider name.
type Storage struct {
	db *gorm.DB
}

// NewStorage creates registry storage on top of the database
func NewStorage(db *gorm.DB) *Storage {
	return &Storage{db: db}
}

// ReadRecord fetches one provider record by name
func (s *Storage) ReadRecord(name string) (*models.ProviderRecord, error) {
	var rec models.ProviderRecord
	if err := s.db.Where("name = ?", name).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", prefs.ErrProviderNotFound, name)
		}
		return nil, fmt.Errorf("failed to read provider record %s: %w", name, err)
	}
	return &rec, nil
}

// List returns all registered providers
func (s *Storage) List() ([]models.ProviderRecord, error) {
	var recs []models.ProviderRecord
	if err := s.db.Order("name").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return recs, nil
}

// ListActive returns providers eligible for scheduling
func (s *Storage) ListActive() ([]models.ProviderRecord, error) {
	var recs []models.ProviderRecord
	if err := s.db.Where("status = ?", "active").Order("name").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list active providers: %w", err)
	}
	return recs, nil
}

// WritePreferences stores a provider's sparse preference blob
func (s *Storage) WritePreferences(name string, blob models.PreferenceBlob) error {
	rec, err := s.ReadRecord(name)
	if err != nil {
		return err
	}
	rec.Preferences = blob
	if err := s.db.Save(rec).Error; err != nil {
		return fmt.Errorf("failed to write preferences for %s: %w", name, err)
	}
	return nil
}

// WriteCredentials stores a provider's encrypted credential payload. Both
// nonce and ciphertext must be provided; the record hooks reject partial
// writes and credentials on user index records.
func (s *Storage) WriteCredentials(name string, nonce, ciphertext []byte) error {
	if len(nonce) == 0 || len(ciphertext) == 0 {
		return models.ErrPartialCredentials
	}
	rec, err := s.ReadRecord(name)
	if err != nil {
		return err
	}
	rec.Nonce = nonce
	rec.Ciphertext = ciphertext
	if err := s.db.Save(rec).Error; err != nil {
		return fmt.Errorf("failed to write credentials for %s: %w", name, err)
	}
	return nil
}
