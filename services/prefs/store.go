package prefs

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"quasar_backend/models"
)

// ErrProviderNotFound is returned by Merge when the named provider does
// not exist in the registry
var ErrProviderNotFound = errors.New("provider not found")

// Registry is the slice of registry storage the store needs: blob reads
// and writes keyed by provider name.
type Registry interface {
	ReadRecord(name string) (*models.ProviderRecord, error)
	WritePreferences(name string, blob models.PreferenceBlob) error
}

// Store persists per-provider preference blobs with partial-merge
// semantics. Updates are infrequent administrative actions, so merges are
// compare-free last-writer-wins.
type Store struct {
	registry Registry
}

// NewStore creates a preference store backed by registry storage
func NewStore(registry Registry) *Store {
	return &Store{registry: registry}
}

// Get returns the resolved preference blob for a provider. A missing
// record yields the shared-only schema defaults, never an error.
func (s *Store) Get(name string) (models.PreferenceBlob, error) {
	rec, err := s.registry.ReadRecord(name)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return Resolve("", models.PreferenceBlob{}), nil
		}
		return models.PreferenceBlob{}, fmt.Errorf("failed to read provider %s: %w", name, err)
	}
	return Resolve(rec.Kind, rec.Preferences), nil
}

// Merge validates a partial update against the provider's kind schema and
// performs a deep, key-wise merge into the stored blob. Unspecified nested
// keys are preserved, specified keys are overwritten, no key is ever
// deleted by omission. Returns the resolved blob after the merge.
func (s *Store) Merge(name string, partial map[string]interface{}) (models.PreferenceBlob, error) {
	rec, err := s.registry.ReadRecord(name)
	if err != nil {
		return models.PreferenceBlob{}, fmt.Errorf("failed to read provider %s: %w", name, err)
	}

	validated, err := Validate(rec.Kind, partial)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			log.Printf("Preference update rejected: provider=%s field=%s reason=%s",
				name, verr.Field, verr.Reason)
		}
		return models.PreferenceBlob{}, err
	}

	blob := rec.Preferences
	changed := make([]string, 0, len(validated))
	for path, value := range validated {
		applyField(&blob, path, value)
		changed = append(changed, path)
	}
	sort.Strings(changed)

	if err := s.registry.WritePreferences(name, blob); err != nil {
		return models.PreferenceBlob{}, fmt.Errorf("failed to write preferences for %s: %w", name, err)
	}

	log.Printf("Preferences updated: provider=%s changed=%v at=%s",
		name, changed, time.Now().UTC().Format(time.RFC3339))

	return Resolve(rec.Kind, blob), nil
}
