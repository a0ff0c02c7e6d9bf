package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"quasar_backend/models"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// NonceSize is the AES-GCM nonce length in bytes (96 bits)
	NonceSize = 12

	kdfIterations = 10000
	kdfKeyLen     = 32
	kdfSalt       = "quasar-provider-vault-v1"
)

// CredentialError covers decrypt failures and missing credential records.
// Surfaced to the caller, never retried automatically.
type CredentialError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential error for provider %q: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("credential error for provider %q: %s", e.Provider, e.Reason)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Store is the registry slice the vault needs: record reads and
// credential writes.
type Store interface {
	ReadRecord(name string) (*models.ProviderRecord, error)
	WriteCredentials(name string, nonce, ciphertext []byte) error
}

// Invalidator evicts a loaded provider instance after its credentials
// change
type Invalidator interface {
	Invalidate(name string)
}

// Vault wraps provider secrets in authenticated encryption. The key is
// derived from the provider's immutable content hash, so rotation only
// ever changes nonce and ciphertext. Nonces are always drawn from the
// system CSPRNG; callers can never supply one.
type Vault struct {
	store       Store
	invalidator Invalidator
}

// New creates a vault over registry storage. invalidator may be nil until
// the lifecycle cache is wired in via SetInvalidator.
func New(store Store) *Vault {
	return &Vault{store: store}
}

// SetInvalidator wires the lifecycle cache eviction hook
func (v *Vault) SetInvalidator(inv Invalidator) {
	v.invalidator = inv
}

// deriveKey produces the per-provider encryption key from its content hash
func deriveKey(contentHash string) []byte {
	return pbkdf2.Key([]byte(contentHash), []byte(kdfSalt), kdfIterations, kdfKeyLen, sha256.New)
}

// ReadKeyNames decrypts the stored payload and returns only the key names
// of the secret map, sorted. Values never leave the vault this way; the
// names feed UI field generation.
func (v *Vault) ReadKeyNames(name string) ([]string, error) {
	secrets, err := v.Open(name)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(secrets))
	for k := range secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Open decrypts and returns the full secret map. In-process use only
// (provider construction); the API surface exposes key names exclusively.
func (v *Vault) Open(name string) (map[string]string, error) {
	rec, err := v.store.ReadRecord(name)
	if err != nil {
		return nil, &CredentialError{Provider: name, Reason: "record lookup failed", Err: err}
	}
	if !rec.HasCredentials() {
		return nil, &CredentialError{Provider: name, Reason: "no credentials stored"}
	}

	gcm, err := newGCM(rec.ContentHash)
	if err != nil {
		return nil, &CredentialError{Provider: name, Reason: "cipher setup failed", Err: err}
	}

	plaintext, err := gcm.Open(nil, rec.Nonce, rec.Ciphertext, nil)
	if err != nil {
		return nil, &CredentialError{Provider: name, Reason: "decrypt failed", Err: err}
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, &CredentialError{Provider: name, Reason: "corrupt secret payload", Err: err}
	}
	return secrets, nil
}

// Rotate replaces the whole encrypted payload with newSecrets under a
// fresh random nonce. The operation is all-or-nothing: the payload is
// replaced wholesale, so an empty or partially blank secret set is
// rejected. Cache invalidation is signaled only after the new ciphertext
// and nonce are persisted.
func (v *Vault) Rotate(name string, newSecrets map[string]string) error {
	if len(newSecrets) == 0 {
		return &CredentialError{Provider: name, Reason: "rotation requires the complete secret set"}
	}
	for k, val := range newSecrets {
		if k == "" || val == "" {
			return &CredentialError{Provider: name, Reason: fmt.Sprintf("rotation requires the complete secret set, key %q is blank", k)}
		}
	}

	rec, err := v.store.ReadRecord(name)
	if err != nil {
		return &CredentialError{Provider: name, Reason: "record lookup failed", Err: err}
	}
	if rec.Kind == models.KindUserIndex {
		return &CredentialError{Provider: name, Reason: "user index providers carry no credentials"}
	}

	plaintext, err := json.Marshal(newSecrets)
	if err != nil {
		return &CredentialError{Provider: name, Reason: "failed to encode secrets", Err: err}
	}

	gcm, err := newGCM(rec.ContentHash)
	if err != nil {
		return &CredentialError{Provider: name, Reason: "cipher setup failed", Err: err}
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return &CredentialError{Provider: name, Reason: "nonce generation failed", Err: err}
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	// Persist before signaling eviction so the cache never reloads a
	// half-written credential record
	if err := v.store.WriteCredentials(name, nonce, ciphertext); err != nil {
		return &CredentialError{Provider: name, Reason: "failed to persist rotated credentials", Err: err}
	}

	if v.invalidator != nil {
		v.invalidator.Invalidate(name)
	}

	log.Printf("Credentials rotated: provider=%s keys=%d", name, len(newSecrets))
	return nil
}

func newGCM(contentHash string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(contentHash))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
