package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderKindIsValid(t *testing.T) {
	for _, k := range []ProviderKind{KindHistorical, KindLive, KindIndexProvider, KindUserIndex} {
		assert.True(t, k.IsValid(), "kind %s", k)
	}
	assert.False(t, ProviderKind("broker").IsValid())
	assert.False(t, ProviderKind("").IsValid())
}

func TestBeforeSaveRejectsPartialCredentials(t *testing.T) {
	rec := &ProviderRecord{Name: "EODHD", Kind: KindHistorical, Nonce: []byte{1, 2, 3}}
	require.ErrorIs(t, rec.BeforeSave(nil), ErrPartialCredentials)

	rec = &ProviderRecord{Name: "EODHD", Kind: KindHistorical, Ciphertext: []byte{9}}
	require.ErrorIs(t, rec.BeforeSave(nil), ErrPartialCredentials)
}

func TestBeforeSaveRejectsUserIndexCredentials(t *testing.T) {
	rec := &ProviderRecord{
		Name:       "MYINDEX",
		Kind:       KindUserIndex,
		Nonce:      []byte{1},
		Ciphertext: []byte{2},
	}
	require.ErrorIs(t, rec.BeforeSave(nil), ErrUserIndexCredentials)
}

func TestBeforeSaveAllowsCompleteOrAbsent(t *testing.T) {
	require.NoError(t, (&ProviderRecord{Name: "EODHD", Kind: KindHistorical}).BeforeSave(nil))
	require.NoError(t, (&ProviderRecord{
		Name:       "KRAKEN",
		Kind:       KindLive,
		Nonce:      []byte{1},
		Ciphertext: []byte{2},
	}).BeforeSave(nil))
}

func TestPreferenceBlobGetterDefaults(t *testing.T) {
	var blob PreferenceBlob
	assert.Equal(t, 0, blob.DelayHours())
	assert.Equal(t, 0, blob.PreCloseSeconds())
	assert.Equal(t, 0, blob.PostCloseSeconds())
	assert.Equal(t, DefaultLookbackDays, blob.LookbackDays())
	assert.Equal(t, "", blob.PreferredQuoteCurrency())
}

func TestPreferenceBlobScanRoundTrip(t *testing.T) {
	six := 6
	usd := "USD"
	blob := PreferenceBlob{
		Crypto:     &CryptoPreferences{PreferredQuoteCurrency: &usd},
		Scheduling: &SchedulingPreferences{DelayHours: &six},
	}

	value, err := blob.Value()
	require.NoError(t, err)

	var got PreferenceBlob
	require.NoError(t, got.Scan(value))
	assert.Equal(t, 6, got.DelayHours())
	assert.Equal(t, "USD", got.PreferredQuoteCurrency())
	assert.Nil(t, got.Data)
}

func TestPreferenceBlobScanNull(t *testing.T) {
	six := 6
	got := PreferenceBlob{Scheduling: &SchedulingPreferences{DelayHours: &six}}
	require.NoError(t, got.Scan(nil))
	assert.Nil(t, got.Scheduling)
}
