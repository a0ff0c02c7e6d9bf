package schedule

import (
	"testing"
	"time"

	"quasar_backend/models"
)

func intPtr(n int) *int { return &n }

func TestEffectiveTriggerHistoricalDelay(t *testing.T) {
	blob := models.PreferenceBlob{
		Scheduling: &models.SchedulingPreferences{DelayHours: intPtr(6)},
	}

	spec, offset := EffectiveTrigger("0 0 * * *", models.KindHistorical, blob)
	if spec != "0 0 * * *" {
		t.Fatalf("cron spec must pass through unchanged, got %q", spec)
	}
	if offset != 21600 {
		t.Fatalf("want offset +21600 for delay_hours=6, got %d", offset)
	}
}

func TestEffectiveTriggerHistoricalFullDayDelay(t *testing.T) {
	blob := models.PreferenceBlob{
		Scheduling: &models.SchedulingPreferences{DelayHours: intPtr(24)},
	}

	// delay_hours=24 fires a full day after nominal, not wrapped to zero
	_, offset := EffectiveTrigger("0 0 * * *", models.KindHistorical, blob)
	if offset != 86400 {
		t.Fatalf("want offset +86400 for delay_hours=24, got %d", offset)
	}
}

func TestEffectiveTriggerHistoricalDefaultIsMidnight(t *testing.T) {
	// EODHD with no preferences set keeps the legacy zero-delay default
	_, offset := EffectiveTrigger("0 0 * * *", models.KindHistorical, models.PreferenceBlob{})
	if offset != 0 {
		t.Fatalf("want offset 0 with no preferences, got %d", offset)
	}
}

func TestEffectiveTriggerLivePreClose(t *testing.T) {
	blob := models.PreferenceBlob{
		Scheduling: &models.SchedulingPreferences{PreCloseSeconds: intPtr(45)},
	}

	_, offset := EffectiveTrigger("0 * * * *", models.KindLive, blob)
	if offset != -45 {
		t.Fatalf("want offset -45 for pre_close_seconds=45, got %d", offset)
	}
}

func TestEffectiveTriggerOtherKindsUnshifted(t *testing.T) {
	blob := models.PreferenceBlob{
		Scheduling: &models.SchedulingPreferences{DelayHours: intPtr(6), PreCloseSeconds: intPtr(45)},
	}

	for _, kind := range []models.ProviderKind{models.KindIndexProvider, models.KindUserIndex} {
		_, offset := EffectiveTrigger("0 0 * * *", kind, blob)
		if offset != 0 {
			t.Fatalf("kind %s: want offset 0, got %d", kind, offset)
		}
	}
}

func TestListeningTimeout(t *testing.T) {
	blob := models.PreferenceBlob{
		Scheduling: &models.SchedulingPreferences{
			PreCloseSeconds:  intPtr(45),
			PostCloseSeconds: intPtr(10),
		},
	}

	if got := ListeningTimeout(blob); got != 85*time.Second {
		t.Fatalf("want 85s listening timeout for pre=45 post=10, got %v", got)
	}

	// With no buffers configured only the safety margin remains
	if got := ListeningTimeout(models.PreferenceBlob{}); got != 30*time.Second {
		t.Fatalf("want 30s listening timeout for empty preferences, got %v", got)
	}
}

func TestKrakenScenario(t *testing.T) {
	blob := models.PreferenceBlob{
		Scheduling: &models.SchedulingPreferences{
			PreCloseSeconds:  intPtr(45),
			PostCloseSeconds: intPtr(10),
		},
	}

	_, offset := EffectiveTrigger("0 * * * *", models.KindLive, blob)
	if offset != -45 {
		t.Fatalf("want trigger offset -45, got %d", offset)
	}
	if got := ListeningTimeout(blob); got != 85*time.Second {
		t.Fatalf("want listening timeout 85s, got %v", got)
	}
}

func TestNextFirePositiveOffset(t *testing.T) {
	now := time.Date(2025, 1, 15, 1, 0, 0, 0, time.UTC)

	// Daily at midnight shifted +6h fires at 06:00 the same day
	fire, err := NextFire("0 0 * * *", 21600, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC)
	if !fire.Equal(want) {
		t.Fatalf("want fire at %v, got %v", want, fire)
	}
}

func TestNextFireNegativeOffset(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

	// Hourly bar close shifted -45s fires at 10:59:15
	fire, err := NextFire("0 * * * *", -45, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 1, 15, 10, 59, 15, 0, time.UTC)
	if !fire.Equal(want) {
		t.Fatalf("want fire at %v, got %v", want, fire)
	}
}

func TestNextFireIsStrictlyAfterNow(t *testing.T) {
	// Exactly on the shifted fire time: next occurrence is the following one
	now := time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC)

	fire, err := NextFire("0 0 * * *", 21600, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 1, 16, 6, 0, 0, 0, time.UTC)
	if !fire.Equal(want) {
		t.Fatalf("want fire at %v, got %v", want, fire)
	}
}

func TestNextFireBadCron(t *testing.T) {
	if _, err := NextFire("not a cron", 0, time.Now()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
