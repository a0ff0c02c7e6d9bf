package schedule

import (
	"fmt"
	"time"

	"quasar_backend/models"

	"github.com/robfig/cron/v3"
)

// SafetyMarginSeconds pads the live listening window so the connection
// outlives both close buffers plus scheduler jitter
const SafetyMarginSeconds = 30

// EffectiveTrigger maps a base cron expression, provider kind and resolved
// preferences to the effective trigger: the unchanged cron spec plus an
// offset in seconds. Historical providers shift later by delay_hours
// (delay_hours=24 fires a full day after the nominal time and is accepted
// as-is, not wrapped). Live providers fire pre_close_seconds before the
// bar-close boundary the base cron encodes. All other kinds fire on the
// base cron unshifted.
func EffectiveTrigger(baseCron string, kind models.ProviderKind, preferences models.PreferenceBlob) (string, int) {
	switch kind {
	case models.KindHistorical:
		return baseCron, preferences.DelayHours() * 3600
	case models.KindLive:
		return baseCron, -preferences.PreCloseSeconds()
	}
	return baseCron, 0
}

// ListeningTimeout is the hard cutoff for the live data-collection window:
// both close buffers plus the fixed safety margin. Expiry of this window
// is an expected terminal condition, not a failure.
func ListeningTimeout(preferences models.PreferenceBlob) time.Duration {
	secs := preferences.PreCloseSeconds() + preferences.PostCloseSeconds() + SafetyMarginSeconds
	return time.Duration(secs) * time.Second
}

// NextFire computes the first effective fire time strictly after now for a
// cron spec shifted by offsetSeconds. A fire time f = b + offset for a base
// occurrence b, so the earliest f > now corresponds to the earliest base
// occurrence after now - offset.
func NextFire(cronSpec string, offsetSeconds int, now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(cronSpec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", cronSpec, err)
	}
	offset := time.Duration(offsetSeconds) * time.Second
	base := sched.Next(now.Add(-offset))
	return base.Add(offset), nil
}
