package scheduler

// Package scheduler drives the provider orchestration loop:
// - Periodic refresh of per-provider trigger times from the registry
//   and preference store (preference changes apply from the next cycle)
// - Firing historical pull and live listening-window jobs at their
//   effective trigger times
// - Periodic cleanup of old bar data
//
// Job execution is implemented in jobs.go
