package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"quasar_backend/config"
	"quasar_backend/models"
	"quasar_backend/services/lifecycle"
	"quasar_backend/services/live"
	"quasar_backend/services/marketdata"
	"quasar_backend/services/prefs"
	"quasar_backend/services/registry"
	"quasar_backend/services/schedule"

	"github.com/go-co-op/gocron"
)

// historicalPuller is the capability a historical adaptor instance exposes
type historicalPuller interface {
	PullDaily(ctx context.Context, lookbackDays int) ([]live.Bar, error)
}

// liveStreamer is the capability a live adaptor instance exposes
type liveStreamer interface {
	StreamURL() string
	Symbols() []string
}

// providerEntry tracks the effective trigger for one scheduled provider
type providerEntry struct {
	kind     models.ProviderKind
	cronSpec string
	offset   int
	next     time.Time
}

// Scheduler fires provider jobs at their effective trigger times. A gocron
// refresh job re-reads the registry so preference changes take effect from
// the next scheduling cycle only; a second-resolution loop fires due jobs,
// since live pre-close offsets need sub-minute precision.
type Scheduler struct {
	cron      *gocron.Scheduler
	registry  *registry.Storage
	prefs     *prefs.Store
	cache     *lifecycle.Cache
	collector *live.Collector

	mu       sync.Mutex
	entries  map[string]*providerEntry
	stopChan chan struct{}
	running  bool
}

// NewScheduler creates a new scheduler instance
func NewScheduler(reg *registry.Storage, prefStore *prefs.Store, cache *lifecycle.Cache) *Scheduler {
	return &Scheduler{
		cron:      gocron.NewScheduler(time.UTC),
		registry:  reg,
		prefs:     prefStore,
		cache:     cache,
		collector: live.NewCollector(),
		entries:   make(map[string]*providerEntry),
		stopChan:  make(chan struct{}),
	}
}

// Start starts the refresh and cleanup jobs and the firing loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	log.Println("Starting provider scheduler...")

	s.refreshJobs()

	// Re-read registry and preferences every minute
	s.cron.Every(1).Minute().Do(func() {
		s.refreshJobs()
	})

	// Cleanup old bar data daily at 01:00
	s.cron.Every(1).Day().At("01:00").Do(func() {
		s.cleanupOldBars()
	})

	s.cron.StartAsync()
	go s.run()

	log.Println("Provider scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cron.Stop()
	close(s.stopChan)
	s.running = false
	log.Println("Provider scheduler stopped")
}

// refreshJobs recomputes each active provider's effective trigger from its
// current preferences
func (s *Scheduler) refreshJobs() {
	recs, err := s.registry.ListActive()
	if err != nil {
		log.Printf("Error loading providers for scheduling: %v", err)
		return
	}

	now := time.Now().UTC()
	seen := make(map[string]bool, len(recs))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range recs {
		baseCron := baseCronFor(rec.Kind)
		if baseCron == "" {
			// Index kinds are evaluated on demand, not scheduled
			continue
		}
		seen[rec.Name] = true

		blob, err := s.prefs.Get(rec.Name)
		if err != nil {
			log.Printf("Error reading preferences for %s: %v", rec.Name, err)
			continue
		}

		cronSpec, offset := schedule.EffectiveTrigger(baseCron, rec.Kind, blob)

		entry, ok := s.entries[rec.Name]
		if ok && entry.cronSpec == cronSpec && entry.offset == offset {
			continue
		}

		next, err := schedule.NextFire(cronSpec, offset, now)
		if err != nil {
			log.Printf("Error computing trigger for %s: %v", rec.Name, err)
			continue
		}

		s.entries[rec.Name] = &providerEntry{
			kind:     rec.Kind,
			cronSpec: cronSpec,
			offset:   offset,
			next:     next,
		}
		log.Printf("Provider scheduled: provider=%s kind=%s offset=%ds next=%s",
			rec.Name, rec.Kind, offset, next.Format(time.RFC3339))
	}

	// Drop providers that were removed or disabled
	for name := range s.entries {
		if !seen[name] {
			delete(s.entries, name)
			log.Printf("Provider unscheduled: provider=%s", name)
		}
	}
}

// run fires due jobs at second resolution
func (s *Scheduler) run() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case now := <-ticker.C:
			s.fireDue(now.UTC())
		}
	}
}

// fireDue launches jobs whose trigger time has arrived and advances their
// next fire time
func (s *Scheduler) fireDue(now time.Time) {
	type dueJob struct {
		name string
		kind models.ProviderKind
	}

	s.mu.Lock()
	var due []dueJob
	for name, entry := range s.entries {
		if entry.next.After(now) {
			continue
		}
		due = append(due, dueJob{name, entry.kind})

		next, err := schedule.NextFire(entry.cronSpec, entry.offset, now)
		if err == nil {
			entry.next = next
		}
	}
	s.mu.Unlock()

	for _, d := range due {
		go s.runProviderJob(d.name, d.kind)
	}
}

// runProviderJob obtains a live instance from the cache and runs the
// kind-specific collection. Construction failures are logged and retried
// naturally on the next trigger.
func (s *Scheduler) runProviderJob(name string, kind models.ProviderKind) {
	ctx := context.Background()

	instance, err := s.cache.Get(ctx, name)
	if err != nil {
		log.Printf("Provider job skipped: provider=%s error=%v", name, err)
		return
	}

	blob, err := s.prefs.Get(name)
	if err != nil {
		log.Printf("Error reading preferences for %s: %v", name, err)
		return
	}

	switch kind {
	case models.KindHistorical:
		s.runHistoricalPull(ctx, name, instance, blob)
	case models.KindLive:
		s.runLiveWindow(ctx, name, instance, blob)
	}
}

// runHistoricalPull fetches daily bars and stores them locally
func (s *Scheduler) runHistoricalPull(ctx context.Context, name string, instance lifecycle.Instance, blob models.PreferenceBlob) {
	puller, ok := instance.(historicalPuller)
	if !ok {
		log.Printf("Provider %s does not support historical pulls", name)
		return
	}

	bars, err := puller.PullDaily(ctx, blob.LookbackDays())
	if err != nil {
		log.Printf("Historical pull failed: provider=%s error=%v", name, err)
		return
	}

	if marketdata.GlobalBarStore != nil {
		if err := marketdata.GlobalBarStore.UpsertDailyBars(name, bars); err != nil {
			log.Printf("Error storing bars for %s: %v", name, err)
			return
		}
	}

	log.Printf("Historical pull completed: provider=%s bars=%d", name, len(bars))
}

// runLiveWindow listens on the provider stream for the computed window and
// mirrors the aggregated bars. Window expiry is the normal exit; the job
// keeps whatever ticks arrived.
func (s *Scheduler) runLiveWindow(ctx context.Context, name string, instance lifecycle.Instance, blob models.PreferenceBlob) {
	streamer, ok := instance.(liveStreamer)
	if !ok {
		log.Printf("Provider %s does not support live streaming", name)
		return
	}

	window := schedule.ListeningTimeout(blob)
	ticks, err := s.collector.Collect(ctx, streamer.StreamURL(), streamer.Symbols(), window)
	if err != nil {
		log.Printf("Live collection error: provider=%s collected=%d error=%v", name, len(ticks), err)
	}
	if len(ticks) == 0 {
		log.Printf("Live window closed with no data: provider=%s", name)
		return
	}

	bars := live.AggregateBars(ticks)
	if marketdata.GlobalMongoSink.IsConnected() {
		if err := marketdata.GlobalMongoSink.WriteLiveBars(ctx, name, bars); err != nil {
			log.Printf("Error mirroring live bars for %s: %v", name, err)
		}
	}

	log.Printf("Live window completed: provider=%s ticks=%d bars=%d", name, len(ticks), len(bars))
}

// cleanupOldBars removes bar data older than 5 years
func (s *Scheduler) cleanupOldBars() {
	if marketdata.GlobalBarStore == nil {
		return
	}
	fiveYearsAgo := time.Now().AddDate(-5, 0, 0)
	deleted, err := marketdata.GlobalBarStore.DeleteBarsBefore(fiveYearsAgo)
	if err != nil {
		log.Printf("Error cleaning up old bars: %v", err)
		return
	}
	log.Printf("Cleanup completed: bars_deleted=%d", deleted)
}

// baseCronFor returns the base cron expression for a schedulable kind
func baseCronFor(kind models.ProviderKind) string {
	switch kind {
	case models.KindHistorical:
		return config.AppConfig.HistoricalBaseCron
	case models.KindLive:
		return config.AppConfig.LiveBaseCron
	}
	return ""
}
