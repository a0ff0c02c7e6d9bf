package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quasar_backend/models"
	"quasar_backend/services/vault"
)

// fakeSources backs all three cache dependencies in memory
type fakeSources struct {
	mu      sync.Mutex
	recs    map[string]*models.ProviderRecord
	secrets map[string]map[string]string
	prefs   map[string]models.PreferenceBlob
}

func newFakeSources() *fakeSources {
	return &fakeSources{
		recs:    make(map[string]*models.ProviderRecord),
		secrets: make(map[string]map[string]string),
		prefs:   make(map[string]models.PreferenceBlob),
	}
}

func (f *fakeSources) ReadRecord(name string) (*models.ProviderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeSources) Open(name string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.secrets[name]
	if !ok {
		return nil, fmt.Errorf("no credentials stored for %s", name)
	}
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSources) Get(name string) (models.PreferenceBlob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefs[name], nil
}

func (f *fakeSources) setSecrets(name string, secrets map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[name] = secrets
}

// testInstance captures what the factory was constructed with
type testInstance struct {
	name    string
	secrets map[string]string
}

func (i *testInstance) ProviderName() string { return i.name }

func TestGetLoadsOnceAndCaches(t *testing.T) {
	src := newFakeSources()
	src.recs["EODHD"] = &models.ProviderRecord{Name: "EODHD", Kind: models.KindHistorical}
	src.setSecrets("EODHD", map[string]string{"api_key": "k"})

	var constructions int32
	cache := NewCache(src, src, src, func(ctx context.Context, rec *models.ProviderRecord, secrets map[string]string, prefs models.PreferenceBlob) (Instance, error) {
		atomic.AddInt32(&constructions, 1)
		return &testInstance{name: rec.Name, secrets: secrets}, nil
	})

	first, err := cache.Get(context.Background(), "EODHD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := cache.Get(context.Background(), "EODHD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Fatal("second Get must return the cached instance")
	}
	if n := atomic.LoadInt32(&constructions); n != 1 {
		t.Fatalf("want exactly 1 construction, got %d", n)
	}
}

func TestConcurrentGetConstructsOnce(t *testing.T) {
	src := newFakeSources()
	src.recs["EODHD"] = &models.ProviderRecord{Name: "EODHD", Kind: models.KindHistorical}
	src.setSecrets("EODHD", map[string]string{"api_key": "k"})

	var constructions int32
	cache := NewCache(src, src, src, func(ctx context.Context, rec *models.ProviderRecord, secrets map[string]string, prefs models.PreferenceBlob) (Instance, error) {
		atomic.AddInt32(&constructions, 1)
		time.Sleep(50 * time.Millisecond) // hold the load open so callers pile up
		return &testInstance{name: rec.Name, secrets: secrets}, nil
	})

	const callers = 16
	var wg sync.WaitGroup
	instances := make([]Instance, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			instances[i], errs[i] = cache.Get(context.Background(), "EODHD")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if instances[i] != instances[0] {
			t.Fatalf("caller %d received a different instance", i)
		}
	}
	if n := atomic.LoadInt32(&constructions); n != 1 {
		t.Fatalf("want exactly 1 construction under concurrency, got %d", n)
	}
}

func TestFailedLoadStaysUnloadedAndRetries(t *testing.T) {
	src := newFakeSources()
	src.recs["FLAKY"] = &models.ProviderRecord{Name: "FLAKY", Kind: models.KindHistorical}
	src.setSecrets("FLAKY", map[string]string{"api_key": "k"})

	var constructions int32
	cache := NewCache(src, src, src, func(ctx context.Context, rec *models.ProviderRecord, secrets map[string]string, prefs models.PreferenceBlob) (Instance, error) {
		if atomic.AddInt32(&constructions, 1) == 1 {
			return nil, errors.New("adaptor exploded")
		}
		return &testInstance{name: rec.Name}, nil
	})

	_, err := cache.Get(context.Background(), "FLAKY")
	if err == nil {
		t.Fatal("expected construction error")
	}
	var cerr *ConstructionError
	if !errors.As(err, &cerr) {
		t.Fatalf("want *ConstructionError, got %T", err)
	}
	if cache.Loaded("FLAKY") {
		t.Fatal("cache must stay unloaded after a failed construction")
	}

	// The next Get re-attempts construction from scratch
	if _, err := cache.Get(context.Background(), "FLAKY"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !cache.Loaded("FLAKY") {
		t.Fatal("cache must be loaded after a successful retry")
	}
	if n := atomic.LoadInt32(&constructions); n != 2 {
		t.Fatalf("want 2 constructions, got %d", n)
	}
}

func TestInvalidateDuringLoadDiscardsStaleInstance(t *testing.T) {
	src := newFakeSources()
	src.recs["KRAKEN"] = &models.ProviderRecord{Name: "KRAKEN", Kind: models.KindLive}
	src.setSecrets("KRAKEN", map[string]string{"api_key": "old"})

	entered := make(chan struct{})
	release := make(chan struct{})
	var constructions int32
	cache := NewCache(src, src, src, func(ctx context.Context, rec *models.ProviderRecord, secrets map[string]string, prefs models.PreferenceBlob) (Instance, error) {
		if atomic.AddInt32(&constructions, 1) == 1 {
			close(entered)
			<-release
		}
		return &testInstance{name: rec.Name, secrets: secrets}, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		cache.Get(context.Background(), "KRAKEN")
	}()

	// Credentials rotate while the first load is parked in the factory
	<-entered
	src.setSecrets("KRAKEN", map[string]string{"api_key": "new"})
	cache.Invalidate("KRAKEN")

	close(release)
	<-done

	if cache.Loaded("KRAKEN") {
		t.Fatal("load racing an invalidation must not repopulate the cache")
	}

	inst, err := cache.Get(context.Background(), "KRAKEN")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := inst.(*testInstance).secrets["api_key"]; got != "new" {
		t.Fatalf("reload after invalidation must see the rotated secrets, got %q", got)
	}
	if n := atomic.LoadInt32(&constructions); n != 2 {
		t.Fatalf("want 2 constructions, got %d", n)
	}
}

func TestInvalidateIsNoOpWhenUnloaded(t *testing.T) {
	src := newFakeSources()
	cache := NewCache(src, src, src, func(ctx context.Context, rec *models.ProviderRecord, secrets map[string]string, prefs models.PreferenceBlob) (Instance, error) {
		return &testInstance{name: rec.Name}, nil
	})

	cache.Invalidate("NEVER-LOADED")
	if cache.Loaded("NEVER-LOADED") {
		t.Fatal("no-op invalidate must not create an entry")
	}
}

func TestUserIndexLoadsWithoutSecrets(t *testing.T) {
	src := newFakeSources()
	src.recs["MYINDEX"] = &models.ProviderRecord{Name: "MYINDEX", Kind: models.KindUserIndex}

	cache := NewCache(src, src, src, func(ctx context.Context, rec *models.ProviderRecord, secrets map[string]string, prefs models.PreferenceBlob) (Instance, error) {
		if secrets != nil {
			t.Errorf("user index load must not open the vault, got %v", secrets)
		}
		return &testInstance{name: rec.Name}, nil
	})

	if _, err := cache.Get(context.Background(), "MYINDEX"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// vaultStore adapts fakeSources records for the real vault, so the
// rotation/invalidation path is exercised end to end
type vaultStore struct {
	src *fakeSources
}

func (v *vaultStore) ReadRecord(name string) (*models.ProviderRecord, error) {
	return v.src.ReadRecord(name)
}

func (v *vaultStore) WriteCredentials(name string, nonce, ciphertext []byte) error {
	v.src.mu.Lock()
	defer v.src.mu.Unlock()
	r, ok := v.src.recs[name]
	if !ok {
		return fmt.Errorf("provider not found: %s", name)
	}
	r.Nonce = nonce
	r.Ciphertext = ciphertext
	return nil
}

func TestRotationInvalidatesAndReloadsWithNewSecrets(t *testing.T) {
	src := newFakeSources()
	src.recs["KRAKEN"] = &models.ProviderRecord{
		Name:        "KRAKEN",
		Kind:        models.KindLive,
		ContentHash: "sha256:feedface",
	}

	credVault := vault.New(&vaultStore{src: src})

	var constructions int32
	cache := NewCache(src, credVault, src, func(ctx context.Context, rec *models.ProviderRecord, secrets map[string]string, prefs models.PreferenceBlob) (Instance, error) {
		atomic.AddInt32(&constructions, 1)
		return &testInstance{name: rec.Name, secrets: secrets}, nil
	})
	credVault.SetInvalidator(cache)

	if err := credVault.Rotate("KRAKEN", map[string]string{"api_key": "old"}); err != nil {
		t.Fatalf("initial rotation failed: %v", err)
	}

	inst, err := cache.Get(context.Background(), "KRAKEN")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := inst.(*testInstance).secrets["api_key"]; got != "old" {
		t.Fatalf("want api_key=old, got %q", got)
	}

	// Rotation persists the new payload and evicts the loaded instance
	if err := credVault.Rotate("KRAKEN", map[string]string{"api_key": "new"}); err != nil {
		t.Fatalf("rotation failed: %v", err)
	}
	if cache.Loaded("KRAKEN") {
		t.Fatal("rotation must invalidate the cached instance")
	}

	reloaded, err := cache.Get(context.Background(), "KRAKEN")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reloaded == inst {
		t.Fatal("next Get after rotation must construct a fresh instance")
	}
	if got := reloaded.(*testInstance).secrets["api_key"]; got != "new" {
		t.Fatalf("fresh instance must see the rotated secrets, got %q", got)
	}
	if n := atomic.LoadInt32(&constructions); n != 2 {
		t.Fatalf("want 2 constructions, got %d", n)
	}
}
