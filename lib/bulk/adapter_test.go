package bulk_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/tkv/lib/bulk"
	"github.com/ValentinKolb/tkv/lib/bulk/drivers/bolt"
)

// --------------------------------------------------------------------------
// Failure injection
// --------------------------------------------------------------------------

var errInjected = errors.New("injected failure")

// flakyDriver wraps a driver and fails on demand
type flakyDriver struct {
	bulk.Driver
	failOpen atomic.Bool
	failOps  atomic.Bool
	opens    atomic.Int32

	// when set, Open signals entered and waits for gate
	entered chan struct{}
	gate    chan struct{}
}

func (d *flakyDriver) Open(ctx context.Context, path string) (bulk.Database, error) {
	if d.failOpen.Load() {
		return nil, errInjected
	}
	if d.gate != nil {
		d.entered <- struct{}{}
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.opens.Add(1)
	db, err := d.Driver.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &flakyDB{Database: db, driver: d}, nil
}

type flakyDB struct {
	bulk.Database
	driver *flakyDriver
}

func (db *flakyDB) Get(ctx context.Context, store, key string) ([]byte, bool, error) {
	if db.driver.failOps.Load() {
		return nil, false, errInjected
	}
	return db.Database.Get(ctx, store, key)
}

func (db *flakyDB) Put(ctx context.Context, store, key string, record []byte) error {
	if db.driver.failOps.Load() {
		return errInjected
	}
	return db.Database.Put(ctx, store, key, record)
}

func newAdapter(t *testing.T) (*bulk.Adapter, *bulk.Factory, *flakyDriver) {
	t.Helper()
	driver := &flakyDriver{Driver: bolt.New()}
	f := bulk.NewFactory(t.TempDir(), driver)
	a := bulk.NewAdapter(f, nil)
	t.Cleanup(func() {
		_ = a.Close()
		_ = f.Close()
	})
	return a, f, driver
}

// waitState polls until the adapter reaches want
func waitState(t *testing.T, a *bulk.Adapter, want bulk.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for a.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Expected state %s, still %s", want, a.State())
		}
		time.Sleep(time.Millisecond)
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestAdapterLazyOpen(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newAdapter(t)

	if a.State() != bulk.StateUninitialized {
		t.Fatalf("Expected uninitialized adapter, got %s", a.State())
	}

	if _, ok, err := a.Read(ctx, "missing"); ok || err != nil {
		t.Fatalf("Expected miss, got ok=%v err=%v", ok, err)
	}
	if a.State() != bulk.StateReady {
		t.Errorf("Expected ready adapter after first read, got %s", a.State())
	}

	if err := a.Write(ctx, "draft", []byte(`{"title":"hello"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	v, ok, err := a.Read(ctx, "draft")
	if err != nil || !ok || string(v) != `{"title":"hello"}` {
		t.Fatalf("Expected stored value, got %s ok=%v err=%v", v, ok, err)
	}

	if a.Opens() != 1 {
		t.Errorf("Expected one open, got %d", a.Opens())
	}
}

func TestAdapterStorageItem(t *testing.T) {
	ctx := context.Background()
	f := bulk.NewFactory(t.TempDir(), bolt.New())
	defer f.Close()

	written := time.UnixMilli(1_700_000_000_123)
	a := bulk.NewAdapter(f, &bulk.Options{Clock: func() time.Time { return written }})
	defer a.Close()

	if err := a.Write(ctx, "draft", []byte(`[1, 2]`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	conn, err := f.Open(ctx, "tkv", 1, []string{"kv"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	record, ok, _ := conn.Get(ctx, "kv", "draft")
	if !ok {
		t.Fatal("Expected record in store kv")
	}
	item, err := bulk.DecodeStorageItem(record)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if item.Key != "draft" || string(item.Value) != `[1,2]` || !item.WrittenAt().Equal(written) {
		t.Errorf("Unexpected item %+v", item)
	}

	if err := a.Write(ctx, "bad", []byte("{")); err == nil {
		t.Errorf("Expected error for invalid JSON value")
	}
}

func TestAdapterSharedOpen(t *testing.T) {
	ctx := context.Background()
	a, _, driver := newAdapter(t)

	const callers = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, _, err := a.Read(ctx, "theme"); err != nil {
				t.Errorf("Read failed: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if a.Opens() != 1 {
		t.Errorf("Expected callers to share one open, got %d", a.Opens())
	}
	if driver.opens.Load() != 1 {
		t.Errorf("Expected one physical open, got %d", driver.opens.Load())
	}
}

func TestAdapterOpenFailure(t *testing.T) {
	ctx := context.Background()
	a, _, driver := newAdapter(t)

	driver.failOpen.Store(true)
	if _, _, err := a.Read(ctx, "theme"); !errors.Is(err, errInjected) {
		t.Fatalf("Expected open failure, got %v", err)
	}
	if a.State() != bulk.StateUninitialized {
		t.Errorf("Expected uninitialized after failed open, got %s", a.State())
	}

	driver.failOpen.Store(false)
	if _, _, err := a.Read(ctx, "theme"); err != nil {
		t.Errorf("Expected next call to open again, got %v", err)
	}
	if a.State() != bulk.StateReady {
		t.Errorf("Expected ready, got %s", a.State())
	}
}

func TestAdapterBackendError(t *testing.T) {
	ctx := context.Background()
	a, _, driver := newAdapter(t)

	_ = a.Write(ctx, "draft", []byte(`"v1"`))

	driver.failOps.Store(true)
	if _, _, err := a.Read(ctx, "draft"); !errors.Is(err, errInjected) {
		t.Fatalf("Expected backend error, got %v", err)
	}
	if a.State() != bulk.StateUninitialized {
		t.Errorf("Expected connection to be discarded, got %s", a.State())
	}
	if err := a.Write(ctx, "draft", []byte(`"v2"`)); !errors.Is(err, errInjected) {
		t.Fatalf("Expected backend error on write, got %v", err)
	}

	driver.failOps.Store(false)
	v, ok, err := a.Read(ctx, "draft")
	if err != nil || !ok || string(v) != `"v1"` {
		t.Errorf("Expected recovery with old value, got %s ok=%v err=%v", v, ok, err)
	}
	if a.Opens() != 3 {
		t.Errorf("Expected three opens, got %d", a.Opens())
	}
	if a.Stats().Failures != 2 {
		t.Errorf("Expected two failures, got %d", a.Stats().Failures)
	}
}

func TestAdapterLifecycleEvents(t *testing.T) {
	for _, tt := range []struct {
		name    string
		trigger func(f *bulk.Factory) error
		want    bulk.EventType
	}{
		{"VersionChange", func(f *bulk.Factory) error { return f.SignalVersionChange("tkv") }, bulk.EventVersionChange},
		{"ExternalClose", func(f *bulk.Factory) error { return f.CloseDatabase("tkv") }, bulk.EventClose},
	} {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			a, f, _ := newAdapter(t)

			resets := make(chan *bulk.Event, 4)
			a.SetResetHandler(func(ev *bulk.Event) { resets <- ev })

			_ = a.Write(ctx, "draft", []byte(`"v1"`))

			if err := tt.trigger(f); err != nil {
				t.Fatalf("Trigger failed: %v", err)
			}

			select {
			case ev := <-resets:
				if ev.Type != tt.want {
					t.Errorf("Expected %s, got %s", tt.want, ev.Type)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Reset handler was not called")
			}
			waitState(t, a, bulk.StateUninitialized)

			v, ok, err := a.Read(ctx, "draft")
			if err != nil || !ok || string(v) != `"v1"` {
				t.Fatalf("Expected transparent reopen, got %s ok=%v err=%v", v, ok, err)
			}
			if a.Opens() != 2 {
				t.Errorf("Expected a second open, got %d", a.Opens())
			}
			if a.Stats().Resets != 1 {
				t.Errorf("Expected one reset, got %d", a.Stats().Resets)
			}
		})
	}
}

func TestAdapterUseRightAfterEvent(t *testing.T) {
	for _, tt := range []struct {
		name    string
		trigger func(f *bulk.Factory) error
	}{
		{"VersionChange", func(f *bulk.Factory) error { return f.SignalVersionChange("tkv") }},
		{"ExternalClose", func(f *bulk.Factory) error { return f.CloseDatabase("tkv") }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			a, f, _ := newAdapter(t)

			const rounds = 20
			for i := 0; i < rounds; i++ {
				want := fmt.Sprintf(`"v%d"`, i)
				if err := a.Write(ctx, "draft", []byte(want)); err != nil {
					t.Fatalf("Write #%d failed: %v", i, err)
				}
				if err := tt.trigger(f); err != nil {
					t.Fatalf("Trigger failed: %v", err)
				}

				// no waiting for the watcher
				v, ok, err := a.Read(ctx, "draft")
				if err != nil || !ok || string(v) != want {
					t.Fatalf("Round %d: expected %s right after the event, got %s ok=%v err=%v", i, want, v, ok, err)
				}
			}

			if a.Opens() != rounds+1 {
				t.Errorf("Expected %d opens, got %d", rounds+1, a.Opens())
			}
			if a.Stats().Failures != 0 {
				t.Errorf("Expected no discarded connections, got %d", a.Stats().Failures)
			}
		})
	}
}

func TestAdapterOpenSurvivesCallerCancel(t *testing.T) {
	a, _, driver := newAdapter(t)
	driver.entered = make(chan struct{}, 1)
	driver.gate = make(chan struct{})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := a.Read(first, "theme")
		firstErr <- err
	}()
	<-driver.entered

	secondErr := make(chan error, 1)
	go func() {
		_, _, err := a.Read(context.Background(), "theme")
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected the cancelled caller to give up, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Cancelled caller still waiting for the open")
	}

	close(driver.gate)
	select {
	case err := <-secondErr:
		if err != nil {
			t.Errorf("Expected the shared open to finish for the other caller, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Second caller did not finish")
	}

	if a.Opens() != 1 || driver.opens.Load() != 1 {
		t.Errorf("Expected one shared open, got %d adapter / %d physical", a.Opens(), driver.opens.Load())
	}
	if a.State() != bulk.StateReady {
		t.Errorf("Expected ready, got %s", a.State())
	}
}

func TestAdapterUpgradeByOtherParty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := bulk.NewFactory(dir, bolt.New())
	defer f.Close()

	a := bulk.NewAdapter(f, nil)
	defer a.Close()

	resets := make(chan *bulk.Event, 1)
	a.SetResetHandler(func(ev *bulk.Event) { resets <- ev })
	_ = a.Write(ctx, "draft", []byte(`"v1"`))

	// a newer schema takes over the database
	newer, err := f.Open(ctx, "tkv", 2, []string{"kv"})
	if err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	defer newer.Close()

	select {
	case ev := <-resets:
		if ev.NewVersion != 2 {
			t.Errorf("Expected new version 2, got %d", ev.NewVersion)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reset handler was not called")
	}

	// the adapter still wants version 1, which is now too old
	waitState(t, a, bulk.StateUninitialized)
	if _, _, err := a.Read(ctx, "draft"); !errors.Is(err, bulk.ErrVersion) {
		t.Errorf("Expected ErrVersion, got %v", err)
	}
}

func TestAdapterKeysClearRemove(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newAdapter(t)

	for _, k := range []string{"b", "a", "c"} {
		_ = a.Write(ctx, k, []byte(`1`))
	}
	_ = a.Remove(ctx, "b")

	keys, err := a.Keys(ctx)
	if err != nil || len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Errorf("Expected [a c], got %v (%v)", keys, err)
	}

	for i := 0; i < 2; i++ {
		if err := a.Clear(ctx); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		if keys, _ := a.Keys(ctx); len(keys) != 0 {
			t.Errorf("Expected no keys after clear, got %v", keys)
		}
	}
}

func TestAdapterClose(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newAdapter(t)

	_ = a.Write(ctx, "a", []byte(`1`))
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if a.State() != bulk.StateClosed {
		t.Errorf("Expected closed state, got %s", a.State())
	}
	if _, _, err := a.Read(ctx, "a"); !errors.Is(err, bulk.ErrAdapterClosed) {
		t.Errorf("Expected ErrAdapterClosed, got %v", err)
	}
	if err := a.Write(ctx, "a", []byte(`1`)); !bulk.IsClosed(err) {
		t.Errorf("Expected closed error, got %v", err)
	}
}

func TestAdapterStats(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newAdapter(t)

	_ = a.Write(ctx, "a", []byte(`1`))
	_, _, _ = a.Read(ctx, "a")
	_, _, _ = a.Read(ctx, "b")

	stats := a.Stats()
	if stats.Driver != "bolt" || stats.State != "ready" {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if stats.Timers["bulk.read"].Count != 2 || stats.Timers["bulk.write"].Count != 1 {
		t.Errorf("Unexpected timer counts %+v", stats.Timers)
	}
}

func TestAdapterDatabaseFile(t *testing.T) {
	// the factory names files after the driver
	dir := t.TempDir()
	f := bulk.NewFactory(dir, bolt.New())
	defer f.Close()
	a := bulk.NewAdapter(f, &bulk.Options{Name: "profile"})
	defer a.Close()

	_ = a.Write(context.Background(), "a", []byte(`1`))
	if matches, _ := filepath.Glob(filepath.Join(dir, "profile.bolt")); len(matches) != 1 {
		t.Errorf("Expected database file profile.bolt in %s", dir)
	}
}
