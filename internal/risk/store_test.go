package risk

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "registry.json"), false)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	in := map[string]OpenOrderRecord{
		"EURUSD_BUY": {
			Symbol:       "EURUSD",
			Side:         "BUY",
			Volume:       0.5,
			Price:        1.0855,
			RegisteredAt: time.Date(2026, 3, 14, 9, 30, 0, 123456789, time.UTC),
		},
		"XAUUSD_SELL": {
			Symbol:       "XAUUSD",
			Side:         "SELL",
			Volume:       2.0,
			Price:        1950.25,
			RegisteredAt: time.Date(2026, 3, 14, 10, 0, 5, 0, time.UTC),
		},
		"BTCUSD_BUY": {
			Symbol:       "BTCUSD",
			Side:         "BUY",
			Volume:       0.01,
			Price:        68000.0,
			RegisteredAt: time.Now().UTC().Truncate(time.Nanosecond),
		},
	}

	if err := store.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(out) != len(in) {
		t.Fatalf("loaded %d records, expected %d", len(out), len(in))
	}
	for key, want := range in {
		got, ok := out[key]
		if !ok {
			t.Fatalf("key %s missing after round trip", key)
		}
		if got.Symbol != want.Symbol || got.Side != want.Side {
			t.Fatalf("key %s identity changed: %+v", key, got)
		}
		if got.Volume != want.Volume || got.Price != want.Price {
			t.Fatalf("key %s numbers changed: got volume=%v price=%v", key, got.Volume, got.Price)
		}
		if !got.RegisteredAt.Equal(want.RegisteredAt) {
			t.Fatalf("key %s timestamp changed: got %v, want %v", key, got.RegisteredAt, want.RegisteredAt)
		}
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "registry.json"), false)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	out, err := store.Load()
	if err != nil {
		t.Fatalf("missing file must load as empty state, got %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty registry, got %d records", len(out))
	}
}

func TestStoreLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := NewStore(path, false)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.Load(); err == nil {
		t.Fatal("corrupt snapshot must fail loudly, not silently reset")
	}
}

// A crash between writing the temp file and renaming it leaves a stray
// temp file behind; the previous snapshot must still load intact.
func TestStoreSurvivesInterruptedWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	store, err := NewStore(path, false)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	committed := map[string]OpenOrderRecord{
		"EURUSD_BUY": {
			Symbol:       "EURUSD",
			Side:         "BUY",
			Volume:       1.0,
			Price:        1.1,
			RegisteredAt: time.Now().UTC(),
		},
	}
	if err := store.Save(committed); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Simulate the crash: a half-written temp file next to the snapshot.
	stray := filepath.Join(dir, "registry.json.tmp-crash")
	if err := os.WriteFile(stray, []byte(`{"orders": {"XAUUSD_`), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := store.Load()
	if err != nil {
		t.Fatalf("Load after simulated crash: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected the committed snapshot, got %d records", len(out))
	}
	if _, ok := out["EURUSD_BUY"]; !ok {
		t.Fatal("committed record lost after simulated crash")
	}
}

func TestStoreSaveWithFileLock(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "registry.json"), true)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Save(map[string]OpenOrderRecord{}); err != nil {
		t.Fatalf("Save with lock: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "registry.json.lock")); err != nil {
		t.Fatalf("lock sidecar not created: %v", err)
	}
}

// Registry recovery: a new manager over an existing snapshot must refuse
// duplicates for the recovered keys.
func TestManagerRecoversRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")

	store, err := NewStore(path, false)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	first, err := NewManager(testLimits(), store, false)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := first.CheckAndRegister("EURUSD", "BUY", 1.0, 1.1); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Fresh process: same file, new manager.
	store2, err := NewStore(path, false)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	second, err := NewManager(testLimits(), store2, false)
	if err != nil {
		t.Fatalf("NewManager over snapshot: %v", err)
	}
	if second.OpenCount() != 1 {
		t.Fatalf("recovered %d records, expected 1", second.OpenCount())
	}
	if err := second.CheckAndRegister("EURUSD", "BUY", 1.0, 1.1); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("recovered registry must reject duplicates, got %v", err)
	}
}

// A failed snapshot write must roll back the in-memory mutation so memory
// and disk never disagree.
func TestCheckAndRegisterRollsBackOnPersistFailure(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "reg")
	store, err := NewStore(filepath.Join(sub, "registry.json"), false)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	mgr, err := NewManager(testLimits(), store, false)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	// Break the snapshot directory out from under the store.
	if err := os.RemoveAll(sub); err != nil {
		t.Fatal(err)
	}

	err = mgr.CheckAndRegister("EURUSD", "BUY", 1.0, 1.1)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if mgr.OpenCount() != 0 {
		t.Fatalf("in-memory registry kept a record the disk rejected: %d", mgr.OpenCount())
	}
}

func TestAsyncPersistenceFlushesOnClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")

	store, err := NewStore(path, false)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	mgr, err := NewManager(testLimits(), store, true)
	if err != nil {
		t.Fatalf("NewManager async: %v", err)
	}
	if err := mgr.CheckAndRegister("EURUSD", "BUY", 1.0, 1.1); err != nil {
		t.Fatalf("register: %v", err)
	}
	mgr.Close()

	// Close triggers the final flush from the worker; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		out, err := store.Load()
		if err == nil && len(out) == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot not flushed after Close: records=%d err=%v", len(out), err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
