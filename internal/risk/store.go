package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"
)

// OpenOrderRecord is one registered open order, keyed by "<symbol>_<side>".
// At most one record may exist per key; this is the duplicate-prevention
// contract.
type OpenOrderRecord struct {
	Symbol       string
	Side         string
	Volume       float64
	Price        float64
	RegisteredAt time.Time
}

// Key returns the registry key for a (symbol, side) pair.
func Key(symbol, side string) string {
	return symbol + "_" + side
}

// recordJSON pins the persisted encoding: volumes and prices as decimal
// strings, timestamps as RFC 3339. The file must stay stable across
// runtimes, so no field relies on a serializer default.
type recordJSON struct {
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	Volume       string `json:"volume"`
	Price        string `json:"price"`
	RegisteredAt string `json:"registered_at"`
}

type snapshotJSON struct {
	Orders    map[string]recordJSON `json:"orders"`
	Timestamp string                `json:"timestamp"`
}

// Store persists the full open-order registry as a single JSON document.
// Every write goes to a temp file in the same directory, is fsynced, then
// atomically renamed over the target, so a crash at any point leaves the
// previous snapshot intact.
type Store struct {
	path string
	// lockFile enables an advisory flock around each write for deployments
	// where more than one OS process shares the registry file. The
	// in-process mutex in Manager is always required regardless.
	lockFile bool
}

// NewStore creates a snapshot store at path. The parent directory is
// created if missing.
func NewStore(path string, lockFile bool) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("registry path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	return &Store{path: path, lockFile: lockFile}, nil
}

// Load reads the snapshot. A missing file is a valid empty-state start and
// returns an empty map, not an error.
func (s *Store) Load() (map[string]OpenOrderRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]OpenOrderRecord{}, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var snap snapshotJSON
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	out := make(map[string]OpenOrderRecord, len(snap.Orders))
	for key, rec := range snap.Orders {
		volume, err := strconv.ParseFloat(rec.Volume, 64)
		if err != nil {
			return nil, fmt.Errorf("parse registry volume for %s: %w", key, err)
		}
		price, err := strconv.ParseFloat(rec.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("parse registry price for %s: %w", key, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, rec.RegisteredAt)
		if err != nil {
			return nil, fmt.Errorf("parse registry timestamp for %s: %w", key, err)
		}
		out[key] = OpenOrderRecord{
			Symbol:       rec.Symbol,
			Side:         rec.Side,
			Volume:       volume,
			Price:        price,
			RegisteredAt: ts,
		}
	}
	return out, nil
}

// Save writes the full registry snapshot durably.
func (s *Store) Save(orders map[string]OpenOrderRecord) error {
	snap := snapshotJSON{
		Orders:    make(map[string]recordJSON, len(orders)),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	for key, rec := range orders {
		snap.Orders[key] = recordJSON{
			Symbol:       rec.Symbol,
			Side:         rec.Side,
			Volume:       strconv.FormatFloat(rec.Volume, 'f', -1, 64),
			Price:        strconv.FormatFloat(rec.Price, 'f', -1, 64),
			RegisteredAt: rec.RegisteredAt.UTC().Format(time.RFC3339Nano),
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	if s.lockFile {
		unlock, err := s.acquireFileLock()
		if err != nil {
			return err
		}
		defer unlock()
	}

	// Temp file in the same directory so the rename stays on one filesystem.
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create registry temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write registry temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync registry temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close registry temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

// acquireFileLock takes an exclusive advisory lock on a sidecar lock file.
// Advisory locks coordinate multiple processes on the same host; they do
// not replace the in-process mutex.
func (s *Store) acquireFileLock() (func(), error) {
	f, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open registry lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock registry file: %w", err)
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}

// SortedKeys returns registry keys in deterministic order, used by
// human-facing renderings.
func SortedKeys(orders map[string]OpenOrderRecord) []string {
	keys := make([]string, 0, len(orders))
	for k := range orders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
