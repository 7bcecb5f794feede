package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oranchan/Meme/internal/domain"
	"github.com/oranchan/Meme/internal/fees"
	"github.com/oranchan/Meme/internal/limiter"
)

// Snapshot is a point-in-time capture of the whole engine state: balances,
// rate windows, and fee accumulators. Used for fast recovery on startup.
type Snapshot struct {
	Seq      uint64                                 `json:"seq"` // applied-transfer count at capture
	TsUnix   int64                                  `json:"ts"`
	Supply   domain.Units                           `json:"supply"`
	Balances map[domain.Address]domain.Units        `json:"balances"`
	Windows  map[domain.Address]limiter.WindowState `json:"windows"`
	Buckets  fees.Buckets                           `json:"buckets"`
	LastFee  domain.Units                           `json:"last_fee"`
}

// NewSnapshot assembles a snapshot from copies of the live state.
func NewSnapshot(seq uint64, supply domain.Units, balances map[domain.Address]domain.Units,
	windows map[domain.Address]limiter.WindowState, buckets fees.Buckets, lastFee domain.Units) *Snapshot {
	return &Snapshot{
		Seq:      seq,
		TsUnix:   time.Now().Unix(),
		Supply:   supply,
		Balances: balances,
		Windows:  windows,
		Buckets:  buckets,
		LastFee:  lastFee,
	}
}

// SnapshotManager handles saving and loading snapshots.
type SnapshotManager struct {
	dir string
}

// NewSnapshotManager creates a snapshot manager over dir.
func NewSnapshotManager(dir string) *SnapshotManager {
	return &SnapshotManager{dir: dir}
}

// Save writes a snapshot to disk.
func (sm *SnapshotManager) Save(snap *Snapshot) error {
	if err := os.MkdirAll(sm.dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	filename := fmt.Sprintf("snapshot_%d_%d.json", snap.Seq, snap.TsUnix)
	path := filepath.Join(sm.dir, filename)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	slog.Info("Snapshot saved", slog.Uint64("seq", snap.Seq), slog.String("path", path))
	return nil
}

// LoadLatest loads the snapshot with the highest sequence. Returns nil if
// none exist.
func (sm *SnapshotManager) LoadLatest() (*Snapshot, error) {
	entries, err := os.ReadDir(sm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}

	var latestPath string
	var latestSeq uint64
	found := false

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var seq uint64
		var ts int64
		if _, err := fmt.Sscanf(entry.Name(), "snapshot_%d_%d.json", &seq, &ts); err != nil {
			continue
		}
		if !found || seq > latestSeq {
			found = true
			latestSeq = seq
			latestPath = filepath.Join(sm.dir, entry.Name())
		}
	}

	if !found {
		return nil, nil
	}

	data, err := os.ReadFile(latestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	slog.Info("Snapshot loaded", slog.Uint64("seq", snap.Seq), slog.String("path", latestPath))
	return &snap, nil
}

// Cleanup removes old snapshots, keeping only the latest keepCount.
func (sm *SnapshotManager) Cleanup(keepCount int) error {
	entries, err := os.ReadDir(sm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type snapFile struct {
		path string
		seq  uint64
	}
	var files []snapFile

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var seq uint64
		var ts int64
		if _, err := fmt.Sscanf(entry.Name(), "snapshot_%d_%d.json", &seq, &ts); err == nil {
			files = append(files, snapFile{path: filepath.Join(sm.dir, entry.Name()), seq: seq})
		}
	}

	if len(files) <= keepCount {
		return nil
	}

	// Sort by sequence descending (small N)
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			if files[j].seq > files[i].seq {
				files[i], files[j] = files[j], files[i]
			}
		}
	}

	for i := keepCount; i < len(files); i++ {
		if err := os.Remove(files[i].path); err != nil {
			slog.Warn("Failed to remove old snapshot", slog.String("path", files[i].path))
		} else {
			slog.Info("Removed old snapshot", slog.String("path", files[i].path))
		}
	}
	return nil
}
