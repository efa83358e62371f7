// Package snapshot persists full scheduler state as a zstd stream holding a
// JSON header line followed by a gob body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"dronecraft.ai/internal/sim/drone"
	"dronecraft.ai/internal/sim/jobs"
	"dronecraft.ai/internal/sim/ledger"
	"dronecraft.ai/internal/sim/world"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRate   int `json:"tick_rate_hz"`
	BoundaryR  int `json:"boundary_r"`
	BucketSize int `json:"bucket_size"`

	Cells  []world.CellRecord `json:"cells"`
	Ledger ledger.State       `json:"ledger"`
	Jobs   []jobs.Record      `json:"jobs"`
	Drones []drone.Record     `json:"drones"`

	Counters CountersV1 `json:"counters"`
}

type CountersV1 struct {
	NextDrone uint64 `json:"next_drone"`
	Retired   uint64 `json:"retired"`
}

var ErrVersion = errors.New("snapshot: unsupported version")

// Validate rejects snapshots this build cannot resume from.
func (s *SnapshotV1) Validate() error {
	if s.Header.Version != Version {
		return fmt.Errorf("%w %d", ErrVersion, s.Header.Version)
	}
	seen := make(map[string]bool, len(s.Drones))
	for _, d := range s.Drones {
		if d.ID == "" || seen[d.ID] {
			return fmt.Errorf("snapshot: bad or duplicate drone id %q", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// Path is the conventional file name for a snapshot taken at tick.
func Path(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.snap.zst", tick))
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header; the line exists for cheap inspection.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
