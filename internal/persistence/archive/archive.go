// Package archive keeps a world's snapshot directory bounded by moving older
// snapshots under worldDir/archives.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const snapSuffix = ".snap.zst"

type Entry struct {
	Tick uint64
	Path string
}

type Meta struct {
	Tick       uint64 `json:"tick"`
	Snapshot   string `json:"snapshot"`
	ArchivedAt string `json:"archived_at"`
}

// List returns the snapshots in dir ordered by tick. Files not named
// "<tick>.snap.zst" are ignored. A missing dir yields no entries.
func List(dir string) ([]Entry, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		base, ok := strings.CutSuffix(e.Name(), snapSuffix)
		if !ok {
			continue
		}
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Entry{Tick: tick, Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out, nil
}

// Retain moves all but the newest keep snapshots of worldDir/snapshots into
// worldDir/archives/tick_<N>/ next to a meta.json. keep <= 0 disables it.
func Retain(worldDir string, keep int) (archived []string, err error) {
	if keep <= 0 {
		return nil, nil
	}
	snaps, err := List(filepath.Join(worldDir, "snapshots"))
	if err != nil || len(snaps) <= keep {
		return nil, err
	}
	for _, e := range snaps[:len(snaps)-keep] {
		dst, err := archiveOne(worldDir, e)
		if err != nil {
			return archived, err
		}
		archived = append(archived, dst)
	}
	return archived, nil
}

func archiveOne(worldDir string, e Entry) (string, error) {
	dir := filepath.Join(worldDir, "archives", fmt.Sprintf("tick_%d", e.Tick))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(e.Path))
	if err := os.Rename(e.Path, dst); err != nil {
		// Cross-device moves fall back to copy and remove.
		if err := copyFile(e.Path, dst); err != nil {
			return "", err
		}
		if err := os.Remove(e.Path); err != nil {
			return "", err
		}
	}
	meta := Meta{
		Tick:       e.Tick,
		Snapshot:   filepath.Base(dst),
		ArchivedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644)
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
