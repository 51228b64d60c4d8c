package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

// SnapshotV1 holds what is needed to rebuild a world: the placed blocks.
// Network state is derived, so it is rebuilt by replaying placements.
type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRate        int `json:"tick_rate_hz"`
	BoundaryR       int `json:"boundary_r"`
	MaxEditsPerTick int `json:"max_edits_per_tick,omitempty"`

	RateLimits  RateLimitsV1            `json:"rate_limits,omitempty"`
	RateWindows map[string]RateWindowV1 `json:"rate_windows,omitempty"`

	Blocks []BlockV1 `json:"blocks"`

	Counters CountersV1 `json:"counters"`
}

type RateLimitsV1 struct {
	EditWindowTicks int `json:"edit_window_ticks,omitempty"`
	EditMax         int `json:"edit_max,omitempty"`
}

type RateWindowV1 struct {
	StartTick uint64 `json:"start_tick"`
	Count     int    `json:"count"`
}

type BlockV1 struct {
	Pos     [3]int   `json:"pos"`
	ID      string   `json:"id"`
	Facing  string   `json:"facing"`
	Turn    string   `json:"turn,omitempty"`
	Engaged bool     `json:"engaged,omitempty"`
	Faces   []string `json:"faces,omitempty"`
}

type CountersV1 struct {
	// NextNetwork is informational: network ids are reassigned when a
	// snapshot is replayed into a fresh manager.
	NextNetwork uint64 `json:"next_network"`
	Networks    int    `json:"networks"`
}

// WriteSnapshot writes to a temp file in the same directory and renames it
// into place, so readers and uploaders never see a partial snapshot.
func WriteSnapshot(path string, snap SnapshotV1) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := encodeSnapshot(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func encodeSnapshot(w io.Writer, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := encodeBody(enc, snap); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func encodeBody(w io.Writer, snap SnapshotV1) error {
	bw := bufio.NewWriterSize(w, 256*1024)
	hb, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return bw.Flush()
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

	// Header line is for tools that only peek; gob carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader reads only the JSON header line.
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
		return h, err
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}

// Latest returns the highest-tick <tick>.snap.zst under worldDir/snapshots,
// or "" when there is none.
func Latest(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	type cand struct {
		tick uint64
		path string
	}
	var cands []cand
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		cands = append(cands, cand{tick: tick, path: filepath.Join(dir, name)})
	}
	if len(cands) == 0 {
		return ""
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].tick > cands[j].tick })
	return cands[0].path
}
