package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int       `json:"version"`
	Label   string    `json:"label,omitempty"`
	SavedAt time.Time `json:"saved_at"`
	Digest  string    `json:"digest"`
}

// SnapshotV1 is the full state of a hosted grid: terrain and units.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Width    int      `json:"width"`
	Height   int      `json:"height"`
	TilesRLE string   `json:"tiles_rle"`
	Units    []UnitV1 `json:"units"`
}

type UnitV1 struct {
	Handle     int    `json:"handle"`
	Nation     int    `json:"nation"`
	MobileType uint8  `json:"mobile_type"`
	Action     uint8  `json:"action"`
	Pos        [2]int `json:"pos"`
	Goal       [2]int `json:"goal"`
	Ordered    bool   `json:"ordered,omitempty"`
	AIBusy     bool   `json:"ai_busy,omitempty"`
	Orders     int    `json:"orders,omitempty"`
}

// WriteSnapshot writes a JSON header line followed by the gob-encoded
// snapshot, zstd-compressed. The file appears under path only once complete.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, snap SnapshotV1) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	bw := bufio.NewWriter(zw)
	werr := json.NewEncoder(bw).Encode(snap.Header)
	if werr == nil {
		werr = gob.NewEncoder(bw).Encode(&snap)
	}
	if werr == nil {
		werr = bw.Flush()
	}
	if err := zw.Close(); werr == nil {
		werr = err
	}
	if err := f.Close(); werr == nil {
		werr = err
	}
	return werr
}

// ReadHeader decodes only the header line.
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
		return h, fmt.Errorf("header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
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

	br := bufio.NewReader(dec)
	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// List returns the *.snap.zst files in dir, oldest first.
func List(dir string) []string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".snap.zst") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out
}

// Latest returns the newest snapshot in dir, or "" when none.
func Latest(dir string) string {
	all := List(dir)
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1]
}

// PathFor names a snapshot file after its save time so Latest sorts correctly.
func PathFor(dir string, at time.Time) string {
	return filepath.Join(dir, at.UTC().Format("20060102T150405.000000000")+".snap.zst")
}
