// Package scenario loads reproducible vacate situations: a map, the units on
// it and a list of vacate requests with optional expectations.
package scenario

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"clearsite.ai/internal/sim/tuning"
	"clearsite.ai/internal/sim/world/grid"
	"clearsite.ai/internal/sim/world/logic/vacate"
)

//go:embed scenario.schema.json
var schemaJSON string

const schemaURL = "scenario.schema.json"

var schema = jsonschema.MustCompileString(schemaURL, schemaJSON)

type Scenario struct {
	Name     string    `json:"name"`
	Seed     int64     `json:"seed,omitempty"`
	Map      MapSpec   `json:"map"`
	Units    []Unit    `json:"units,omitempty"`
	Requests []Request `json:"requests"`
	// Digest is the SHA-256 of the file as read.
	Digest string `json:"-"`
}

type MapSpec struct {
	Rows     []string    `json:"rows,omitempty"`
	Width    int         `json:"width,omitempty"`
	Height   int         `json:"height,omitempty"`
	TilesRLE string      `json:"tiles_rle,omitempty"`
	Generate *tuning.Map `json:"generate,omitempty"`
}

type Unit struct {
	Handle  int         `json:"handle"`
	Nation  int         `json:"nation"`
	Type    string      `json:"type,omitempty"`
	X       int         `json:"x"`
	Y       int         `json:"y"`
	Action  string      `json:"action,omitempty"`
	Goal    *vacate.Pos `json:"goal,omitempty"`
	Ordered bool        `json:"ordered,omitempty"`
	AIBusy  bool        `json:"ai_busy,omitempty"`
}

type Request struct {
	Footprint vacate.Footprint `json:"footprint"`
	Nation    int              `json:"nation"`
	Builder   int              `json:"builder"`
	// Settle lets queued moves land before this request runs.
	Settle bool    `json:"settle,omitempty"`
	Expect *Expect `json:"expect,omitempty"`
}

type Expect struct {
	Error     string         `json:"error,omitempty"`
	Remaining *int           `json:"remaining,omitempty"`
	Orders    *int           `json:"orders,omitempty"`
	Stages    []vacate.Stage `json:"stages,omitempty"`
}

// Load reads a scenario file; names ending in .zst are zstd-compressed.
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		raw, err = io.ReadAll(dec)
		dec.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	sc, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse validates raw JSON against the scenario schema and decodes it.
func Parse(raw []byte) (*Scenario, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, err
	}
	var sc Scenario
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, err
	}
	sc.Digest = sha256Hex(raw)
	return &sc, nil
}

// Save writes the scenario as indented JSON, zstd-compressed for .zst paths.
func Save(path string, sc *Scenario) error {
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return err
		}
		b = enc.EncodeAll(b, nil)
		_ = enc.Close()
	}
	return os.WriteFile(path, b, 0o644)
}

// Build creates the world the scenario describes.
func (sc *Scenario) Build() (*grid.World, error) {
	var w *grid.World
	switch {
	case len(sc.Map.Rows) > 0:
		var err error
		if w, err = grid.ParseRows(sc.Map.Rows); err != nil {
			return nil, err
		}
	case sc.Map.TilesRLE != "":
		w = grid.New(sc.Map.Width, sc.Map.Height)
		if err := w.SetTilesRLE(sc.Map.TilesRLE); err != nil {
			return nil, err
		}
	case sc.Map.Generate != nil:
		w = grid.Generate(*sc.Map.Generate)
	default:
		return nil, fmt.Errorf("scenario %q: no map", sc.Name)
	}

	for _, u := range sc.Units {
		mt, err := ParseMobileType(u.Type)
		if err != nil {
			return nil, fmt.Errorf("unit %d: %w", u.Handle, err)
		}
		act, err := parseAction(u.Action)
		if err != nil {
			return nil, fmt.Errorf("unit %d: %w", u.Handle, err)
		}
		if _, err := w.Spawn(grid.UnitSpec{
			Handle:     u.Handle,
			Nation:     u.Nation,
			MobileType: mt,
			X:          u.X,
			Y:          u.Y,
			Action:     act,
			Goal:       u.Goal,
			Ordered:    u.Ordered,
			AIBusy:     u.AIBusy,
		}); err != nil {
			return nil, fmt.Errorf("unit %d: %w", u.Handle, err)
		}
	}
	return w, nil
}

// ParseMobileType maps the wire names LAND, SEA and AIR; empty means LAND.
func ParseMobileType(s string) (vacate.MobileType, error) {
	switch s {
	case "", "LAND":
		return vacate.MobileLand, nil
	case "SEA":
		return vacate.MobileSea, nil
	case "AIR":
		return vacate.MobileAir, nil
	}
	return 0, fmt.Errorf("unknown mobile type %q", s)
}

func parseAction(s string) (vacate.Action, error) {
	switch s {
	case "", "idle":
		return vacate.ActionIdle, nil
	case "move":
		return vacate.ActionMove, nil
	case "busy":
		return vacate.ActionBusy, nil
	}
	return 0, fmt.Errorf("unknown action %q", s)
}
