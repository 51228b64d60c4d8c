package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mechgrid.ai/internal/sim/kinetics"
)

//go:embed default_blocks.json
var defaultBlocksJSON []byte

const BlocksFile = "mech_blocks.json"

// Block kinds.
const (
	KindSource  = "SOURCE"
	KindShaft   = "SHAFT"
	KindGearbox = "GEARBOX"
	KindGear    = "GEAR"
	KindClutch  = "CLUTCH"
	KindCorner  = "CORNER"
)

// Face layouts, resolved against the placement facing.
const (
	FacesFront      = "FRONT"
	FacesAxis       = "AXIS"
	FacesAll        = "ALL"
	FacesHorizontal = "HORIZONTAL"
	FacesCorner     = "CORNER"
)

type Catalogs struct {
	Blocks BlockCatalog
}

type BlockCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]BlockDef
	PaletteDigest string
	DefsDigest    string
}

type BlockDef struct {
	ID    string  `json:"id"`
	Kind  string  `json:"kind"`
	Faces string  `json:"faces"`
	Ratio float32 `json:"ratio,omitempty"`
	Speed float32 `json:"speed,omitempty"`
}

// Placement is how a block sits in the world.
type Placement struct {
	Block   string
	Facing  kinetics.Direction
	Turn    kinetics.Direction // second face of a CORNER
	Engaged bool               // CLUTCH state
	Faces   kinetics.Faces     // explicit faces; overrides the def layout when non-zero
}

// Load reads <configDir>/mech_blocks.json, falling back to the built-in
// defaults when the file does not exist.
func Load(configDir string) (*Catalogs, error) {
	raw, err := os.ReadFile(filepath.Join(configDir, BlocksFile))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		raw = defaultBlocksJSON
	}
	return Parse(raw)
}

func Defaults() *Catalogs {
	c, err := Parse(defaultBlocksJSON)
	if err != nil {
		panic(err)
	}
	return c
}

func Parse(raw []byte) (*Catalogs, error) {
	var c Catalogs
	if err := loadBlocks(raw, &c.Blocks); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBlocks(raw []byte, out *BlockCatalog) error {
	out.DefsDigest = sha256Hex(raw)

	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("%s: %w", BlocksFile, err)
	}
	out.Defs = map[string]BlockDef{}
	for _, d := range defs {
		d.ID = strings.ToUpper(strings.TrimSpace(d.ID))
		if d.ID == "" {
			return fmt.Errorf("%s: empty id", BlocksFile)
		}
		if err := d.validate(); err != nil {
			return fmt.Errorf("%s: %s: %w", BlocksFile, d.ID, err)
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}

func (d BlockDef) validate() error {
	switch d.Kind {
	case KindSource, KindShaft, KindGearbox, KindClutch, KindCorner:
	case KindGear:
		if d.Ratio == 0 {
			return fmt.Errorf("gear ratio must be non-zero")
		}
	default:
		return fmt.Errorf("unknown kind %q", d.Kind)
	}
	switch d.Faces {
	case FacesFront, FacesAxis, FacesAll, FacesHorizontal, FacesCorner:
	default:
		return fmt.Errorf("unknown faces layout %q", d.Faces)
	}
	if (d.Kind == KindCorner) != (d.Faces == FacesCorner) {
		return fmt.Errorf("CORNER kind and CORNER faces go together")
	}
	return nil
}

func (c *Catalogs) IsSource(block string) bool {
	d, ok := c.Blocks.Defs[block]
	return ok && d.Kind == KindSource
}

// FacesFor resolves the default faces of a placement.
func (d BlockDef) FacesFor(pl Placement) kinetics.Faces {
	switch d.Faces {
	case FacesFront:
		return kinetics.FacesOf(pl.Facing)
	case FacesAxis:
		return kinetics.AxisFaces(pl.Facing)
	case FacesAll:
		return kinetics.AllFaces
	case FacesHorizontal:
		return kinetics.Horizontal
	case FacesCorner:
		return kinetics.FacesOf(pl.Facing, pl.Turn)
	}
	return kinetics.NoFaces
}

// Node builds the kinetics node for a placed block.
func (c *Catalogs) Node(pos kinetics.Pos, pl Placement) (kinetics.Node, error) {
	d, ok := c.Blocks.Defs[pl.Block]
	if !ok {
		return kinetics.Node{}, fmt.Errorf("unknown block %q", pl.Block)
	}
	if !pl.Facing.Valid() {
		return kinetics.Node{}, fmt.Errorf("%s: invalid facing %d", pl.Block, pl.Facing)
	}
	if d.Kind == KindCorner && (!pl.Turn.Valid() || pl.Turn.Axis() == pl.Facing.Axis()) {
		return kinetics.Node{}, fmt.Errorf("%s: turn %s must be perpendicular to facing %s", pl.Block, pl.Turn, pl.Facing)
	}
	faces := pl.Faces
	if faces == kinetics.NoFaces {
		faces = d.FacesFor(pl)
	}

	switch d.Kind {
	case KindSource:
		return kinetics.NewSource(pos, faces, kinetics.Rotation{Direction: pl.Facing, Speed: d.Speed}), nil
	case KindShaft:
		return kinetics.NewTransform(pos, faces, kinetics.PassThrough{}), nil
	case KindGearbox:
		return kinetics.NewTransform(pos, faces, kinetics.Gearbox{}), nil
	case KindGear:
		return kinetics.NewTransform(pos, faces, kinetics.Gear{Ratio: d.Ratio}), nil
	case KindClutch:
		return kinetics.NewTransform(pos, faces, kinetics.Clutch{Engaged: pl.Engaged}), nil
	case KindCorner:
		return kinetics.NewTransform(pos, faces, kinetics.RightAngle{A: pl.Facing, B: pl.Turn}), nil
	}
	return kinetics.Node{}, fmt.Errorf("%s: unknown kind %q", pl.Block, d.Kind)
}
