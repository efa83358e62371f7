package catalogs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Catalogs struct {
	Blocks     BlockCatalog
	Items      ItemCatalog
	Blueprints BlueprintCatalog
}

type BlockCatalog struct {
	Palette       []string
	Defs          map[string]BlockDef
	PaletteDigest string
	DefsDigest    string
}

type BlockDef struct {
	ID          string `json:"id"`
	Solid       bool   `json:"solid"`
	Breakable   bool   `json:"breakable"`
	DropsItem   string `json:"drops_item,omitempty"`
	Replaceable bool   `json:"replaceable,omitempty"` // grass tufts, snow layers: builders overwrite them
	Container   bool   `json:"container,omitempty"`
	Slots       int    `json:"slots,omitempty"`
	Conduit     bool   `json:"conduit,omitempty"` // links adjacent containers into one storage network
}

type ItemCatalog struct {
	Palette       []string
	Defs          map[string]ItemDef
	PaletteDigest string
	DefsDigest    string

	placedBy map[string]string // block id -> item id
}

type ItemDef struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"` // "BLOCK","MATERIAL","DRONE"
	PlaceAs string `json:"place_as,omitempty"`
}

type BlueprintCatalog struct {
	ByID   map[string]BlueprintDef
	Digest string
}

type BlueprintDef struct {
	ID      string      `json:"id"`
	Author  string      `json:"author"`
	Version string      `json:"version"`
	AABB    [2][3]int   `json:"aabb"`
	Blocks  []BPBlock   `json:"blocks"`
	Cost    []ItemCount `json:"cost"`
}

type BPBlock struct {
	Pos   [3]int `json:"pos"`
	Block string `json:"block"`
}

type ItemCount struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// Load reads blocks.json, items.json and the optional blueprints/ directory.
func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	rawBlocks, err := os.ReadFile(filepath.Join(configDir, "blocks.json"))
	if err != nil {
		return nil, err
	}
	var blocks []BlockDef
	if err := json.Unmarshal(rawBlocks, &blocks); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	if err := c.Blocks.set(blocks, rawBlocks); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}

	rawItems, err := os.ReadFile(filepath.Join(configDir, "items.json"))
	if err != nil {
		return nil, err
	}
	var items []ItemDef
	if err := json.Unmarshal(rawItems, &items); err != nil {
		return nil, fmt.Errorf("items.json: %w", err)
	}
	if err := c.Items.set(items, rawItems); err != nil {
		return nil, fmt.Errorf("items.json: %w", err)
	}

	if err := loadBlueprints(filepath.Join(configDir, "blueprints"), &c.Blueprints); err != nil {
		return nil, err
	}
	return &c, nil
}

func (b *BlockCatalog) set(defs []BlockDef, raw []byte) error {
	b.DefsDigest = sha256Hex(raw)
	b.Defs = map[string]BlockDef{}
	for _, d := range defs {
		d.ID = strings.ToUpper(strings.TrimSpace(d.ID))
		if d.ID == "" {
			return fmt.Errorf("empty id")
		}
		if d.ID == "MARKER" {
			return fmt.Errorf("MARKER is reserved")
		}
		b.Defs[d.ID] = d
	}
	if _, ok := b.Defs["AIR"]; !ok {
		return fmt.Errorf("missing AIR")
	}
	ids := make([]string, 0, len(b.Defs))
	for id := range b.Defs {
		if id != "AIR" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	b.Palette = append([]string{"AIR"}, ids...)
	palJSON, _ := json.Marshal(b.Palette)
	b.PaletteDigest = sha256Hex(palJSON)
	return nil
}

func (c *ItemCatalog) set(defs []ItemDef, raw []byte) error {
	c.DefsDigest = sha256Hex(raw)
	c.Defs = map[string]ItemDef{}
	c.placedBy = map[string]string{}
	for _, d := range defs {
		d.ID = strings.ToUpper(strings.TrimSpace(d.ID))
		if d.ID == "" {
			return fmt.Errorf("empty id")
		}
		c.Defs[d.ID] = d
	}
	ids := make([]string, 0, len(c.Defs))
	for id := range c.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d := c.Defs[id]
		if d.PlaceAs == "" {
			continue
		}
		// First item in palette order wins when several place the same block.
		if _, dup := c.placedBy[d.PlaceAs]; !dup {
			c.placedBy[d.PlaceAs] = id
		}
	}
	c.Palette = ids
	palJSON, _ := json.Marshal(ids)
	c.PaletteDigest = sha256Hex(palJSON)
	return nil
}

func loadBlueprints(dir string, out *BlueprintCatalog) error {
	out.ByID = map[string]BlueprintDef{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var concat bytes.Buffer
	for _, p := range files {
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		concat.Write(b)
		concat.WriteByte('\n')

		var bp BlueprintDef
		if err := json.Unmarshal(b, &bp); err != nil {
			return fmt.Errorf("blueprint %s: %w", filepath.Base(p), err)
		}
		if bp.ID == "" {
			return fmt.Errorf("blueprint %s: missing id", filepath.Base(p))
		}
		out.ByID[bp.ID] = bp
	}
	out.Digest = sha256Hex(concat.Bytes())
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (c *Catalogs) Block(id string) (BlockDef, bool) {
	d, ok := c.Blocks.Defs[id]
	return d, ok
}

// KnownBlock accepts catalog blocks plus the reserved MARKER placeholder.
func (c *Catalogs) KnownBlock(id string) bool {
	if id == "" || id == "MARKER" {
		return true
	}
	_, ok := c.Blocks.Defs[id]
	return ok
}

func (c *Catalogs) IsReplaceable(id string) bool {
	d, ok := c.Blocks.Defs[id]
	return ok && d.Replaceable
}

func (c *Catalogs) IsContainer(id string) bool {
	d, ok := c.Blocks.Defs[id]
	return ok && d.Container
}

// IsBreakable reports whether drones may remove id. Unknown blocks are not.
func (c *Catalogs) IsBreakable(id string) bool {
	d, ok := c.Blocks.Defs[id]
	return ok && d.Breakable
}

func (c *Catalogs) IsConduit(id string) bool {
	d, ok := c.Blocks.Defs[id]
	return ok && d.Conduit
}

// MaterialFor names the item a builder consumes to place block. Blocks with
// no placing item need no material.
func (c *Catalogs) MaterialFor(block string) (string, bool) {
	if item, ok := c.Items.placedBy[block]; ok {
		return item, true
	}
	return "", false
}

// DropsFor names the item harvested from block ("" when nothing drops).
func (c *Catalogs) DropsFor(block string) string {
	d, ok := c.Blocks.Defs[block]
	if !ok || !d.Breakable {
		return ""
	}
	return d.DropsItem
}

func (c *Catalogs) Blueprint(id string) (BlueprintDef, bool) {
	bp, ok := c.Blueprints.ByID[id]
	return bp, ok
}
