package catalogs

import "encoding/json"

var defaultBlocks = []BlockDef{
	{ID: "AIR"},
	{ID: "STONE", Solid: true, Breakable: true, DropsItem: "COBBLESTONE"},
	{ID: "COBBLESTONE", Solid: true, Breakable: true, DropsItem: "COBBLESTONE"},
	{ID: "DIRT", Solid: true, Breakable: true, DropsItem: "DIRT"},
	{ID: "PLANK", Solid: true, Breakable: true, DropsItem: "PLANK"},
	{ID: "WOOD", Solid: true, Breakable: true, DropsItem: "LOG"},
	{ID: "GLASS", Solid: true, Breakable: true},
	{ID: "STAIRS", Solid: true, Breakable: true, DropsItem: "STAIRS"},
	{ID: "SIGN", Breakable: true, DropsItem: "SIGN"},
	{ID: "TALL_GRASS", Breakable: true, Replaceable: true},
	{ID: "CHEST", Solid: true, Breakable: true, DropsItem: "CHEST", Container: true, Slots: 27},
	{ID: "CONDUIT", Solid: true, Breakable: true, DropsItem: "CONDUIT", Conduit: true},
	{ID: "BEDROCK", Solid: true},
}

var defaultItems = []ItemDef{
	{ID: "STONE", Kind: "BLOCK", PlaceAs: "STONE"},
	{ID: "COBBLESTONE", Kind: "BLOCK", PlaceAs: "COBBLESTONE"},
	{ID: "DIRT", Kind: "BLOCK", PlaceAs: "DIRT"},
	{ID: "PLANK", Kind: "BLOCK", PlaceAs: "PLANK"},
	{ID: "LOG", Kind: "BLOCK", PlaceAs: "WOOD"},
	{ID: "GLASS", Kind: "BLOCK", PlaceAs: "GLASS"},
	{ID: "STAIRS", Kind: "BLOCK", PlaceAs: "STAIRS"},
	{ID: "SIGN", Kind: "BLOCK", PlaceAs: "SIGN"},
	{ID: "CHEST", Kind: "BLOCK", PlaceAs: "CHEST"},
	{ID: "CONDUIT", Kind: "BLOCK", PlaceAs: "CONDUIT"},
	{ID: "DRONE", Kind: "DRONE"},
}

var defaultBlueprints = []BlueprintDef{
	{
		ID:      "stone_pillar_3",
		Author:  "builtin",
		Version: "1",
		AABB:    [2][3]int{{0, 0, 0}, {0, 2, 0}},
		Blocks: []BPBlock{
			{Pos: [3]int{0, 0, 0}, Block: "STONE"},
			{Pos: [3]int{0, 1, 0}, Block: "STONE"},
			{Pos: [3]int{0, 2, 0}, Block: "STONE"},
		},
		Cost: []ItemCount{{Item: "STONE", Count: 3}},
	},
	{
		ID:      "plank_wall_3x1",
		Author:  "builtin",
		Version: "1",
		AABB:    [2][3]int{{0, 0, 0}, {2, 0, 0}},
		Blocks: []BPBlock{
			{Pos: [3]int{0, 0, 0}, Block: "PLANK"},
			{Pos: [3]int{1, 0, 0}, Block: "PLANK"},
			{Pos: [3]int{2, 0, 0}, Block: "PLANK"},
		},
		Cost: []ItemCount{{Item: "PLANK", Count: 3}},
	},
}

// Default returns the built-in catalogs used when no config directory is given.
func Default() *Catalogs {
	var c Catalogs
	rawBlocks, _ := json.Marshal(defaultBlocks)
	if err := c.Blocks.set(defaultBlocks, rawBlocks); err != nil {
		panic("catalogs: builtin blocks: " + err.Error())
	}
	rawItems, _ := json.Marshal(defaultItems)
	if err := c.Items.set(defaultItems, rawItems); err != nil {
		panic("catalogs: builtin items: " + err.Error())
	}
	c.Blueprints.ByID = map[string]BlueprintDef{}
	for _, bp := range defaultBlueprints {
		c.Blueprints.ByID[bp.ID] = bp
	}
	rawBP, _ := json.Marshal(defaultBlueprints)
	c.Blueprints.Digest = sha256Hex(rawBP)
	return &c
}
