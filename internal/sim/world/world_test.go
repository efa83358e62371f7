package world

import (
	"testing"

	"dronecraft.ai/internal/sim/catalogs"
	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/inventory"
)

func newTestWorld() *World {
	return New(Config{BoundaryR: 64}, catalogs.Default())
}

func TestWriteReadAndChangeHook(t *testing.T) {
	w := newTestWorld()
	var changed []grid.Coord
	w.OnChange(func(p grid.Coord, _ string) { changed = append(changed, p) })

	p := grid.C(1, 2, 3)
	if got := w.ReadCell(p); !got.IsEmpty() {
		t.Fatalf("fresh cell = %v", got)
	}
	if !w.WriteCell(p, cell.Of("STONE")) {
		t.Fatalf("write rejected")
	}
	if got := w.ReadCell(p); got != cell.Of("STONE") {
		t.Fatalf("read = %v", got)
	}
	// Rewriting the same state is a successful no-op.
	if !w.WriteCell(p, cell.Of("STONE")) {
		t.Fatalf("same-state write rejected")
	}
	if len(changed) != 1 || changed[0] != p {
		t.Fatalf("changed=%v", changed)
	}
	if !w.WriteCell(p, cell.Empty) || w.CellCount() != 0 {
		t.Fatalf("clear failed: count=%d", w.CellCount())
	}
}

func TestWriteRejectsOutOfBoundsAndUnknown(t *testing.T) {
	w := newTestWorld()
	if w.WriteCell(grid.C(65, 0, 0), cell.Of("STONE")) {
		t.Fatalf("expected out of bounds rejection")
	}
	if w.WriteCell(grid.C(0, 0, 0), cell.Of("UNOBTAINIUM")) {
		t.Fatalf("expected unknown block rejection")
	}
	if w.WriteCell(grid.C(0, 0, 0), cell.State{Block: cell.MarkerBlock}) {
		t.Fatalf("expected marker without target rejection")
	}
}

func TestAuditEntries(t *testing.T) {
	w := newTestWorld()
	var got []AuditEntry
	w.OnAudit(func(e AuditEntry) { got = append(got, e) })
	w.SetTick(7)
	w.WriteCellBy("drone:1", "build", grid.C(0, 0, 0), cell.Of("PLANK"))
	if len(got) != 1 {
		t.Fatalf("entries=%d", len(got))
	}
	e := got[0]
	if e.Tick != 7 || e.Actor != "drone:1" || e.From != "AIR" || e.To != "PLANK" || e.Reason != "build" {
		t.Fatalf("entry=%+v", e)
	}
}

func TestMarkersTracked(t *testing.T) {
	w := newTestWorld()
	a, b := grid.C(2, 0, 0), grid.C(1, 0, 0)
	w.WriteCell(a, cell.Marker(cell.Of("STONE")))
	w.WriteCell(b, cell.Marker(cell.Empty))
	ms := w.Markers()
	if len(ms) != 2 || ms[0] != b || ms[1] != a {
		t.Fatalf("markers=%v", ms)
	}
	w.WriteCell(a, cell.Of("STONE"))
	if ms := w.Markers(); len(ms) != 1 || ms[0] != b {
		t.Fatalf("markers after build=%v", ms)
	}
	occ := w.Occupant(b)
	if occ.Kind != cell.OccupantMarker || !occ.Target.IsEmpty() {
		t.Fatalf("occupant=%+v", occ)
	}
}

func TestAttachedData(t *testing.T) {
	w := newTestWorld()
	sign, chest := grid.C(0, 0, 0), grid.C(1, 0, 0)
	if w.WriteAttachedData(sign, []byte("x")) {
		t.Fatalf("data on empty cell accepted")
	}
	w.WriteCell(sign, cell.Of("SIGN"))
	if !w.WriteAttachedData(sign, []byte("hello")) {
		t.Fatalf("data rejected")
	}
	if b, ok := w.ReadAttachedData(sign); !ok || string(b) != "hello" {
		t.Fatalf("data=%q ok=%v", b, ok)
	}

	w.WriteCell(chest, cell.Of("CHEST"))
	if w.WriteAttachedData(chest, []byte("x")) {
		t.Fatalf("container accepted blob")
	}
	if _, ok := w.ReadAttachedData(chest); ok {
		t.Fatalf("empty chest reported data")
	}
	w.Deposit(chest, "PLANK", 5, false)
	b, ok := w.ReadAttachedData(chest)
	if !ok {
		t.Fatalf("chest data missing")
	}
	items, err := cell.DecodeItems(b)
	if err != nil || items["PLANK"] != 5 {
		t.Fatalf("items=%v err=%v", items, err)
	}

	// Replacing the block drops its blob.
	w.WriteCell(sign, cell.Of("STONE"))
	if _, ok := w.ReadAttachedData(sign); ok {
		t.Fatalf("blob survived block change")
	}
}

func TestContainerLifecycle(t *testing.T) {
	w := newTestWorld()
	p := grid.C(0, 0, 0)
	w.WriteCell(p, cell.Of("CHEST"))
	if rem := w.Deposit(p, "STONE", 10, false); rem != 0 {
		t.Fatalf("rem=%d", rem)
	}
	occ := w.Occupant(p)
	if occ.Kind != cell.OccupantContainer || occ.Items["STONE"] != 10 {
		t.Fatalf("occupant=%+v", occ)
	}
	carried := inventory.New(1, 64)
	if rem := w.TransferItem(p, carried, "STONE", 10, false); rem != 0 || carried.Count("STONE") != 10 {
		t.Fatalf("rem=%d carried=%v", rem, carried.Items())
	}
	if items, _ := w.Inventory(p); len(items) != 0 {
		t.Fatalf("after transfer=%v", items)
	}
	w.WriteCell(p, cell.Empty)
	if _, ok := w.Inventory(p); ok {
		t.Fatalf("inventory survived removal")
	}
	if rem := w.Deposit(p, "STONE", 3, false); rem != 3 {
		t.Fatalf("deposit into air rem=%d", rem)
	}
}

func TestNearbySearch(t *testing.T) {
	w := newTestWorld()
	near, far := grid.C(2, 0, 0), grid.C(9, 0, 0)
	w.WriteCell(near, cell.Of("CHEST"))
	w.WriteCell(far, cell.Of("CHEST"))
	w.Deposit(far, "PLANK", 3, false)

	if _, ok := w.FindNearbyInventoryWith(grid.C(0, 0, 0), 5, "PLANK"); ok {
		t.Fatalf("found plank outside radius")
	}
	if p, ok := w.FindNearbyInventoryWith(grid.C(0, 0, 0), 10, "PLANK"); !ok || p != far {
		t.Fatalf("got %v %v", p, ok)
	}
	if p, ok := w.FindNearbyAcceptor(grid.C(0, 0, 0), 10, "PLANK"); !ok || p != near {
		t.Fatalf("acceptor %v %v", p, ok)
	}
}

func TestStorageNetwork(t *testing.T) {
	w := newTestWorld()
	home := grid.C(0, 0, 0)
	w.WriteCell(home, cell.Of("CHEST"))
	w.WriteCell(grid.C(1, 0, 0), cell.Of("CONDUIT"))
	w.WriteCell(grid.C(2, 0, 0), cell.Of("CONDUIT"))
	linked := grid.C(3, 0, 0)
	w.WriteCell(linked, cell.Of("CHEST"))
	isolated := grid.C(5, 0, 0)
	w.WriteCell(isolated, cell.Of("CHEST"))
	w.Deposit(linked, "LOG", 2, false)
	w.Deposit(isolated, "LOG", 50, false)

	net := w.NetworkOf(home)
	if len(net) != 2 || net[0] != home || net[1] != linked {
		t.Fatalf("network=%v", net)
	}
	if p, ok := w.FindNetworkInventoryWith(home, "LOG"); !ok || p != linked {
		t.Fatalf("network source %v %v", p, ok)
	}
	if p, ok := w.FindNetworkAcceptor(home, "LOG"); !ok || p != home {
		t.Fatalf("network acceptor %v %v", p, ok)
	}
	if net := w.NetworkOf(grid.C(10, 0, 0)); net != nil {
		t.Fatalf("network from air=%v", net)
	}
}

func TestExportImportDigest(t *testing.T) {
	w := newTestWorld()
	w.WriteCell(grid.C(-20, 1, 3), cell.New("STAIRS", map[string]string{"facing": "north"}))
	w.WriteCell(grid.C(0, 0, 0), cell.Of("CHEST"))
	w.Deposit(grid.C(0, 0, 0), "PLANK", 12, false)
	w.WriteCell(grid.C(4, 0, 0), cell.Of("SIGN"))
	w.WriteAttachedData(grid.C(4, 0, 0), []byte("hi"))
	w.WriteCell(grid.C(5, 0, 0), cell.Marker(cell.Of("GLASS")))

	recs := w.ExportCells()
	other := newTestWorld()
	if err := other.ImportCells(recs); err != nil {
		t.Fatalf("import: %v", err)
	}
	if w.Digest() != other.Digest() {
		t.Fatalf("digest mismatch after import")
	}
	if items, _ := other.Inventory(grid.C(0, 0, 0)); items["PLANK"] != 12 {
		t.Fatalf("items=%v", items)
	}
	if b, _ := other.ReadAttachedData(grid.C(4, 0, 0)); string(b) != "hi" {
		t.Fatalf("data=%q", b)
	}
	if len(other.Markers()) != 1 {
		t.Fatalf("markers=%v", other.Markers())
	}

	other.WriteCell(grid.C(9, 9, 9), cell.Of("DIRT"))
	if w.Digest() == other.Digest() {
		t.Fatalf("digest unchanged after edit")
	}
}

func TestTransferItemIntoCarried(t *testing.T) {
	w := newTestWorld()
	p := grid.C(0, 0, 0)
	w.WriteCell(p, cell.Of("CHEST"))
	w.Deposit(p, "STONE", 3, false)
	carried := inventory.New(1, 2)

	if rem := w.TransferItem(p, carried, "STONE", 3, true); rem != 1 {
		t.Fatalf("simulated rem=%d", rem)
	}
	if carried.Count("STONE") != 0 {
		t.Fatalf("simulate mutated carried")
	}
	if rem := w.TransferItem(p, carried, "STONE", 1, false); rem != 0 {
		t.Fatalf("rem=%d", rem)
	}
	if items, _ := w.Inventory(p); items["STONE"] != 2 || carried.Count("STONE") != 1 {
		t.Fatalf("chest=%v carried=%d", items, carried.Count("STONE"))
	}
	if rem := w.StoreItem(p, carried, "STONE", 1, false); rem != 0 || carried.Count("STONE") != 0 {
		t.Fatalf("store rem=%d carried=%d", rem, carried.Count("STONE"))
	}
}

func TestDigestCoversContainersAndData(t *testing.T) {
	build := func() *World {
		w := newTestWorld()
		w.WriteCell(grid.C(0, 0, 0), cell.Of("CHEST"))
		w.Deposit(grid.C(0, 0, 0), "PLANK", 4, false)
		w.WriteCell(grid.C(4, 0, 0), cell.Of("SIGN"))
		w.WriteAttachedData(grid.C(4, 0, 0), []byte("hi"))
		return w
	}
	a, b := build(), build()
	if a.Digest() != b.Digest() {
		t.Fatalf("equal worlds digest differently")
	}

	carried := inventory.New(1, 64)
	if rem := b.TransferItem(grid.C(0, 0, 0), carried, "PLANK", 1, false); rem != 0 {
		t.Fatalf("rem=%d", rem)
	}
	if a.Digest() == b.Digest() {
		t.Fatalf("digest ignores container contents")
	}

	c := build()
	c.WriteAttachedData(grid.C(4, 0, 0), []byte("bye"))
	if a.Digest() == c.Digest() {
		t.Fatalf("digest ignores attached data")
	}
}
