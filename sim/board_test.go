package sim

import (
	"math/rand"
	"testing"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

const testDt = 1.0 / 60

// checkMembership asserts the central invariant: every live unit is owned
// by exactly one of column store, group, or free set.
func checkMembership(t *testing.T, b *Board) {
	t.Helper()
	owners := make(map[UnitID]int)
	for i := 0; i < b.cfg.Columns; i++ {
		col := b.Column(i)
		for j := 0; j < col.Len(); j++ {
			owners[col.unit(j).ID]++
		}
	}
	for _, g := range b.groups {
		for _, id := range g.members {
			owners[id]++
		}
	}
	for id := range b.free {
		owners[id]++
	}
	for id := range b.units {
		if owners[id] != 1 {
			t.Errorf("unit %d owned %d times, want exactly 1 (state=%v)", id, owners[id], b.StateOf(id))
		}
	}
	for id := range owners {
		if b.units[id] == nil {
			t.Errorf("owner holds dead unit %d", id)
		}
	}
}

func TestAddUnitRejectsInvalidColumn(t *testing.T) {
	b, _ := newTestBoard()
	if _, ok := b.AddUnit(-1, 100, Red, 0); ok {
		t.Error("negative column should be rejected")
	}
	if _, ok := b.AddUnit(b.cfg.Columns, 100, Red, 0); ok {
		t.Error("column past the end should be rejected")
	}
	if b.UnitCount() != 0 {
		t.Errorf("rejected spawns must not create units, got %d", b.UnitCount())
	}
}

func TestAddUnitPlacement(t *testing.T) {
	b, _ := newTestBoard()

	resident := mustAdd(t, b, 0, 480, Red, 0)
	if b.StateOf(resident) != StateResident {
		t.Errorf("in-bounds zero-velocity spawn should be resident, got %v", b.StateOf(resident))
	}

	falling := mustAdd(t, b, 1, -60, Blue, 250)
	if b.StateOf(falling) != StateFalling {
		t.Errorf("spawn above the board should free-fall, got %v", b.StateOf(falling))
	}

	moving := mustAdd(t, b, 2, 200, Green, 100)
	if b.StateOf(moving) != StateFalling {
		t.Errorf("in-bounds spawn with velocity should free-fall, got %v", b.StateOf(moving))
	}
}

func TestFreeUnitFallsAndLands(t *testing.T) {
	b, _ := newTestBoard()
	id := mustAdd(t, b, 3, -40, Red, 200)

	for i := 0; i < 600 && b.StateOf(id) != StateResident; i++ {
		b.Tick(testDt)
		checkMembership(t, b)
	}
	u := b.Unit(id)
	if b.StateOf(id) != StateResident {
		t.Fatalf("unit never landed, y=%g vel=%g", u.Y, u.Vel)
	}
	if u.Y != b.cfg.FloorY {
		t.Errorf("expected rest on floor at %g, got %g", b.cfg.FloorY, u.Y)
	}
	if u.Vel != 0 {
		t.Errorf("resident velocity should be zero, got %g", u.Vel)
	}
}

func TestFreeUnitsStack(t *testing.T) {
	b, _ := newTestBoard()
	first := mustAdd(t, b, 0, -40, Red, 200)
	second := mustAdd(t, b, 0, -120, Blue, 200)

	for i := 0; i < 600; i++ {
		b.Tick(testDt)
	}
	if b.StateOf(first) != StateResident || b.StateOf(second) != StateResident {
		t.Fatal("both units should have landed")
	}
	if y := b.Unit(first).Y; y != 480 {
		t.Errorf("first unit should rest on the floor, got %g", y)
	}
	if y := b.Unit(second).Y; y != 440 {
		t.Errorf("second unit should stack at 440, got %g", y)
	}
}

func TestTrySwapAdjacentResidents(t *testing.T) {
	b, _ := newTestBoard()
	a := mustAdd(t, b, 0, 480, Red, 0)
	c := mustAdd(t, b, 0, 440, Blue, 0)

	if !b.TrySwap(a, c) {
		t.Fatal("adjacent residents in one column should swap")
	}
	if b.Unit(a).Y != 440 || b.Unit(c).Y != 480 {
		t.Errorf("positions not exchanged: a=%g c=%g", b.Unit(a).Y, b.Unit(c).Y)
	}
	if b.Unit(a).Color != Red || b.Unit(c).Color != Blue {
		t.Error("swap must exchange slots, not colors")
	}
	checkMembership(t, b)
}

func TestTrySwapRejectsNonAdjacent(t *testing.T) {
	b, _ := newTestBoard()
	a := mustAdd(t, b, 0, 480, Red, 0)
	c := mustAdd(t, b, 0, 400, Blue, 0)

	if b.TrySwap(a, c) {
		t.Fatal("residents two rows apart must not swap")
	}
	if b.Unit(a).Y != 480 || b.Unit(c).Y != 400 {
		t.Error("rejected swap must leave the board unchanged")
	}
}

func TestTrySwapRejectsCrossColumnAndCrossState(t *testing.T) {
	b, _ := newTestBoard()
	a := mustAdd(t, b, 0, 480, Red, 0)
	other := mustAdd(t, b, 1, 480, Blue, 0)
	if b.TrySwap(a, other) {
		t.Error("cross-column swap must be rejected")
	}

	faller := mustAdd(t, b, 0, 430, Green, 120)
	if b.TrySwap(a, faller) {
		t.Error("resident/free swap must be rejected")
	}
	if b.TrySwap(a, a) {
		t.Error("self swap must be rejected")
	}
	if b.TrySwap(a, 9999) {
		t.Error("unknown id must be rejected")
	}
}

func TestTopExitScoresAndDestroys(t *testing.T) {
	b, _ := newTestBoard()
	id := mustAdd(t, b, 0, -50, Red, -200)

	b.Tick(testDt)
	if b.Unit(id) != nil {
		t.Fatal("unit above the top moving up should be destroyed")
	}
	if b.Score() != 1 {
		t.Errorf("top exit should score 1, got %d", b.Score())
	}
}

func TestSelfHealRescuesOrphan(t *testing.T) {
	b, _ := newTestBoard()
	id := mustAdd(t, b, 0, 400, Red, 0)

	// Strand the unit: resident bookkeeping removed but the unit stays in
	// the arena with zero velocity.
	b.Column(0).Remove(id)
	delete(b.resIn, id)

	b.Tick(testDt)
	if b.StateOf(id) != StateFalling {
		t.Fatalf("orphan should be forced into free fall, got %v", b.StateOf(id))
	}
	if b.Unit(id).Vel <= 0 {
		t.Errorf("orphan needs a downward nudge, vel=%g", b.Unit(id).Vel)
	}

	for i := 0; i < 600 && b.StateOf(id) != StateResident; i++ {
		b.Tick(testDt)
	}
	if b.StateOf(id) != StateResident {
		t.Error("nudged orphan should settle within the column")
	}
	checkMembership(t, b)
}

func TestColumnOverHeightFiresOnce(t *testing.T) {
	b, sched := newTestBoard()
	// Fill column 2 from the floor to the top boundary.
	for row := 0; ; row++ {
		y := b.cfg.FloorY - float64(row)*b.cfg.CellHeight
		if y < b.cfg.TopY {
			break
		}
		mustAdd(t, b, 2, y, Color(row%2), 0) // alternate colors, no runs
	}
	top := b.Column(2).Topmost()
	if top == nil || top.Y > b.cfg.TopY {
		t.Fatalf("fixture should reach the top boundary, topmost=%v", top)
	}

	b.Tick(testDt)
	if b.ColumnOverHeight(2) {
		t.Fatal("over-height must wait out the grace delay")
	}

	transitions := 0
	fired := false
	for i := 0; i < 240; i++ {
		sched.Advance(testDt * 1000)
		b.Tick(testDt)
		if b.ColumnOverHeight(2) != fired {
			fired = b.ColumnOverHeight(2)
			if fired {
				transitions++
			}
		}
	}
	if transitions != 1 {
		t.Errorf("over-height should fire exactly once, fired %d times", transitions)
	}
	if !b.ColumnOverHeight(2) {
		t.Error("flag should hold while the stack stays over height")
	}

	if cols := b.ColumnsOverHeight(); len(cols) != 1 || cols[0] != 2 {
		t.Errorf("ColumnsOverHeight = %v, want [2]", cols)
	}
}

func TestColumnOverHeightClearsWhenStackDrops(t *testing.T) {
	b, sched := newTestBoard()
	for row := 0; ; row++ {
		y := b.cfg.FloorY - float64(row)*b.cfg.CellHeight
		if y < b.cfg.TopY {
			break
		}
		mustAdd(t, b, 4, y, Color(row%2), 0)
	}
	b.Tick(testDt)
	sched.Advance(b.cfg.OverHeightGraceMs + 1)
	b.Tick(testDt)
	if !b.ColumnOverHeight(4) {
		t.Fatal("expected over-height to fire")
	}

	top := b.Column(4).Topmost()
	b.Column(4).Remove(top.ID)
	delete(b.resIn, top.ID)
	delete(b.units, top.ID)

	b.Tick(testDt)
	if b.ColumnOverHeight(4) {
		t.Error("flag should clear once the stack drops below the boundary")
	}
}

func TestAllUnitsSnapshot(t *testing.T) {
	b, _ := newTestBoard()
	mustAdd(t, b, 0, 480, Red, 0)
	mustAdd(t, b, 1, 200, Blue, 100)

	snap := b.AllUnits()
	if len(snap) != 2 {
		t.Fatalf("expected 2 snapshot entries, got %d", len(snap))
	}
	if snap[0].ID >= snap[1].ID {
		t.Error("snapshot should be ordered by id")
	}
	if snap[0].State != StateResident || snap[1].State != StateFalling {
		t.Errorf("snapshot states wrong: %v, %v", snap[0].State, snap[1].State)
	}
}

func TestMembershipInvariantUnderChurn(t *testing.T) {
	b, sched := newTestBoard()
	rng := testRNG()
	for i := 0; i < 400; i++ {
		if i%7 == 0 {
			col := rng.Intn(b.cfg.Columns)
			b.AddUnit(col, -40, Color(rng.Intn(PlayableColors)), 150+rng.Float64()*200)
		}
		sched.Advance(testDt * 1000)
		b.Tick(testDt)
		checkMembership(t, b)
	}
}
