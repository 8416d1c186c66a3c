package sim

import (
	"math"
	"testing"
)

// makeGroup fabricates an airborne group from existing units.
func makeGroup(b *Board, vel float64, boost int, ids ...UnitID) *Group {
	g := &Group{vel: vel, boost: boost}
	for _, id := range ids {
		u := b.units[id]
		b.detach(u)
		delete(b.groupOf, id)
		g.members = append(g.members, id)
		b.groupOf[id] = g
		u.Vel = vel
	}
	b.groups = append(b.groups, g)
	return g
}

func TestGroupGravityScalesWithSize(t *testing.T) {
	b, _ := newTestBoard()
	small := makeGroup(b, -300, 0,
		mustAdd(t, b, 0, 200, Red, -300))
	big := makeGroup(b, -300, 0,
		mustAdd(t, b, 1, 200, Red, -300),
		mustAdd(t, b, 1, 160, Blue, -300),
		mustAdd(t, b, 1, 120, Green, -300))

	small.integrate(testDt, &b.cfg, b.units)
	big.integrate(testDt, &b.cfg, b.units)

	if big.vel <= small.vel {
		t.Errorf("bigger group should decelerate faster: big=%g small=%g", big.vel, small.vel)
	}
}

func TestGroupDownwardVelocityClamped(t *testing.T) {
	b, _ := newTestBoard()
	g := makeGroup(b, b.cfg.MaxGroupFall, 0, mustAdd(t, b, 0, 100, Red, 0))
	g.integrate(testDt, &b.cfg, b.units)
	if g.vel > b.cfg.MaxGroupFall {
		t.Errorf("stored downward velocity must clamp at %g, got %g", b.cfg.MaxGroupFall, g.vel)
	}
	if g.vel >= b.cfg.MaxUnitFall {
		t.Error("groups must fall slower than free units")
	}
}

func TestGroupUpwardMotionClampedButVelocityKept(t *testing.T) {
	b, _ := newTestBoard()
	vel := -4 * b.cfg.MaxGroupRise
	id := mustAdd(t, b, 0, 400, Red, 0)
	g := makeGroup(b, vel, 0, id)

	before := b.Unit(id).Y
	g.integrate(testDt, &b.cfg, b.units)
	moved := before - b.Unit(id).Y

	maxMove := b.cfg.MaxGroupRise * testDt
	if moved > maxMove+1e-9 {
		t.Errorf("upward motion %g exceeds per-tick cap %g", moved, maxMove)
	}
	// Stored velocity keeps the full boost for later force-stacking math.
	if g.vel > vel+b.cfg.MaxGroupRise {
		t.Errorf("stored velocity should keep accumulating, got %g", g.vel)
	}
}

func TestGroupRigidMotion(t *testing.T) {
	b, _ := newTestBoard()
	a := mustAdd(t, b, 0, 300, Red, 0)
	c := mustAdd(t, b, 2, 260, Blue, 0)
	g := makeGroup(b, -200, 0, a, c)

	gap := b.Unit(a).Y - b.Unit(c).Y
	for i := 0; i < 30; i++ {
		g.integrate(testDt, &b.cfg, b.units)
	}
	if got := b.Unit(a).Y - b.Unit(c).Y; math.Abs(got-gap) > 1e-9 {
		t.Errorf("relative offset drifted from %g to %g", gap, got)
	}
}

func TestGroupMerge(t *testing.T) {
	b, _ := newTestBoard()
	a1 := mustAdd(t, b, 0, 300, Red, 0)
	a2 := mustAdd(t, b, 0, 260, Blue, 0)
	ga := makeGroup(b, -300, 2, a1, a2)

	c1 := mustAdd(t, b, 0, 335, Green, 0) // within one cell of a1
	gc := makeGroup(b, -120, 1, c1)

	b.mergeGroups()

	if b.GroupCount() != 1 {
		t.Fatalf("expected one merged group, got %d", b.GroupCount())
	}
	merged := b.groups[0]
	want := (-300*2+-120*1)/3.0 - b.cfg.MergeBonus
	if math.Abs(merged.vel-want) > 1e-9 {
		t.Errorf("merged velocity = %g, want size-weighted average plus bonus %g", merged.vel, want)
	}
	if merged.boost != 3 {
		t.Errorf("merged boost = %d, want max(2,1)+1 = 3", merged.boost)
	}
	for _, id := range []UnitID{a1, a2, c1} {
		if b.GroupFor(id) != merged {
			t.Errorf("unit %d not indexed to the merged group", id)
		}
	}
	_ = ga
	_ = gc
	checkMembership(t, b)
}

func TestGroupMergeRealignsToLattice(t *testing.T) {
	b, _ := newTestBoard()
	a := mustAdd(t, b, 1, 300, Red, 0)
	ga := makeGroup(b, -200, 0, a)
	c := mustAdd(t, b, 1, 337.4, Blue, 0) // drifted, should snap to 340
	makeGroup(b, -180, 0, c)

	b.mergeGroups()
	if b.GroupCount() != 1 {
		t.Fatal("groups should merge")
	}
	dy := b.Unit(c).Y - b.Unit(a).Y
	if math.Abs(dy-b.cfg.CellHeight) > 1e-9 {
		t.Errorf("member spacing after realign = %g, want exactly %g", dy, b.cfg.CellHeight)
	}
	_ = ga
}

func TestGroupDisbandGrace(t *testing.T) {
	b, _ := newTestBoard()
	mustAdd(t, b, 0, 480, Red, 0)
	id := mustAdd(t, b, 0, 440.2, Blue, 0) // just past the rest slot above the stack
	g := makeGroup(b, 50, 0, id)
	g.grace = 3

	b.checkDisbands()
	if b.GroupCount() != 1 {
		t.Fatal("disband must be suppressed during the grace window")
	}

	g.grace = 0
	b.checkDisbands()
	if b.GroupCount() != 0 {
		t.Fatal("group should disband once grace expires")
	}
	if b.StateOf(id) != StateResident {
		t.Errorf("colliding member should settle, got %v", b.StateOf(id))
	}
	if b.Unit(id).Y != 440 {
		t.Errorf("member should rest flush on the stack at 440, got %g", b.Unit(id).Y)
	}
	checkMembership(t, b)
}

func TestGroupGraceSetOnApexFlip(t *testing.T) {
	b, _ := newTestBoard()
	id := mustAdd(t, b, 0, 200, Red, 0)
	g := makeGroup(b, -1, 0, id) // about to flip downward

	g.integrate(testDt, &b.cfg, b.units)
	if g.vel < 0 {
		t.Fatalf("fixture should flip to downward velocity, got %g", g.vel)
	}
	if g.grace != b.cfg.DisbandGraceTicks {
		t.Errorf("apex flip should arm grace=%d, got %d", b.cfg.DisbandGraceTicks, g.grace)
	}
}

func TestGroupDisbandFreesNonColliding(t *testing.T) {
	b, _ := newTestBoard()
	low := mustAdd(t, b, 0, 480.5, Red, 0) // already into the floor
	high := mustAdd(t, b, 2, 100, Blue, 0)
	makeGroup(b, 30, 0, low, high)

	b.checkDisbands()
	if b.GroupCount() != 0 {
		t.Fatal("group should disband when any member collides")
	}
	if b.StateOf(low) != StateResident {
		t.Errorf("colliding member should be placed, got %v", b.StateOf(low))
	}
	if b.StateOf(high) != StateFalling {
		t.Errorf("non-colliding member should keep falling, got %v", b.StateOf(high))
	}
	if b.Unit(high).Vel != 30 {
		t.Errorf("freed member keeps the group velocity, got %g", b.Unit(high).Vel)
	}
	checkMembership(t, b)
}

func TestGroupTopExitRequiresFullClearance(t *testing.T) {
	b, _ := newTestBoard()
	a := mustAdd(t, b, 0, -60, Red, 0)
	c := mustAdd(t, b, 0, -20, Blue, 0)
	makeGroup(b, -600, 0, a, c)

	// The lowest member is still within a cell of the top boundary, so the
	// group survives the first frame just like a lone unit would.
	b.Tick(testDt)
	if b.GroupCount() != 1 {
		t.Fatal("group not yet a full cell above the top should survive")
	}

	for i := 0; i < 10 && b.GroupCount() > 0; i++ {
		b.Tick(testDt)
	}
	if b.GroupCount() != 0 {
		t.Fatal("group should be removed once fully clear of the top")
	}
	if b.Score() != 2 {
		t.Errorf("score = %d, want 2", b.Score())
	}
}

func TestGroupTopExitScoresAllMembers(t *testing.T) {
	b, _ := newTestBoard()
	a := mustAdd(t, b, 0, -60, Red, 0)
	c := mustAdd(t, b, 1, -100, Blue, 0)
	makeGroup(b, -600, 0, a, c)

	b.Tick(testDt)
	if b.GroupCount() != 0 {
		t.Fatal("group above the top moving up should be removed")
	}
	if b.Unit(a) != nil || b.Unit(c) != nil {
		t.Error("exited members should be destroyed")
	}
	if b.Score() != 2 {
		t.Errorf("score = %d, want 2", b.Score())
	}
}
