package sim

import (
	"errors"
	"testing"
)

type unitKey struct {
	col   int
	y     float64
	color Color
}

func unitKeys(b *Board) map[unitKey]int {
	keys := make(map[unitKey]int)
	for _, s := range b.AllUnits() {
		keys[unitKey{s.Col, roundY(s.Y), s.Color}]++
	}
	return keys
}

func buildBusyBoard(t *testing.T) (*Board, *TickScheduler) {
	t.Helper()
	b, sched := newTestBoard()
	// Resting stack.
	mustAdd(t, b, 0, 480, Red, 0)
	mustAdd(t, b, 0, 440, Blue, 0)
	mustAdd(t, b, 1, 480, Green, 0)
	// Consumed resident with a running recovery timer.
	grey := mustAdd(t, b, 1, 440, Yellow, 0)
	b.Unit(grey).Color = Consumed
	b.startRecovery(grey)
	// Airborne group.
	makeGroup(b, -320, 2,
		mustAdd(t, b, 3, 200, Purple, 0),
		mustAdd(t, b, 3, 160, Red, 0),
		mustAdd(t, b, 4, 200, Blue, 0))
	// Free faller.
	mustAdd(t, b, 5, -60, Green, 210)
	b.score = 17
	return b, sched
}

func TestSaveRoundTrip(t *testing.T) {
	b, _ := buildBusyBoard(t)

	data, err := b.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	restored := NewBoard(DefaultConfig(), NewTickScheduler(), testRNG())
	if err := restored.Deserialize(data); err != nil {
		t.Fatalf("deserialize: %v", err)
	}

	if restored.Score() != 17 {
		t.Errorf("score = %d, want 17", restored.Score())
	}
	if restored.UnitCount() != b.UnitCount() {
		t.Fatalf("unit count %d, want %d", restored.UnitCount(), b.UnitCount())
	}
	want := unitKeys(b)
	got := unitKeys(restored)
	for k, n := range want {
		if got[k] != n {
			t.Errorf("unit %v: restored %d copies, want %d", k, got[k], n)
		}
	}

	if restored.GroupCount() != 1 {
		t.Fatalf("group count = %d, want 1", restored.GroupCount())
	}
	g := restored.groups[0]
	if g.Size() != 3 || g.Velocity() != -320 || g.BoostCount() != 2 {
		t.Errorf("group restored as size=%d vel=%g boost=%d", g.Size(), g.Velocity(), g.BoostCount())
	}
	if len(restored.recovery) != 1 {
		t.Errorf("recovery timer count = %d, want 1", len(restored.recovery))
	}
	checkMembership(t, restored)
}

func TestSaveRoundTripResumesSimulation(t *testing.T) {
	b, _ := buildBusyBoard(t)
	data, err := b.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	sched := NewTickScheduler()
	restored := NewBoard(DefaultConfig(), sched, testRNG())
	if err := restored.Deserialize(data); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	for i := 0; i < 300; i++ {
		sched.Advance(testDt * 1000)
		restored.Tick(testDt)
		checkMembership(t, restored)
	}
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	b, _ := newTestBoard()
	mustAdd(t, b, 0, 480, Red, 0)

	err := b.Deserialize([]byte{0x00, 0xde, 0xad})
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	if b.UnitCount() != 1 {
		t.Error("failed deserialize must leave the board untouched")
	}
}

func TestRestoreRejectsBadStates(t *testing.T) {
	cases := []struct {
		name string
		st   SaveState
	}{
		{"bad version", SaveState{Version: 99}},
		{"column out of range", SaveState{Version: SaveVersion, Units: []SavedUnit{{Col: 99, Y: 480}}}},
		{"negative column", SaveState{Version: SaveVersion, Units: []SavedUnit{{Col: -1, Y: 480}}}},
		{"bad color index", SaveState{Version: SaveVersion, Units: []SavedUnit{{Col: 0, Y: 480, ColorIndex: 9}}}},
		{"group member out of range", SaveState{Version: SaveVersion,
			Units:  []SavedUnit{{Col: 0, Y: 480}},
			Groups: []SavedGroup{{Members: []int{5}, Velocity: -100}}}},
		{"empty group", SaveState{Version: SaveVersion, Groups: []SavedGroup{{Velocity: -100}}}},
		{"unit in two groups", SaveState{Version: SaveVersion,
			Units:  []SavedUnit{{Col: 0, Y: 480}},
			Groups: []SavedGroup{{Members: []int{0}, Velocity: -1}, {Members: []int{0}, Velocity: -2}}}},
		{"lose timer bad column", SaveState{Version: SaveVersion, LoseTimers: map[int]float64{42: 100}}},
		{"lost column out of range", SaveState{Version: SaveVersion, LostColumns: []int{42}}},
	}
	for _, tc := range cases {
		b, _ := newTestBoard()
		mustAdd(t, b, 2, 480, Blue, 0)
		err := b.Restore(tc.st)
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Errorf("%s: expected FormatError, got %v", tc.name, err)
		}
		if b.UnitCount() != 1 {
			t.Errorf("%s: board mutated by rejected restore", tc.name)
		}
	}
}

func TestSaveOmitsZeroOptionalFields(t *testing.T) {
	b, _ := newTestBoard()
	mustAdd(t, b, 0, 480, Red, 0)

	st := b.SaveState()
	if len(st.Units) != 1 {
		t.Fatalf("expected 1 saved unit, got %d", len(st.Units))
	}
	if st.Units[0].Velocity != 0 || st.Units[0].RecoveryRemainingMs != 0 {
		t.Error("resident without a timer should carry zero optional fields")
	}
	if st.LoseTimers != nil {
		t.Error("no lose timers should be emitted for a calm board")
	}
}

func TestLoseTimerRoundTrip(t *testing.T) {
	b, sched := newTestBoard()
	for row := 0; ; row++ {
		y := b.cfg.FloorY - float64(row)*b.cfg.CellHeight
		if y < b.cfg.TopY {
			break
		}
		mustAdd(t, b, 0, y, Color(row%2), 0)
	}
	b.Tick(testDt) // arms the grace timer
	for i := 0; i < 30; i++ {
		sched.Advance(testDt * 1000)
		b.Tick(testDt)
	}

	st := b.SaveState()
	remaining, ok := st.LoseTimers[0]
	if !ok {
		t.Fatal("armed lose timer missing from save state")
	}
	if remaining >= b.cfg.OverHeightGraceMs || remaining <= 0 {
		t.Errorf("remaining %gms out of range", remaining)
	}

	sched2 := NewTickScheduler()
	restored := NewBoard(DefaultConfig(), sched2, testRNG())
	if err := restored.Restore(st); err != nil {
		t.Fatalf("restore: %v", err)
	}
	sched2.Advance(remaining + 1)
	restored.Tick(testDt)
	if !restored.ColumnOverHeight(0) {
		t.Error("restored lose timer should fire after its remainder")
	}
}

func TestLostColumnRoundTrip(t *testing.T) {
	b, sched := newTestBoard()
	for row := 0; ; row++ {
		y := b.cfg.FloorY - float64(row)*b.cfg.CellHeight
		if y < b.cfg.TopY {
			break
		}
		mustAdd(t, b, 0, y, Color(row%2), 0)
	}
	b.Tick(testDt) // arms the grace timer
	for i := 0; float64(i)*testDt*1000 < b.cfg.OverHeightGraceMs+100; i++ {
		sched.Advance(testDt * 1000)
		b.Tick(testDt)
	}
	if !b.ColumnOverHeight(0) {
		t.Fatal("column should be lost after the grace window elapses")
	}

	st := b.SaveState()
	if len(st.LostColumns) != 1 || st.LostColumns[0] != 0 {
		t.Fatalf("lost columns = %v, want [0]", st.LostColumns)
	}
	if _, ok := st.LoseTimers[0]; ok {
		t.Error("a lost column should not also carry a grace timer")
	}

	restored := NewBoard(DefaultConfig(), NewTickScheduler(), testRNG())
	if err := restored.Restore(st); err != nil {
		t.Fatalf("restore: %v", err)
	}
	// Lost state must hold without any ticking: the grace must not re-arm.
	if !restored.ColumnOverHeight(0) {
		t.Error("restored board should report the column as already lost")
	}
}

func TestRecoveryRemainderRoundTrip(t *testing.T) {
	b, sched := newTestBoard()
	grey := mustAdd(t, b, 0, 480, Red, 0)
	b.Unit(grey).Color = Consumed
	b.startRecovery(grey)

	for i := 0; i < 60; i++ {
		sched.Advance(testDt * 1000)
		b.Tick(testDt)
	}

	st := b.SaveState()
	if len(st.Units) != 1 || st.Units[0].RecoveryRemainingMs <= 0 {
		t.Fatal("recovery remainder missing from save state")
	}
	remaining := st.Units[0].RecoveryRemainingMs
	if remaining >= b.cfg.RecoveryDelayMs {
		t.Errorf("remainder %g should be below the full delay", remaining)
	}

	sched2 := NewTickScheduler()
	restored := NewBoard(DefaultConfig(), sched2, testRNG())
	if err := restored.Restore(st); err != nil {
		t.Fatalf("restore: %v", err)
	}
	sched2.Advance(remaining + 1)
	restored.Tick(testDt)
	snap := restored.AllUnits()
	if len(snap) != 1 || !snap[0].Color.Playable() {
		t.Error("restored unit should finish recovery after its remainder")
	}
}
