package sim

import (
	"fmt"
	"math"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// SaveVersion is the current SaveState schema version.
const SaveVersion = 1

// FormatError reports a malformed or incompatible SaveState. The board is
// left untouched when Deserialize returns one; callers fall back to a fresh
// board rather than partially applying.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "save format: " + e.Reason }

func formatErrorf(format string, args ...interface{}) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// SavedUnit is one unit in the minimal resume schema. Velocity and recovery
// remainder are omitted when zero.
type SavedUnit struct {
	Col                 int     `msgpack:"c" json:"c"`
	Y                   float64 `msgpack:"y" json:"y"`
	ColorIndex          int     `msgpack:"ci" json:"ci"` // 0-4 playable, 5 consumed
	Velocity            float64 `msgpack:"v,omitempty" json:"v,omitempty"`
	RecoveryRemainingMs float64 `msgpack:"r,omitempty" json:"r,omitempty"`
}

// SavedGroup references its members by index into the Units slice.
type SavedGroup struct {
	Members    []int   `msgpack:"m" json:"m"`
	Velocity   float64 `msgpack:"v" json:"v"`
	BoostCount int     `msgpack:"b,omitempty" json:"b,omitempty"`
}

// SaveState is the minimal state needed to exactly resume the simulation.
type SaveState struct {
	Version    int             `msgpack:"ver" json:"ver"`
	Score      int             `msgpack:"s" json:"s"`
	Units      []SavedUnit     `msgpack:"u" json:"u"`
	Groups     []SavedGroup    `msgpack:"g" json:"g"`
	LoseTimers map[int]float64 `msgpack:"lt,omitempty" json:"lt,omitempty"` // column -> remaining ms
	// LostColumns are columns whose over-height grace already elapsed. They
	// restore as lost immediately instead of re-arming the grace window.
	LostColumns []int `msgpack:"lc,omitempty" json:"lc,omitempty"`
}

func roundY(y float64) float64 {
	return math.Round(y*10) / 10
}

// SaveState captures the board into the save schema. Units are listed
// residents-first per column, then group members, then free units, so the
// layout is deterministic.
func (b *Board) SaveState() SaveState {
	st := SaveState{Version: SaveVersion, Score: b.score}

	index := make(map[UnitID]int)
	addUnit := func(u *Unit, vel float64) {
		su := SavedUnit{Col: u.Col, Y: roundY(u.Y), ColorIndex: int(u.Color), Velocity: vel}
		if e, ok := b.recovery[u.ID]; ok {
			remaining := b.cfg.RecoveryDelayMs - e.elapsedMs
			if remaining < 1 {
				remaining = 1
			}
			su.RecoveryRemainingMs = remaining
		}
		index[u.ID] = len(st.Units)
		st.Units = append(st.Units, su)
	}

	for _, col := range b.cols {
		for _, id := range col.ids {
			addUnit(b.units[id], 0)
		}
	}
	for _, g := range b.groups {
		sg := SavedGroup{Velocity: g.vel, BoostCount: g.boost}
		for _, id := range g.members {
			addUnit(b.units[id], 0)
			sg.Members = append(sg.Members, index[id])
		}
		st.Groups = append(st.Groups, sg)
	}
	freeIDs := make([]UnitID, 0, len(b.free))
	for id := range b.free {
		freeIDs = append(freeIDs, id)
	}
	sortUnitIDs(freeIDs)
	for _, id := range freeIDs {
		u := b.units[id]
		addUnit(u, u.Vel)
	}

	for col := range b.over {
		oh := &b.over[col]
		switch {
		case oh.fired:
			st.LostColumns = append(st.LostColumns, col)
		case oh.armed:
			remaining := b.cfg.OverHeightGraceMs - oh.elapsedMs
			if remaining < 1 {
				remaining = 1
			}
			if st.LoseTimers == nil {
				st.LoseTimers = make(map[int]float64)
			}
			st.LoseTimers[col] = remaining
		}
	}
	return st
}

// Serialize encodes the board for the external save transport.
func (b *Board) Serialize() ([]byte, error) {
	return msgpack.Marshal(b.SaveState())
}

// Deserialize replaces the board's contents with a saved state. All
// validation happens before any mutation: a FormatError means the board is
// exactly as it was.
func (b *Board) Deserialize(data []byte) error {
	var st SaveState
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return &FormatError{Reason: "decode: " + err.Error()}
	}
	return b.Restore(st)
}

// Restore applies an already-decoded SaveState, with the same all-or-nothing
// guarantee as Deserialize.
func (b *Board) Restore(st SaveState) error {
	if st.Version != SaveVersion {
		return formatErrorf("unsupported version %d", st.Version)
	}
	grouped := make(map[int]int) // unit index -> group index
	for gi, g := range st.Groups {
		if len(g.Members) == 0 {
			return formatErrorf("group %d has no members", gi)
		}
		if g.BoostCount < 0 {
			return formatErrorf("group %d has negative boost count", gi)
		}
		for _, m := range g.Members {
			if m < 0 || m >= len(st.Units) {
				return formatErrorf("group %d references unit %d of %d", gi, m, len(st.Units))
			}
			if owner, dup := grouped[m]; dup {
				return formatErrorf("unit %d in groups %d and %d", m, owner, gi)
			}
			grouped[m] = gi
		}
	}
	for i, su := range st.Units {
		if su.Col < 0 || su.Col >= b.cfg.Columns {
			return formatErrorf("unit %d column %d out of range", i, su.Col)
		}
		if su.ColorIndex < 0 || su.ColorIndex > int(Consumed) {
			return formatErrorf("unit %d color index %d out of range", i, su.ColorIndex)
		}
		if su.RecoveryRemainingMs < 0 {
			return formatErrorf("unit %d negative recovery remainder", i)
		}
	}
	for col, remaining := range st.LoseTimers {
		if col < 0 || col >= b.cfg.Columns {
			return formatErrorf("lose timer column %d out of range", col)
		}
		if remaining <= 0 {
			return formatErrorf("lose timer for column %d not positive", col)
		}
	}
	for _, col := range st.LostColumns {
		if col < 0 || col >= b.cfg.Columns {
			return formatErrorf("lost column %d out of range", col)
		}
	}

	b.reset()
	b.score = st.Score

	ids := make([]UnitID, len(st.Units))
	for i, su := range st.Units {
		b.nextID++
		u := &Unit{ID: b.nextID, Col: su.Col, Y: su.Y, Color: Color(su.ColorIndex), Vel: su.Velocity}
		b.units[u.ID] = u
		ids[i] = u.ID
	}
	for _, g := range st.Groups {
		grp := &Group{vel: g.Velocity, boost: g.BoostCount}
		for _, m := range g.Members {
			id := ids[m]
			grp.members = append(grp.members, id)
			b.groupOf[id] = grp
			b.units[id].Vel = g.Velocity
		}
		b.groups = append(b.groups, grp)
	}
	for i, su := range st.Units {
		if _, isGrouped := grouped[i]; isGrouped {
			continue
		}
		u := b.units[ids[i]]
		if su.Velocity == 0 {
			u.Vel = 0
			b.cols[u.Col].Add(u)
			b.resIn[u.ID] = u.Col
			if u.Color == Consumed {
				b.restoreRecovery(u.ID, su.RecoveryRemainingMs)
			}
		} else {
			b.free[u.ID] = struct{}{}
		}
	}
	for col, remaining := range st.LoseTimers {
		c := col
		oh := &b.over[c]
		oh.armed = true
		oh.elapsedMs = b.cfg.OverHeightGraceMs - remaining
		oh.token = b.sched.Schedule(remaining, func() {
			s := &b.over[c]
			s.armed = false
			s.fired = true
		})
	}
	for _, col := range st.LostColumns {
		b.over[col].fired = true
	}
	return nil
}

// restoreRecovery schedules a recovery timer with the given remainder. A
// zero remainder means the save carried no timer; the unit is treated as
// freshly rested and gets the full delay.
func (b *Board) restoreRecovery(id UnitID, remainingMs float64) {
	delay := remainingMs
	elapsed := b.cfg.RecoveryDelayMs - remainingMs
	if remainingMs == 0 {
		delay = b.cfg.RecoveryDelayMs
		elapsed = 0
	}
	e := &recoveryEntry{elapsedMs: elapsed}
	e.token = b.sched.Schedule(delay, func() { b.recoveryFired(id) })
	b.recovery[id] = e
}

// reset cancels every pending timer and empties the board in place.
func (b *Board) reset() {
	for id := range b.recovery {
		b.cancelRecovery(id)
	}
	for col := range b.over {
		if b.over[col].armed {
			b.sched.Cancel(b.over[col].token)
		}
		b.over[col] = overHeightState{}
	}
	b.units = make(map[UnitID]*Unit)
	b.groupOf = make(map[UnitID]*Group)
	b.resIn = make(map[UnitID]int)
	b.free = make(map[UnitID]struct{})
	b.recovery = make(map[UnitID]*recoveryEntry)
	b.recoverReady = nil
	b.groups = nil
	b.score = 0
	b.scoreDelta = 0
	for i := range b.cols {
		b.cols[i] = newColumn(i, b.units, &b.cfg)
	}
}

func sortUnitIDs(ids []UnitID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
