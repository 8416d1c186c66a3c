package sim

import (
	"log"
	"math"
	"math/rand"
	"sort"
	"time"
)

// Board is the whole simulation state: the unit arena, per-column stores,
// live groups, the free-falling set and the membership indexes. It is
// constructed once by the host and mutated only through its entry points;
// there is no global state. Every unit is in exactly one of three states:
// resident in a column, member of a group, or free-falling.
type Board struct {
	cfg   Config
	rng   *rand.Rand
	sched Scheduler

	units   map[UnitID]*Unit
	cols    []*Column
	groups  []*Group
	groupOf map[UnitID]*Group
	resIn   map[UnitID]int // unit id -> column index, residents only
	free    map[UnitID]struct{}

	recovery     map[UnitID]*recoveryEntry
	recoverReady []UnitID

	over []overHeightState // indexed by column

	score      int
	scoreDelta int
	tick       uint64
	nextID     UnitID
}

type recoveryEntry struct {
	token     Token
	elapsedMs float64
}

type overHeightState struct {
	token     Token
	elapsedMs float64
	armed     bool // grace timer running
	fired     bool
}

// NewBoard creates an empty board. A nil rng gets a time-seeded source;
// tests pass a fixed seed for determinism.
func NewBoard(cfg Config, sched Scheduler, rng *rand.Rand) *Board {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	b := &Board{
		cfg:      cfg,
		rng:      rng,
		sched:    sched,
		units:    make(map[UnitID]*Unit),
		groupOf:  make(map[UnitID]*Group),
		resIn:    make(map[UnitID]int),
		free:     make(map[UnitID]struct{}),
		recovery: make(map[UnitID]*recoveryEntry),
		over:     make([]overHeightState, cfg.Columns),
	}
	b.cols = make([]*Column, cfg.Columns)
	for i := range b.cols {
		b.cols[i] = newColumn(i, b.units, &b.cfg)
	}
	return b
}

// Config returns the board's tuning.
func (b *Board) Config() Config { return b.cfg }

// Score returns the running score counter.
func (b *Board) Score() int { return b.score }

// ScoreDelta returns the number of units consumed during the last tick.
func (b *Board) ScoreDelta() int { return b.scoreDelta }

// TickCount returns the number of completed ticks.
func (b *Board) TickCount() uint64 { return b.tick }

// UnitCount returns the number of live units.
func (b *Board) UnitCount() int { return len(b.units) }

// GroupCount returns the number of live groups.
func (b *Board) GroupCount() int { return len(b.groups) }

// Column exposes one column store for read-only queries.
func (b *Board) Column(i int) *Column {
	if i < 0 || i >= len(b.cols) {
		return nil
	}
	return b.cols[i]
}

// Unit returns the live unit for an id, or nil.
func (b *Board) Unit(id UnitID) *Unit { return b.units[id] }

// GroupFor returns the group owning the unit, or nil.
func (b *Board) GroupFor(id UnitID) *Group { return b.groupOf[id] }

// StateOf classifies a unit's current membership.
func (b *Board) StateOf(id UnitID) State {
	if b.groupOf[id] != nil {
		return StateGrouped
	}
	if _, ok := b.resIn[id]; ok {
		return StateResident
	}
	return StateFalling
}

// AddUnit is the external spawn feed. An out-of-range column is rejected
// with a warning rather than panicking. A unit spawned inside the board at
// rest becomes grid-resident immediately; anything else starts free-falling.
func (b *Board) AddUnit(col int, y float64, color Color, vel float64) (UnitID, bool) {
	if col < 0 || col >= b.cfg.Columns {
		log.Printf("sim: spawn rejected, column %d out of range [0,%d)", col, b.cfg.Columns)
		return 0, false
	}
	b.nextID++
	u := &Unit{ID: b.nextID, Col: col, Y: y, Color: color, Vel: vel}
	b.units[u.ID] = u
	if vel == 0 && y >= b.cfg.TopY && y <= b.cfg.FloorY {
		b.placeUnit(u, y)
	} else {
		b.free[u.ID] = struct{}{}
	}
	return u.ID, true
}

// TrySwap exchanges the positions of two units. Accepted only when both are
// in the same column, within one cell height of each other, and either both
// grid-resident or members of the identical group. Colors and states stay
// with their units; velocities are zeroed.
func (b *Board) TrySwap(a, c UnitID) bool {
	ua, ub := b.units[a], b.units[c]
	if ua == nil || ub == nil || ua == ub {
		return false
	}
	if ua.Col != ub.Col {
		return false
	}
	if math.Abs(ua.Y-ub.Y) > b.cfg.CellHeight+b.cfg.Tolerance {
		return false
	}
	ga, gb := b.groupOf[a], b.groupOf[c]
	_, ra := b.resIn[a]
	_, rb := b.resIn[c]
	switch {
	case ra && rb:
		col := b.cols[ua.Col]
		col.Remove(a)
		col.Remove(c)
		ua.Y, ub.Y = ub.Y, ua.Y
		ua.Vel, ub.Vel = 0, 0
		col.Add(ua)
		col.Add(ub)
		return true
	case ga != nil && ga == gb:
		ua.Y, ub.Y = ub.Y, ua.Y
		ua.Vel, ub.Vel = 0, 0
		return true
	}
	return false
}

// AllUnits returns a read-only snapshot of every live unit, ordered by id.
// Taken at end of tick by the host and handed to rendering.
func (b *Board) AllUnits() []UnitSnapshot {
	out := make([]UnitSnapshot, 0, len(b.units))
	for _, u := range b.units {
		out = append(out, UnitSnapshot{ID: u.ID, Col: u.Col, Y: u.Y, Color: u.Color, State: b.StateOf(u.ID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ColumnOverHeight reports whether the column's over-height grace delay has
// elapsed with the stack still at or above the top boundary. The flag holds
// until the stack drops back below; it does not re-fire every tick.
func (b *Board) ColumnOverHeight(col int) bool {
	if col < 0 || col >= len(b.over) {
		return false
	}
	return b.over[col].fired
}

// ColumnsOverHeight lists every column currently flagged over-height.
func (b *Board) ColumnsOverHeight() []int {
	var out []int
	for i := range b.over {
		if b.over[i].fired {
			out = append(out, i)
		}
	}
	return out
}

// Tick advances the simulation one frame. The phase order is fixed: match
// resolution sees a consistent snapshot before any physics moves, and the
// self-healing pass runs last so nothing stays stuck across ticks.
func (b *Board) Tick(dt float64) {
	b.tick++
	b.scoreDelta = 0

	b.resolveMatches()    // 1: at-rest grid + in-motion groups
	b.stepGroups(dt)      // 2: integrate, merge, in-group re-check, disband
	b.stepFreeUnits(dt)   // 3: gravity + collision + placement
	b.removeExited()      // 4: units and groups past the top boundary
	b.stepTimers(dt)      // 5: recovery / over-height bookkeeping
	b.assignRecovered()   // 6: batched color reassignment
	b.selfHeal()
}

// placeUnit turns a moving unit into a grid resident at restY. Consumed
// units start their recovery delay the moment they come to rest.
func (b *Board) placeUnit(u *Unit, restY float64) {
	u.Y = restY
	u.Vel = 0
	delete(b.free, u.ID)
	b.cols[u.Col].Add(u)
	b.resIn[u.ID] = u.Col
	if u.Color == Consumed {
		b.startRecovery(u.ID)
	}
}

// detach removes a unit from whichever container owns it, leaving it
// ownerless; the caller must hand it to a group or the free set. A resident
// that starts moving again loses its pending recovery timer.
func (b *Board) detach(u *Unit) {
	if col, ok := b.resIn[u.ID]; ok {
		b.cols[col].Remove(u.ID)
		delete(b.resIn, u.ID)
		b.cancelRecovery(u.ID)
	}
	delete(b.free, u.ID)
}

// destroyUnit removes a unit from the board entirely.
func (b *Board) destroyUnit(id UnitID) {
	u := b.units[id]
	if u == nil {
		return
	}
	b.detach(u)
	delete(b.groupOf, id)
	delete(b.units, id)
}

func (b *Board) startRecovery(id UnitID) {
	if _, ok := b.recovery[id]; ok {
		return
	}
	e := &recoveryEntry{}
	e.token = b.sched.Schedule(b.cfg.RecoveryDelayMs, func() { b.recoveryFired(id) })
	b.recovery[id] = e
}

// recoveryFired runs from the scheduler; it only enqueues the id, the
// actual recolor happens in the batched phase of the next tick.
func (b *Board) recoveryFired(id UnitID) {
	if _, ok := b.recovery[id]; !ok {
		return
	}
	delete(b.recovery, id)
	b.recoverReady = append(b.recoverReady, id)
}

func (b *Board) cancelRecovery(id UnitID) {
	if e, ok := b.recovery[id]; ok {
		b.sched.Cancel(e.token)
		delete(b.recovery, id)
	}
}

// stepGroups runs the group phase: one integration per group, the pairwise
// merge pass, the in-group match re-check, then disband checks.
func (b *Board) stepGroups(dt float64) {
	for _, g := range b.groups {
		g.integrate(dt, &b.cfg, b.units)
	}
	b.mergeGroups()
	b.resolveGroupMatches()
	b.checkDisbands()
}

// mergeGroups merges any two groups whose members come within one cell
// height in the same column. The smaller-indexed group absorbs the other;
// a group absorbed this tick is skipped for the rest of the pass.
func (b *Board) mergeGroups() {
	absorbed := make(map[*Group]bool)
	for i := 0; i < len(b.groups); i++ {
		gi := b.groups[i]
		if absorbed[gi] {
			continue
		}
		for j := i + 1; j < len(b.groups); j++ {
			gj := b.groups[j]
			if absorbed[gj] {
				continue
			}
			if gi.near(gj, &b.cfg, b.units) {
				gi.merge(gj, &b.cfg, b.units)
				for _, id := range gj.members {
					b.groupOf[id] = gi
				}
				absorbed[gj] = true
			}
		}
	}
	if len(absorbed) == 0 {
		return
	}
	kept := b.groups[:0]
	for _, g := range b.groups {
		if !absorbed[g] {
			kept = append(kept, g)
		}
	}
	b.groups = kept
}

// checkDisbands disbands every group with a colliding member, unless the
// group is inside its post-apex grace window.
func (b *Board) checkDisbands() {
	live := append([]*Group(nil), b.groups...)
	for _, g := range live {
		if g.grace > 0 {
			continue
		}
		collided := false
		for _, id := range g.members {
			u := b.units[id]
			if hit, _ := b.cols[u.Col].CheckCollision(u); hit {
				collided = true
				break
			}
		}
		if collided {
			b.disband(g)
		}
	}
}

// disband dissolves a group: each member is placed at its own rest position
// if colliding, otherwise it keeps falling on its own. Bottom members are
// settled first so the ones above stack onto them.
func (b *Board) disband(g *Group) {
	members := make([]*Unit, 0, len(g.members))
	for _, id := range g.members {
		members = append(members, b.units[id])
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Col != members[j].Col {
			return members[i].Col < members[j].Col
		}
		return members[i].Y > members[j].Y
	})
	for _, u := range members {
		delete(b.groupOf, u.ID)
		u.Vel = g.vel
		if hit, rest := b.cols[u.Col].CheckCollision(u); hit {
			b.placeUnit(u, rest)
		} else {
			b.free[u.ID] = struct{}{}
		}
	}
	for i, other := range b.groups {
		if other == g {
			b.groups = append(b.groups[:i], b.groups[i+1:]...)
			break
		}
	}
}

// stepFreeUnits integrates free-falling units and settles the ones that
// collide. Lower units in a column settle first so stacks build bottom-up
// within a single tick.
func (b *Board) stepFreeUnits(dt float64) {
	falling := make([]*Unit, 0, len(b.free))
	for id := range b.free {
		falling = append(falling, b.units[id])
	}
	sort.Slice(falling, func(i, j int) bool {
		if falling[i].Col != falling[j].Col {
			return falling[i].Col < falling[j].Col
		}
		return falling[i].Y > falling[j].Y
	})
	for _, u := range falling {
		u.integrate(dt, &b.cfg)
		if hit, rest := b.cols[u.Col].CheckCollision(u); hit {
			b.placeUnit(u, rest)
		}
	}
}

// removeExited destroys free units and whole groups that left through the
// top of the board while moving upward. A unit has exited once it is a full
// cell above the top boundary, so its sprite is fully off screen; groups use
// the same threshold on their lowest member. Each destroyed unit scores a
// point.
func (b *Board) removeExited() {
	for id := range b.free {
		u := b.units[id]
		if u.Vel < 0 && u.Y < b.cfg.TopY-b.cfg.CellHeight {
			b.destroyUnit(id)
			b.score++
		}
	}
	live := append([]*Group(nil), b.groups...)
	for _, g := range live {
		if g.vel < 0 && g.bottomY(b.units) < b.cfg.TopY-b.cfg.CellHeight {
			b.score += len(g.members)
			for _, id := range append([]UnitID(nil), g.members...) {
				b.destroyUnit(id)
			}
			for i, other := range b.groups {
				if other == g {
					b.groups = append(b.groups[:i], b.groups[i+1:]...)
					break
				}
			}
		}
	}
}

// stepTimers keeps elapsed-time bookkeeping for serialization and drives
// the per-column over-height grace timers.
func (b *Board) stepTimers(dt float64) {
	ms := dt * 1000
	for _, e := range b.recovery {
		e.elapsedMs += ms
	}
	for col := range b.over {
		st := &b.over[col]
		top := b.cols[col].Topmost()
		overTop := top != nil && top.Y <= b.cfg.TopY+b.cfg.Tolerance
		switch {
		case overTop && !st.fired && !st.armed:
			c := col
			st.armed = true
			st.elapsedMs = 0
			st.token = b.sched.Schedule(b.cfg.OverHeightGraceMs, func() {
				s := &b.over[c]
				s.armed = false
				s.fired = true
			})
		case overTop && st.armed:
			st.elapsedMs += ms
		case !overTop:
			if st.armed {
				b.sched.Cancel(st.token)
				st.armed = false
			}
			st.fired = false
		}
	}
}

// selfHeal forces any ownerless unit back into free fall. Overlapping
// disband and merge in one tick can briefly strand a unit with zero
// velocity; giving it a small downward nudge guarantees it settles within a
// tick instead of sticking forever.
func (b *Board) selfHeal() {
	owned := make(map[UnitID]bool, len(b.units))
	for _, col := range b.cols {
		for _, id := range col.ids {
			owned[id] = true
		}
	}
	for _, g := range b.groups {
		for _, id := range g.members {
			owned[id] = true
		}
	}
	for id := range b.free {
		owned[id] = true
	}
	for id, u := range b.units {
		if owned[id] {
			continue
		}
		delete(b.groupOf, id)
		delete(b.resIn, id)
		if u.Vel == 0 {
			u.Vel = b.cfg.NudgeVelocity
		}
		b.free[id] = struct{}{}
	}
}
