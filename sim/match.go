package sim

import (
	"math"
	"sort"
)

// launchVelocity returns the initial velocity for a launch of n matched
// units. Negative is up; larger matches launch harder.
func (b *Board) launchVelocity(n int) float64 {
	return -b.cfg.LaunchFactor * float64(n)
}

// resolveMatches runs the full per-tick match scan: the at-rest grid first,
// then every in-motion group.
func (b *Board) resolveMatches() {
	b.resolveGridMatches()
	b.resolveGroupMatches()
}

// rowOf maps a y position to a grid row counted up from the floor.
func (b *Board) rowOf(y float64) int {
	return int(math.Round((b.cfg.FloorY - y) / b.cfg.CellHeight))
}

// resolveGridMatches scans rows and columns of grid-resident units for runs
// of three or more. Only residents enter the scan: a unit passing through a
// grid position while grouped or falling is not part of the rigid at-rest
// assembly and can never continue one of these runs. All simultaneous runs
// are consumed as one resolution pass; the summed count drives the launch.
func (b *Board) resolveGridMatches() {
	type cell struct{ col, row int }
	cells := make(map[cell]*Unit)
	maxRow := 0
	for _, col := range b.cols {
		for _, id := range col.ids {
			u := b.units[id]
			r := b.rowOf(u.Y)
			cells[cell{u.Col, r}] = u
			if r > maxRow {
				maxRow = r
			}
		}
	}

	matched := make(map[UnitID]*Unit)
	flush := func(run []*Unit) {
		if len(run) >= 3 {
			for _, u := range run {
				matched[u.ID] = u
			}
		}
	}

	// Horizontal runs, left to right.
	for row := 0; row <= maxRow; row++ {
		var run []*Unit
		for c := 0; c < b.cfg.Columns; c++ {
			u := cells[cell{c, row}]
			if u == nil || !u.Color.Playable() {
				flush(run)
				run = nil
				continue
			}
			if len(run) > 0 && run[len(run)-1].Color != u.Color {
				flush(run)
				run = nil
			}
			run = append(run, u)
		}
		flush(run)
	}

	// Vertical runs, top to bottom. A gap wider than one cell breaks the run.
	limit := b.cfg.CellHeight + b.cfg.Tolerance
	for _, col := range b.cols {
		var run []*Unit
		for _, id := range col.ids {
			u := b.units[id]
			if !u.Color.Playable() {
				flush(run)
				run = nil
				continue
			}
			if len(run) > 0 {
				prev := run[len(run)-1]
				if u.Y-prev.Y > limit || u.Color != prev.Color {
					flush(run)
					run = nil
				}
			}
			run = append(run, u)
		}
		flush(run)
	}

	if len(matched) == 0 {
		return
	}

	units := make([]*Unit, 0, len(matched))
	for _, u := range matched {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })

	size := len(units)
	for _, u := range units {
		u.Color = Consumed
	}
	b.score += size
	b.scoreDelta += size
	b.launchOrStack(b.launchSet(units), size)
}

// launchSet expands matched units upward: every unit sitting within one
// cell height directly above an included unit in the same column rides
// along, whatever its current state.
func (b *Board) launchSet(matched []*Unit) []*Unit {
	byCol := make([][]*Unit, b.cfg.Columns)
	for _, u := range b.units {
		byCol[u.Col] = append(byCol[u.Col], u)
	}
	for _, col := range byCol {
		sort.Slice(col, func(i, j int) bool { return col[i].Y < col[j].Y })
	}

	limit := b.cfg.CellHeight + b.cfg.Tolerance
	included := make(map[UnitID]bool)
	var set []*Unit
	add := func(u *Unit) bool {
		if included[u.ID] {
			return false
		}
		included[u.ID] = true
		set = append(set, u)
		return true
	}

	for _, m := range matched {
		add(m)
		col := byCol[m.Col]
		i := 0
		for ; i < len(col); i++ {
			if col[i].ID == m.ID {
				break
			}
		}
		cur := m
		for i--; i >= 0; i-- {
			above := col[i]
			if cur.Y-above.Y > limit {
				break
			}
			add(above)
			cur = above
		}
	}
	return set
}

// launchOrStack sends a launch set skyward. If the set touches groups that
// are already airborne no new group forms: each touched group gets the
// launch velocity added on top (force stacking) and the grounded part of
// the set is absorbed into the first of them. Otherwise the whole set
// leaves its column slots as one new group.
func (b *Board) launchOrStack(set []*Unit, matchSize int) {
	lv := b.launchVelocity(matchSize)

	var touched []*Group
	for _, u := range set {
		g := b.groupOf[u.ID]
		if g == nil {
			continue
		}
		seen := false
		for _, t := range touched {
			if t == g {
				seen = true
				break
			}
		}
		if !seen {
			touched = append(touched, g)
		}
	}

	if len(touched) > 0 {
		for _, g := range touched {
			g.vel += lv
			g.boost++
		}
		host := touched[0]
		for _, u := range set {
			if b.groupOf[u.ID] != nil {
				continue
			}
			b.detach(u)
			host.members = append(host.members, u.ID)
			b.groupOf[u.ID] = host
			u.Vel = host.vel
		}
		return
	}

	g := &Group{vel: lv}
	for _, u := range set {
		b.detach(u)
		g.members = append(g.members, u.ID)
		b.groupOf[u.ID] = g
		u.Vel = lv
	}
	b.groups = append(b.groups, g)
}

// resolveGroupMatches scans every live group of three or more members for
// runs. Members are not grid-aligned mid-flight, so rows are clustered by a
// y window and adjacency is physical: column distance one, or one cell
// height vertically. A match force-stacks onto the same group with the
// boost multiplier.
func (b *Board) resolveGroupMatches() {
	live := append([]*Group(nil), b.groups...)
	for _, g := range live {
		if len(g.members) < 3 {
			continue
		}
		b.resolveOneGroup(g)
	}
}

func (b *Board) resolveOneGroup(g *Group) {
	members := make([]*Unit, 0, len(g.members))
	for _, id := range g.members {
		members = append(members, b.units[id])
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Y < members[j].Y })

	matched := make(map[UnitID]*Unit)
	flush := func(run []*Unit) {
		if len(run) >= 3 {
			for _, u := range run {
				matched[u.ID] = u
			}
		}
	}

	// Row clustering by y window, then horizontal runs over consecutive
	// column indices.
	rowTol := b.cfg.RowClusterFrac * b.cfg.CellHeight
	var cluster []*Unit
	scanRow := func(row []*Unit) {
		sort.Slice(row, func(i, j int) bool { return row[i].Col < row[j].Col })
		var run []*Unit
		for _, u := range row {
			if !u.Color.Playable() {
				flush(run)
				run = nil
				continue
			}
			if len(run) > 0 {
				prev := run[len(run)-1]
				if u.Col != prev.Col+1 || u.Color != prev.Color {
					flush(run)
					run = nil
				}
			}
			run = append(run, u)
		}
		flush(run)
	}
	for _, u := range members {
		if len(cluster) > 0 && u.Y-cluster[0].Y > rowTol {
			scanRow(cluster)
			cluster = nil
		}
		cluster = append(cluster, u)
	}
	scanRow(cluster)

	// Vertical runs per column: neighbors roughly one cell height apart.
	byCol := make(map[int][]*Unit)
	for _, u := range members {
		byCol[u.Col] = append(byCol[u.Col], u)
	}
	colIdx := make([]int, 0, len(byCol))
	for c := range byCol {
		colIdx = append(colIdx, c)
	}
	sort.Ints(colIdx)
	for _, c := range colIdx {
		col := byCol[c]
		sort.Slice(col, func(i, j int) bool { return col[i].Y < col[j].Y })
		var run []*Unit
		for _, u := range col {
			if !u.Color.Playable() {
				flush(run)
				run = nil
				continue
			}
			if len(run) > 0 {
				prev := run[len(run)-1]
				dy := u.Y - prev.Y
				if math.Abs(dy-b.cfg.CellHeight) > b.cfg.Tolerance || u.Color != prev.Color {
					flush(run)
					run = nil
				}
			}
			run = append(run, u)
		}
		flush(run)
	}

	if len(matched) == 0 {
		return
	}

	size := len(matched)
	for _, u := range matched {
		u.Color = Consumed
	}
	b.score += size
	b.scoreDelta += size

	// Force stacking with the airborne boost multiplier; the stored boost
	// count increments after the velocity math uses it.
	g.vel += b.launchVelocity(size) * (1 + math.Pow(2, float64(g.boost)))
	g.boost++
	for _, id := range g.members {
		b.units[id].Vel = g.vel
	}
}
