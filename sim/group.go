package sim

import "math"

// Group is a rigid assembly of units sharing one velocity. Members keep
// their relative offsets exactly: the group integrates once per tick and
// moves everyone by the same delta. Groups own unit ids; the board's
// membership index maps ids back to their group.
type Group struct {
	members []UnitID
	vel     float64
	boost   int // matches force-stacked onto this group while airborne
	grace   int // disband checks suppressed while > 0
}

// Size returns the member count.
func (g *Group) Size() int { return len(g.members) }

// Velocity returns the group's stored velocity.
func (g *Group) Velocity() float64 { return g.vel }

// BoostCount returns the number of force-stacked matches.
func (g *Group) BoostCount() int { return g.boost }

// integrate advances the whole group one tick. Gravity scales with member
// count, so heavy assemblies fall back sooner. The stored velocity is
// clamped on the downward side only; upward motion is capped per tick but
// the stored value keeps accumulating so later force-stacking math sees the
// full boost.
func (g *Group) integrate(dt float64, cfg *Config, arena map[UnitID]*Unit) {
	prev := g.vel
	gravity := cfg.GroupBaseGravity + cfg.GroupMassFactor*float64(len(g.members))
	g.vel += gravity * dt
	if g.vel > cfg.MaxGroupFall {
		g.vel = cfg.MaxGroupFall
	}
	applied := g.vel
	if applied < -cfg.MaxGroupRise {
		applied = -cfg.MaxGroupRise
	}
	dy := applied * dt
	for _, id := range g.members {
		arena[id].Y += dy
		arena[id].Vel = g.vel
	}
	if prev < 0 && g.vel >= 0 {
		g.grace = cfg.DisbandGraceTicks
	} else if g.grace > 0 {
		g.grace--
	}
}

// topY returns the smallest member y (closest to the top boundary).
func (g *Group) topY(arena map[UnitID]*Unit) float64 {
	top := math.Inf(1)
	for _, id := range g.members {
		if y := arena[id].Y; y < top {
			top = y
		}
	}
	return top
}

// bottomY returns the largest member y.
func (g *Group) bottomY(arena map[UnitID]*Unit) float64 {
	bottom := math.Inf(-1)
	for _, id := range g.members {
		if y := arena[id].Y; y > bottom {
			bottom = y
		}
	}
	return bottom
}

// realign snaps every member to the cell lattice phased from the topmost
// member. Independent integration before a merge introduces small drift
// between the two halves; snapping restores exact spacing.
func (g *Group) realign(cellH float64, arena map[UnitID]*Unit) {
	ref := g.topY(arena)
	for _, id := range g.members {
		u := arena[id]
		steps := math.Round((u.Y - ref) / cellH)
		u.Y = ref + steps*cellH
	}
}

// near reports whether any member of g sits within one cell height of a
// member of other in the same column.
func (g *Group) near(other *Group, cfg *Config, arena map[UnitID]*Unit) bool {
	limit := cfg.CellHeight + cfg.Tolerance
	for _, a := range g.members {
		ua := arena[a]
		for _, b := range other.members {
			ub := arena[b]
			if ua.Col == ub.Col && math.Abs(ua.Y-ub.Y) <= limit {
				return true
			}
		}
	}
	return false
}

// merge absorbs other into g: size-weighted velocity plus a fixed upward
// kick, boost carried as max+1, members realigned to g's lattice.
func (g *Group) merge(other *Group, cfg *Config, arena map[UnitID]*Unit) {
	sa := float64(len(g.members))
	sb := float64(len(other.members))
	g.vel = (g.vel*sa+other.vel*sb)/(sa+sb) - cfg.MergeBonus
	if other.boost > g.boost {
		g.boost = other.boost
	}
	g.boost++
	g.members = append(g.members, other.members...)
	g.realign(cfg.CellHeight, arena)
	for _, id := range g.members {
		arena[id].Vel = g.vel
	}
}
