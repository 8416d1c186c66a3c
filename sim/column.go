package sim

import "sort"

// Column stores the at-rest units of one column, ordered by y ascending
// (index 0 is the topmost unit). It holds unit ids and resolves them through
// the board's shared arena. Moving units are invisible to these queries;
// collision against the at-rest stack goes through CheckCollision.
type Column struct {
	index int
	ids   []UnitID
	arena map[UnitID]*Unit
	cfg   *Config
}

func newColumn(index int, arena map[UnitID]*Unit, cfg *Config) *Column {
	return &Column{index: index, arena: arena, cfg: cfg}
}

// Len returns the number of at-rest units in the column.
func (c *Column) Len() int { return len(c.ids) }

func (c *Column) unit(i int) *Unit { return c.arena[c.ids[i]] }

// Contains reports whether the unit id is resident in this column.
func (c *Column) Contains(id UnitID) bool {
	for _, v := range c.ids {
		if v == id {
			return true
		}
	}
	return false
}

// Add inserts a unit keeping the slice sorted by y. If the unit would
// overlap an existing resident within tolerance it is nudged to sit flush
// one cell above the blocker, preserving the spacing invariant.
func (c *Column) Add(u *Unit) {
	minGap := c.cfg.CellHeight - c.cfg.Tolerance
	for moved := true; moved; {
		moved = false
		for _, id := range c.ids {
			other := c.arena[id]
			if u.Y > other.Y-minGap && u.Y < other.Y+minGap {
				u.Y = other.Y - c.cfg.CellHeight
				moved = true
			}
		}
	}
	i := sort.Search(len(c.ids), func(i int) bool {
		return c.unit(i).Y >= u.Y
	})
	c.ids = append(c.ids, 0)
	copy(c.ids[i+1:], c.ids[i:])
	c.ids[i] = u.ID
}

// Remove deletes the unit id from the column. Removing an absent id is a
// no-op.
func (c *Column) Remove(id UnitID) {
	for i, v := range c.ids {
		if v == id {
			c.ids = append(c.ids[:i], c.ids[i+1:]...)
			return
		}
	}
}

// UnitNear returns the resident unit within tol of y, or nil.
func (c *Column) UnitNear(y, tol float64) *Unit {
	for _, id := range c.ids {
		u := c.arena[id]
		if u.Y >= y-tol && u.Y <= y+tol {
			return u
		}
	}
	return nil
}

// NearestAbove returns the closest resident unit with a smaller y
// (physically above), or nil.
func (c *Column) NearestAbove(y float64) *Unit {
	i := sort.Search(len(c.ids), func(i int) bool {
		return c.unit(i).Y >= y
	})
	if i == 0 {
		return nil
	}
	return c.unit(i - 1)
}

// NearestBelow returns the closest resident unit with a larger y
// (physically below), or nil.
func (c *Column) NearestBelow(y float64) *Unit {
	i := sort.Search(len(c.ids), func(i int) bool {
		return c.unit(i).Y > y
	})
	if i == len(c.ids) {
		return nil
	}
	return c.unit(i)
}

// AllAbove returns every resident unit physically above y, topmost first.
func (c *Column) AllAbove(y float64) []*Unit {
	var out []*Unit
	for _, id := range c.ids {
		u := c.arena[id]
		if u.Y < y {
			out = append(out, u)
		}
	}
	return out
}

// CheckCollision tests a moving unit against the floor and the at-rest
// stack. Only downward movers collide; the rest position is either the
// floor or flush on top of the nearest resident below. The query never
// mutates board state.
func (c *Column) CheckCollision(u *Unit) (collided bool, restY float64) {
	if u.Vel <= 0 {
		return false, 0
	}
	if below := c.NearestBelow(u.Y); below != nil {
		rest := below.Y - c.cfg.CellHeight
		if u.Y >= rest-c.cfg.Tolerance {
			return true, rest
		}
		return false, 0
	}
	if u.Y >= c.cfg.FloorY {
		return true, c.cfg.FloorY
	}
	return false, 0
}

// Topmost returns the resident unit closest to the top boundary, or nil.
func (c *Column) Topmost() *Unit {
	if len(c.ids) == 0 {
		return nil
	}
	return c.unit(0)
}
