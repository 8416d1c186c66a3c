package sim

// Color is a unit's match color. Consumed units are grey and cannot take
// part in new runs until recovery reassigns a playable color.
type Color int8

const (
	Red Color = iota
	Yellow
	Green
	Blue
	Purple
	Consumed
)

// PlayableColors is the number of colors that can form runs.
const PlayableColors = 5

var colorNames = [...]string{"red", "yellow", "green", "blue", "purple", "consumed"}

func (c Color) String() string {
	if c < 0 || int(c) >= len(colorNames) {
		return "invalid"
	}
	return colorNames[c]
}

// Playable reports whether the color can participate in matches.
func (c Color) Playable() bool {
	return c >= Red && c < Consumed
}

// UnitID identifies a unit for its whole lifetime. Columns and groups hold
// ids, never unit pointers, so membership can be re-resolved safely after
// merges and disbands.
type UnitID uint64

// State classifies a unit's membership. Every live unit is in exactly one
// state; the Board owns the transitions.
type State int8

const (
	StateFalling  State = iota // integrating gravity on its own
	StateResident              // at rest, owned by a column slot
	StateGrouped               // owned by exactly one group
)

func (s State) String() string {
	switch s {
	case StateFalling:
		return "falling"
	case StateResident:
		return "resident"
	case StateGrouped:
		return "grouped"
	}
	return "invalid"
}

// Unit is one colored cell.
type Unit struct {
	ID    UnitID
	Col   int
	Y     float64
	Color Color
	Vel   float64 // negative = up, positive = down
}

// integrate applies gravity and moves a free-falling unit one tick. Grouped
// units never self-integrate; the group moves all members at once.
func (u *Unit) integrate(dt float64, cfg *Config) {
	u.Vel += cfg.UnitGravity * dt
	if u.Vel > cfg.MaxUnitFall {
		u.Vel = cfg.MaxUnitFall
	}
	u.Y += u.Vel * dt
}

// UnitSnapshot is the read-only view handed to rendering.
type UnitSnapshot struct {
	ID    UnitID  `json:"id"`
	Col   int     `json:"c"`
	Y     float64 `json:"y"`
	Color Color   `json:"col"`
	State State   `json:"st"`
}
