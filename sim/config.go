package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the simulation. The y axis points down:
// TopY is the top boundary, FloorY is the rest position of the bottom unit.
// Velocity sign convention: negative = up, positive = down.
type Config struct {
	Columns    int     `yaml:"columns"`
	CellHeight float64 `yaml:"cell_height"`
	TopY       float64 `yaml:"top_y"`
	FloorY     float64 `yaml:"floor_y"`

	// Tolerance absorbs floating-point jitter in spacing and adjacency checks.
	Tolerance float64 `yaml:"tolerance"`

	UnitGravity float64 `yaml:"unit_gravity"` // px/s² applied to free units
	MaxUnitFall float64 `yaml:"max_unit_fall"`

	GroupBaseGravity float64 `yaml:"group_base_gravity"`
	GroupMassFactor  float64 `yaml:"group_mass_factor"` // extra gravity per member
	MaxGroupFall     float64 `yaml:"max_group_fall"`    // must stay below MaxUnitFall
	MaxGroupRise     float64 `yaml:"max_group_rise"`    // caps applied motion, not stored velocity

	LaunchFactor float64 `yaml:"launch_factor"` // launch speed per matched unit
	MergeBonus   float64 `yaml:"merge_bonus"`   // upward kick added on group merge

	// RowClusterFrac is the row-clustering window for in-motion match scans,
	// as a fraction of CellHeight. Values much above 0.25 start clustering
	// unrelated rows together.
	RowClusterFrac float64 `yaml:"row_cluster_frac"`

	// DisbandGraceTicks suppresses disband checks right after a group's
	// velocity flips from up to down, so a single positive-velocity frame at
	// the apex does not break the group apart.
	DisbandGraceTicks int `yaml:"disband_grace_ticks"`

	RecoveryDelayMs   float64 `yaml:"recovery_delay_ms"`
	OverHeightGraceMs float64 `yaml:"over_height_grace_ms"`

	// NudgeVelocity is given to orphaned zero-velocity units by the
	// self-healing pass so they resolve within a tick.
	NudgeVelocity float64 `yaml:"nudge_velocity"`
}

// DefaultConfig returns the tuning used by the live game.
func DefaultConfig() Config {
	return Config{
		Columns:           7,
		CellHeight:        40,
		TopY:              0,
		FloorY:            480,
		Tolerance:         0.5,
		UnitGravity:       900,
		MaxUnitFall:       600,
		GroupBaseGravity:  500,
		GroupMassFactor:   40,
		MaxGroupFall:      260,
		MaxGroupRise:      900,
		LaunchFactor:      150,
		MergeBonus:        80,
		RowClusterFrac:    0.25,
		DisbandGraceTicks: 6,
		RecoveryDelayMs:   3000,
		OverHeightGraceMs: 2000,
		NudgeVelocity:     30,
	}
}

// Validate checks the config for values that would break the simulation.
func (c *Config) Validate() error {
	if c.Columns <= 0 {
		return fmt.Errorf("columns must be positive, got %d", c.Columns)
	}
	if c.CellHeight <= 0 {
		return fmt.Errorf("cell_height must be positive, got %g", c.CellHeight)
	}
	if c.FloorY <= c.TopY {
		return fmt.Errorf("floor_y (%g) must be below top_y (%g)", c.FloorY, c.TopY)
	}
	if c.Tolerance < 0 || c.Tolerance >= c.CellHeight/2 {
		return fmt.Errorf("tolerance %g out of range [0, cell_height/2)", c.Tolerance)
	}
	if c.MaxGroupFall >= c.MaxUnitFall {
		return fmt.Errorf("max_group_fall (%g) must be below max_unit_fall (%g)", c.MaxGroupFall, c.MaxUnitFall)
	}
	if c.RowClusterFrac <= 0 || c.RowClusterFrac > 0.5 {
		return fmt.Errorf("row_cluster_frac %g out of range (0, 0.5]", c.RowClusterFrac)
	}
	if c.DisbandGraceTicks < 0 {
		return fmt.Errorf("disband_grace_ticks must not be negative")
	}
	return nil
}

// LoadConfig reads a yaml config file, filling unset fields with defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
