package sim

// assignRecovered recolors units whose recovery delay fired, in arrival
// order so each assignment is visible to the next one. A unit that moved or
// was consumed again since its timer fired is skipped; it gets a fresh
// timer when it next comes to rest.
func (b *Board) assignRecovered() {
	if len(b.recoverReady) == 0 {
		return
	}
	ready := b.recoverReady
	b.recoverReady = nil
	for _, id := range ready {
		u := b.units[id]
		if u == nil || u.Color != Consumed {
			continue
		}
		if _, resident := b.resIn[id]; !resident {
			continue
		}
		u.Color = b.pickRecoveryColor(u)
	}
}

// pickRecoveryColor chooses uniformly among the colors that would not
// complete a run of three at the unit's position. When every color would
// match, it picks among all of them instead of deadlocking: the resulting
// cascade is accepted.
func (b *Board) pickRecoveryColor(u *Unit) Color {
	var safe []Color
	for c := Red; c < Consumed; c++ {
		if !b.wouldRun(u, c) {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return Color(b.rng.Intn(PlayableColors))
	}
	return safe[b.rng.Intn(len(safe))]
}

// wouldRun reports whether assigning color c to u completes a horizontal or
// vertical run of three or more through its grid-resident neighbors.
// Consumed neighbors break the chain in both directions.
func (b *Board) wouldRun(u *Unit, c Color) bool {
	tol := b.cfg.Tolerance

	count := 1
	for col := u.Col - 1; col >= 0; col-- {
		n := b.cols[col].UnitNear(u.Y, tol)
		if n == nil || n.Color != c {
			break
		}
		count++
	}
	for col := u.Col + 1; col < b.cfg.Columns; col++ {
		n := b.cols[col].UnitNear(u.Y, tol)
		if n == nil || n.Color != c {
			break
		}
		count++
	}
	if count >= 3 {
		return true
	}

	limit := b.cfg.CellHeight + tol
	count = 1
	col := b.cols[u.Col]
	for cur := u; ; {
		n := col.NearestAbove(cur.Y)
		if n == nil || cur.Y-n.Y > limit || n.Color != c {
			break
		}
		count++
		cur = n
	}
	for cur := u; ; {
		n := col.NearestBelow(cur.Y)
		if n == nil || n.Y-cur.Y > limit || n.Color != c {
			break
		}
		count++
		cur = n
	}
	return count >= 3
}
