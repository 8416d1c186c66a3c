package main

// Achievement definitions
type AchievementDef struct {
	ID          string
	Name        string
	Description string
}

var Achievements = []AchievementDef{
	{"first_launch", "First Launch", "Clear your first match"},
	{"hundred_up", "Hundred Up", "Send 100 total units off the board"},
	{"thousand_up", "Mission Control", "Send 1000 total units off the board"},
	{"big_run", "Big Run", "Score 50 in a single game"},
	{"huge_run", "Escape Velocity", "Score 150 in a single game"},
	{"regular", "Regular", "Finish 10 games"},
	{"habitual", "Habitual", "Finish 100 games"},
	{"marathon", "Marathon", "Play for 1 hour total"},
}

// CheckAchievements checks if any new achievements should be unlocked for a
// player after a finished game. Returns the newly unlocked definitions.
func CheckAchievements(db *DB, playerID int64, gameScore int) []AchievementDef {
	if db == nil {
		return nil
	}

	stats, err := db.GetStats(playerID)
	if err != nil || stats == nil {
		return nil
	}

	existing, err := db.GetAchievements(playerID)
	if err != nil {
		return nil
	}
	has := make(map[string]bool, len(existing))
	for _, a := range existing {
		has[a] = true
	}

	var unlocked []AchievementDef

	check := func(id string) bool {
		if has[id] {
			return false
		}
		switch id {
		case "first_launch":
			return stats.UnitsCleared >= 1
		case "hundred_up":
			return stats.UnitsCleared >= 100
		case "thousand_up":
			return stats.UnitsCleared >= 1000
		case "big_run":
			return gameScore >= 50
		case "huge_run":
			return gameScore >= 150
		case "regular":
			return stats.Games >= 10
		case "habitual":
			return stats.Games >= 100
		case "marathon":
			return stats.Playtime >= 3600
		}
		return false
	}

	for _, def := range Achievements {
		if check(def.ID) {
			if newlyUnlocked, err := db.UnlockAchievement(playerID, def.ID); err == nil && newlyUnlocked {
				unlocked = append(unlocked, def)
			}
		}
	}

	return unlocked
}
