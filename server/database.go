package main

import (
	"database/sql"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// PlayerRow represents a player record in the database
type PlayerRow struct {
	ID        int64
	Username  string
	PassHash  string
	CreatedAt time.Time
}

// StatsRow represents player stats
type StatsRow struct {
	PlayerID     int64
	Games        int
	UnitsCleared int
	BestScore    int
	Playtime     float64 // seconds
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS players (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		pass_hash TEXT NOT NULL DEFAULT '',
		is_guest INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS stats (
		player_id INTEGER PRIMARY KEY REFERENCES players(id),
		games INTEGER NOT NULL DEFAULT 0,
		units_cleared INTEGER NOT NULL DEFAULT 0,
		best_score INTEGER NOT NULL DEFAULT 0,
		playtime REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS saves (
		player_id INTEGER PRIMARY KEY REFERENCES players(id),
		data BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS achievements (
		player_id INTEGER NOT NULL REFERENCES players(id),
		achievement_id TEXT NOT NULL,
		unlocked_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (player_id, achievement_id)
	);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		player_id INTEGER,
		session_id TEXT,
		data TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_players_username ON players(username);
	CREATE INDEX IF NOT EXISTS idx_events_type ON analytics_events(event_type, created_at);
	`
	_, err := db.conn.Exec(schema)
	if err != nil {
		log.Printf("DB migration error: %v", err)
	}
	return err
}

// CreatePlayer creates a new player account (returns player ID)
func (db *DB) CreatePlayer(username, passHash string) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO players (username, pass_hash) VALUES (?, ?)",
		username, passHash,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	// Create stats row
	_, err = db.conn.Exec("INSERT INTO stats (player_id) VALUES (?)", id)
	return id, err
}

// CreateGuest creates a passwordless guest account (is_guest = 1)
func (db *DB) CreateGuest(username string) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO players (username, is_guest) VALUES (?, 1)",
		username,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	_, err = db.conn.Exec("INSERT INTO stats (player_id) VALUES (?)", id)
	return id, err
}

// GetPlayerByUsername returns a player by username
func (db *DB) GetPlayerByUsername(username string) (*PlayerRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM players WHERE username = ?",
		username,
	)
	p := &PlayerRow{}
	err := row.Scan(&p.ID, &p.Username, &p.PassHash, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// UsernameExists checks if a username is taken
func (db *DB) UsernameExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM players WHERE username = ?", username).Scan(&count)
	return count > 0, err
}

// GetStats returns player stats
func (db *DB) GetStats(playerID int64) (*StatsRow, error) {
	row := db.conn.QueryRow(
		"SELECT player_id, games, units_cleared, best_score, playtime FROM stats WHERE player_id = ?",
		playerID,
	)
	s := &StatsRow{}
	err := row.Scan(&s.PlayerID, &s.Games, &s.UnitsCleared, &s.BestScore, &s.Playtime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// UpdateStatsAfterGame folds one finished game into the player's totals
func (db *DB) UpdateStatsAfterGame(playerID int64, cleared, score int, duration float64) error {
	_, err := db.conn.Exec(`
		UPDATE stats SET
			games = games + 1,
			units_cleared = units_cleared + ?,
			best_score = MAX(best_score, ?),
			playtime = playtime + ?
		WHERE player_id = ?`,
		cleared, score, duration, playerID,
	)
	return err
}

// SaveGame stores (or replaces) a player's serialized board
func (db *DB) SaveGame(playerID int64, data []byte) error {
	_, err := db.conn.Exec(`
		INSERT INTO saves (player_id, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(player_id) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`,
		playerID, data,
	)
	return err
}

// LoadGame returns a player's serialized board, or nil if none saved
func (db *DB) LoadGame(playerID int64) ([]byte, error) {
	var data []byte
	err := db.conn.QueryRow("SELECT data FROM saves WHERE player_id = ?", playerID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return data, err
}

// GetSetting returns a settings value, or "" if missing
func (db *DB) GetSetting(key string) string {
	var value string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return ""
	}
	return value
}

// SetSetting stores a settings value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetAchievements returns unlocked achievement IDs for a player
func (db *DB) GetAchievements(playerID int64) ([]string, error) {
	rows, err := db.conn.Query(
		"SELECT achievement_id FROM achievements WHERE player_id = ?", playerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

// UnlockAchievement records an achievement. Returns true if newly unlocked.
func (db *DB) UnlockAchievement(playerID int64, achievementID string) (bool, error) {
	res, err := db.conn.Exec(`
		INSERT INTO achievements (player_id, achievement_id) VALUES (?, ?)
		ON CONFLICT(player_id, achievement_id) DO NOTHING`,
		playerID, achievementID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// LeaderboardEntry represents one row in the leaderboard
type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	Username     string `json:"username"`
	Games        int    `json:"games"`
	UnitsCleared int    `json:"cleared"`
	BestScore    int    `json:"best"`
}

// GetLeaderboard returns top players sorted by the given field
func (db *DB) GetLeaderboard(orderBy string, limit int) ([]LeaderboardEntry, error) {
	// Whitelist valid order columns
	validCols := map[string]string{
		"best":    "s.best_score",
		"cleared": "s.units_cleared",
		"games":   "s.games",
	}
	col, ok := validCols[orderBy]
	if !ok {
		col = "s.best_score"
	}

	query := `SELECT p.username, s.games, s.units_cleared, s.best_score
		FROM stats s JOIN players p ON p.id = s.player_id
		WHERE p.is_guest = 0
		ORDER BY ` + col + ` DESC LIMIT ?`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LeaderboardEntry
	rank := 1
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.Games, &e.UnitsCleared, &e.BestScore); err != nil {
			return nil, err
		}
		e.Rank = rank
		rank++
		result = append(result, e)
	}
	return result, rows.Err()
}
