package main

import (
	"database/sql"
	"log"
	"sync"
	"time"
)

// Event types for analytics tracking
const (
	EvtSessionStart = "session_start"
	EvtSessionEnd   = "session_end"
	EvtGameStart    = "game_start"
	EvtGameOver     = "game_over"
	EvtSaveGame     = "save_game"
	EvtLoadGame     = "load_game"
	EvtAchievement  = "achievement"
)

// AnalyticsEvent represents a single trackable event
type AnalyticsEvent struct {
	Type      string
	PlayerID  int64
	SessionID string
	Data      string // JSON metadata (optional)
	Timestamp time.Time
}

// Analytics handles event tracking with batched background writes
type Analytics struct {
	db     *DB
	events chan AnalyticsEvent
	stop   chan struct{}
	wg     sync.WaitGroup

	// Live metrics (atomic-safe via mutex)
	mu              sync.RWMutex
	concurrentPeers int
	activeSessions  int
}

// NewAnalytics creates and starts the analytics background writer
func NewAnalytics(db *DB) *Analytics {
	a := &Analytics{
		db:     db,
		events: make(chan AnalyticsEvent, 1024),
		stop:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.writer()
	return a
}

// Track enqueues an event for async persistence (non-blocking). Events
// arriving after Stop are dropped; connections may still be draining while
// the server shuts down.
func (a *Analytics) Track(evtType string, playerID int64, sessionID string, data string) {
	select {
	case <-a.stop:
		return
	default:
	}
	select {
	case a.events <- AnalyticsEvent{
		Type:      evtType,
		PlayerID:  playerID,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}:
	default:
		// Channel full — drop event rather than blocking game loop
	}
}

// SetConcurrentPeers updates live player count metric
func (a *Analytics) SetConcurrentPeers(n int) {
	a.mu.Lock()
	a.concurrentPeers = n
	a.mu.Unlock()
}

// SetActiveSessions updates live session count metric
func (a *Analytics) SetActiveSessions(n int) {
	a.mu.Lock()
	a.activeSessions = n
	a.mu.Unlock()
}

// GetLiveMetrics returns current live metrics
func (a *Analytics) GetLiveMetrics() (int, int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.concurrentPeers, a.activeSessions
}

// Stop gracefully shuts down the analytics writer
func (a *Analytics) Stop() {
	close(a.stop)
	a.wg.Wait()
}

// writer is the background goroutine that batches and writes events to DB
func (a *Analytics) writer() {
	defer a.wg.Done()

	batch := make([]AnalyticsEvent, 0, 64)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt := <-a.events:
			batch = append(batch, evt)
			// Flush immediately if batch is large
			if len(batch) >= 50 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.stop:
			// Drain what was queued before shutdown. The channel is never
			// closed: late Track calls land in the buffer and are dropped.
			for {
				select {
				case evt := <-a.events:
					batch = append(batch, evt)
				default:
					if len(batch) > 0 {
						a.flush(batch)
					}
					return
				}
			}
		}
	}
}

// flush writes a batch of events to the database
func (a *Analytics) flush(events []AnalyticsEvent) {
	if a.db == nil || len(events) == 0 {
		return
	}
	tx, err := a.db.conn.Begin()
	if err != nil {
		log.Printf("analytics: begin tx error: %v", err)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO analytics_events (event_type, player_id, session_id, data, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		log.Printf("analytics: prepare error: %v", err)
		return
	}
	defer stmt.Close()

	for _, evt := range events {
		pid := sql.NullInt64{Int64: evt.PlayerID, Valid: evt.PlayerID > 0}
		sid := sql.NullString{String: evt.SessionID, Valid: evt.SessionID != ""}
		data := sql.NullString{String: evt.Data, Valid: evt.Data != ""}
		_, err := stmt.Exec(evt.Type, pid, sid, data, evt.Timestamp.Format(time.RFC3339))
		if err != nil {
			log.Printf("analytics: insert error: %v", err)
		}
	}
	tx.Commit()
}

// --- Query methods for the API ---

// DAUCount returns number of distinct players active today
func (a *Analytics) DAUCount() (int, error) {
	if a.db == nil {
		return 0, nil
	}
	var count int
	err := a.db.conn.QueryRow(`
		SELECT COUNT(DISTINCT player_id) FROM analytics_events
		WHERE player_id IS NOT NULL AND created_at >= date('now')
	`).Scan(&count)
	return count, err
}

// WAUCount returns number of distinct players active in the last 7 days
func (a *Analytics) WAUCount() (int, error) {
	if a.db == nil {
		return 0, nil
	}
	var count int
	err := a.db.conn.QueryRow(`
		SELECT COUNT(DISTINCT player_id) FROM analytics_events
		WHERE player_id IS NOT NULL AND created_at >= date('now', '-7 days')
	`).Scan(&count)
	return count, err
}

// MAUCount returns number of distinct players active in the last 30 days
func (a *Analytics) MAUCount() (int, error) {
	if a.db == nil {
		return 0, nil
	}
	var count int
	err := a.db.conn.QueryRow(`
		SELECT COUNT(DISTINCT player_id) FROM analytics_events
		WHERE player_id IS NOT NULL AND created_at >= date('now', '-30 days')
	`).Scan(&count)
	return count, err
}

// GameStats returns finished-game counts and averages for the last N days
func (a *Analytics) GameStats(days int) (GameAnalytics, error) {
	var ga GameAnalytics
	if a.db == nil {
		return ga, nil
	}
	var avgScore, avgDur sql.NullFloat64
	err := a.db.conn.QueryRow(`
		SELECT COUNT(*),
			AVG(CAST(CASE WHEN json_valid(data) THEN json_extract(data, '$.score') ELSE NULL END AS REAL)),
			AVG(CAST(CASE WHEN json_valid(data) THEN json_extract(data, '$.duration') ELSE NULL END AS REAL))
		FROM analytics_events
		WHERE event_type = ? AND created_at >= date('now', '-' || ? || ' days')
	`, EvtGameOver, days).Scan(&ga.Count, &avgScore, &avgDur)
	ga.AvgScore = avgScore.Float64
	ga.AvgDuration = avgDur.Float64
	return ga, err
}

// EventCounts returns counts of each event type for the last N days
func (a *Analytics) EventCounts(days int) (map[string]int, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT event_type, COUNT(*) FROM analytics_events
		WHERE created_at >= date('now', '-' || ? || ' days')
		GROUP BY event_type ORDER BY COUNT(*) DESC
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var evtType string
		var count int
		if err := rows.Scan(&evtType, &count); err != nil {
			continue
		}
		result[evtType] = count
	}
	return result, rows.Err()
}

// DailyActiveHistory returns DAU for the last N days
func (a *Analytics) DailyActiveHistory(days int) ([]DayCount, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT date(created_at) as day, COUNT(DISTINCT player_id)
		FROM analytics_events
		WHERE player_id IS NOT NULL AND created_at >= date('now', '-' || ? || ' days')
		GROUP BY day ORDER BY day
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			continue
		}
		result = append(result, dc)
	}
	return result, rows.Err()
}

// GameAnalytics holds aggregated finished-game statistics
type GameAnalytics struct {
	Count       int     `json:"count"`
	AvgScore    float64 `json:"avg_score"`
	AvgDuration float64 `json:"avg_duration"`
}

// DayCount holds a count for a specific day
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}
