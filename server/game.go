package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/brettgrigsby/blast-off/sim"
)

const (
	TickRate       = 60 // physics ticks per second
	BroadcastRate  = 30 // state broadcasts per second
	TickDuration   = time.Second / TickRate
	BroadcastEvery = TickRate / BroadcastRate
)

const (
	maxPlayersPerSession = 4
	spawnEveryTicks      = 90  // one feed unit every 1.5s
	dropVelocity         = 240 // downward speed of a player-dropped unit
)

// Broadcaster interface for sending messages to clients
type Broadcaster interface {
	SendJSON(msg interface{})
	SendBinary(data []byte)
}

// Seat is one player's slot in a session. All seats act on the shared board.
type Seat struct {
	ID           string
	Name         string
	Index        int
	AuthPlayerID int64 // 0 = guest
}

// Game owns one board and its tick loop
type Game struct {
	mu      sync.RWMutex
	cfg     sim.Config
	board   *sim.Board
	sched   *sim.TickScheduler
	rng     *rand.Rand
	seats   map[string]*Seat
	clients map[string]Broadcaster

	db        *DB
	analytics *Analytics
	sessionID string

	tick       uint64
	spawnIn    int
	over       bool
	running    bool
	stop       chan struct{}
	nextSeat   int
	startedAt  time.Time
}

// NewGame creates a Game with a fresh board
func NewGame(cfg sim.Config, db *DB, analytics *Analytics, sessionID string) *Game {
	sched := sim.NewTickScheduler()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Game{
		cfg:       cfg,
		board:     sim.NewBoard(cfg, sched, rng),
		sched:     sched,
		rng:       rng,
		seats:     make(map[string]*Seat),
		clients:   make(map[string]Broadcaster),
		db:        db,
		analytics: analytics,
		sessionID: sessionID,
		spawnIn:   spawnEveryTicks,
		stop:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

// Run starts the game loop
func (g *Game) Run() {
	g.mu.Lock()
	g.running = true
	g.mu.Unlock()

	if g.analytics != nil {
		g.analytics.Track(EvtGameStart, 0, g.sessionID, "")
	}

	ticker := time.NewTicker(TickDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.update()
		case <-g.stop:
			return
		}
	}
}

// Stop terminates the game loop
func (g *Game) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		g.running = false
		close(g.stop)
	}
}

// AddPlayer seats a new player at the shared board
func (g *Game) AddPlayer(name string) *Seat {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.seats) >= maxPlayersPerSession {
		return nil
	}

	seat := &Seat{ID: GenerateID(4), Name: name, Index: g.nextSeat}
	g.nextSeat++
	g.seats[seat.ID] = seat
	return seat
}

// RemovePlayer frees a seat
func (g *Game) RemovePlayer(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seats, id)
	delete(g.clients, id)
}

// SetClient associates a broadcaster with a seat
func (g *Game) SetClient(playerID string, client Broadcaster) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[playerID] = client
}

// HasPlayer reports whether a seat exists
func (g *Game) HasPlayer(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.seats[id]
	return ok
}

// PlayerCount returns the number of seated players
func (g *Game) PlayerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.seats)
}

// HandleDrop spawns the player's unit at the top of the chosen column
func (g *Game) HandleDrop(playerID string, col int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seats[playerID]; !ok || g.over {
		return
	}
	if col < 0 || col >= g.cfg.Columns {
		return
	}
	color := sim.Color(g.rng.Intn(sim.PlayableColors))
	g.board.AddUnit(col, g.cfg.TopY-g.cfg.CellHeight, color, dropVelocity)
}

// HandleSwap exchanges two adjacent stacked units
func (g *Game) HandleSwap(playerID string, a, b uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seats[playerID]; !ok || g.over {
		return
	}
	g.board.TrySwap(sim.UnitID(a), sim.UnitID(b))
}

// HandleRestart replaces the board after a game over
func (g *Game) HandleRestart(playerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seats[playerID]; !ok || !g.over {
		return
	}
	g.resetBoard()
	if g.analytics != nil {
		g.analytics.Track(EvtGameStart, 0, g.sessionID, "")
	}
}

// resetBoard swaps in a fresh board and scheduler. Caller holds the lock.
func (g *Game) resetBoard() {
	g.sched = sim.NewTickScheduler()
	g.board = sim.NewBoard(g.cfg, g.sched, g.rng)
	g.over = false
	g.spawnIn = spawnEveryTicks
	g.startedAt = time.Now()
}

// SaveBlob serializes the board for persistence
func (g *Game) SaveBlob() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.board.Serialize()
}

// LoadBlob replaces the board with a persisted one
func (g *Game) LoadBlob(data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sched = sim.NewTickScheduler()
	g.board = sim.NewBoard(g.cfg, g.sched, g.rng)
	if err := g.board.Deserialize(data); err != nil {
		return err
	}
	g.over = false
	g.spawnIn = spawnEveryTicks
	return nil
}

// update runs one game tick
func (g *Game) update() {
	g.mu.Lock()
	defer g.mu.Unlock()

	dt := 1.0 / float64(TickRate)
	g.tick++

	if !g.over {
		g.spawnIn--
		if g.spawnIn <= 0 {
			g.spawnIn = spawnEveryTicks
			col := g.rng.Intn(g.cfg.Columns)
			color := sim.Color(g.rng.Intn(sim.PlayableColors))
			g.board.AddUnit(col, g.cfg.TopY-g.cfg.CellHeight, color, dropVelocity)
		}

		g.sched.Advance(dt * 1000)
		g.board.Tick(dt)

		if n := g.board.ScoreDelta(); n > 0 {
			g.broadcastMsg(Envelope{T: MsgScore, Data: ScoreMsg{Consumed: n, Total: g.board.Score()}})
		}

		if cols := g.board.ColumnsOverHeight(); len(cols) > 0 {
			g.over = true
			g.broadcastMsg(Envelope{T: MsgGameOver, Data: GameOverMsg{Columns: cols, Score: g.board.Score()}})
			g.finishGame()
		}
	}

	if g.tick%BroadcastEvery == 0 {
		g.broadcastState()
	}
}

// finishGame persists stats and achievements for seated accounts. Caller
// holds the lock.
func (g *Game) finishGame() {
	score := g.board.Score()
	duration := time.Since(g.startedAt).Seconds()

	if g.analytics != nil {
		g.analytics.Track(EvtGameOver, 0, g.sessionID,
			fmt.Sprintf(`{"score":%d,"duration":%.1f}`, score, duration))
	}
	if g.db == nil {
		return
	}
	for _, seat := range g.seats {
		if seat.AuthPlayerID == 0 {
			continue
		}
		if err := g.db.UpdateStatsAfterGame(seat.AuthPlayerID, score, score, duration); err != nil {
			continue
		}
		for _, def := range CheckAchievements(g.db, seat.AuthPlayerID, score) {
			if g.analytics != nil {
				g.analytics.Track(EvtAchievement, seat.AuthPlayerID, g.sessionID,
					fmt.Sprintf(`{"id":%q}`, def.ID))
			}
			if client, ok := g.clients[seat.ID]; ok {
				client.SendJSON(Envelope{T: MsgUnlocked, Data: UnlockedMsg{ID: def.ID, Name: def.Name}})
			}
		}
	}
}

// broadcastState sends the board snapshot to all clients as msgpack binary
func (g *Game) broadcastState() {
	snap := g.board.AllUnits()
	state := BoardWire{
		Tick:  g.board.TickCount(),
		Score: g.board.Score(),
		Units: make([]UnitWire, 0, len(snap)),
		Over:  g.board.ColumnsOverHeight(),
	}
	for _, u := range snap {
		state.Units = append(state.Units, UnitWire{
			ID:    uint64(u.ID),
			Col:   u.Col,
			Y:     u.Y,
			Color: int(u.Color),
			State: int(u.State),
		})
	}

	data, err := msgpack.Marshal(state)
	if err != nil {
		return
	}
	for _, client := range g.clients {
		client.SendBinary(data)
	}
}

// broadcastMsg sends a JSON message to all clients in the session
func (g *Game) broadcastMsg(msg Envelope) {
	for _, client := range g.clients {
		client.SendJSON(msg)
	}
}
