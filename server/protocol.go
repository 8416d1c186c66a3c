package main

import "encoding/json"

// Client -> Server message types
const (
	MsgJoin        = "join"
	MsgLeave       = "leave"
	MsgCreate      = "create" // create session
	MsgList        = "list"   // list sessions
	MsgCheck       = "check"  // check if session exists
	MsgDrop        = "drop"   // drop the next unit into a column
	MsgSwap        = "swap"   // swap two stacked units
	MsgRestart     = "restart"
	MsgSave        = "save" // persist the board for the logged-in account
	MsgLoad        = "load" // resume the persisted board
	MsgRegister    = "register"
	MsgLogin       = "login"
	MsgGuest       = "guest" // passwordless guest account
	MsgAuth        = "auth"  // token re-auth
	MsgProfile     = "profile"
	MsgLeaderboard = "leaderboard"
)

// Server -> Client message types
const (
	MsgState       = "state"
	MsgWelcome     = "welcome"
	MsgJoined      = "joined"
	MsgCreated     = "created" // session created, client should navigate
	MsgSessions    = "sessions"
	MsgChecked     = "checked"
	MsgScore       = "score"     // units consumed this resolution
	MsgGameOver    = "game_over" // a column held the top boundary too long
	MsgSaved       = "saved"
	MsgLoaded      = "loaded"
	MsgLeaders     = "leaders"
	MsgAuthOK      = "auth_ok"
	MsgProfileData = "profile_data"
	MsgUnlocked    = "unlocked" // achievement unlocked
	MsgError       = "error"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages — json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// JoinMsg is sent when a player wants to join a session
type JoinMsg struct {
	Name      string `json:"name"`
	SessionID string `json:"sid"`
}

// CreateMsg is sent when a player wants to create a session
type CreateMsg struct {
	Name        string `json:"name"`
	SessionName string `json:"sname"`
}

// DropMsg picks the column for the player's next unit
type DropMsg struct {
	Col int `json:"c"`
}

// SwapMsg asks to exchange two adjacent stacked units
type SwapMsg struct {
	A uint64 `json:"a"`
	B uint64 `json:"b"`
}

// CheckMsg is sent by the client to check if a session exists
type CheckMsg struct {
	SID string `json:"sid"`
}

// CheckedMsg is the response to a session check
type CheckedMsg struct {
	SID     string `json:"sid"`
	Exists  bool   `json:"exists"`
	Name    string `json:"name,omitempty"`
	Players int    `json:"players,omitempty"`
}

// UnitWire is one unit in the binary state broadcast
type UnitWire struct {
	ID    uint64  `msgpack:"id"`
	Col   int     `msgpack:"c"`
	Y     float64 `msgpack:"y"`
	Color int     `msgpack:"ci"`
	State int     `msgpack:"st"`
}

// BoardWire is the full board broadcast, msgpack-encoded on the binary channel
type BoardWire struct {
	Tick  uint64     `msgpack:"tick"`
	Score int        `msgpack:"s"`
	Units []UnitWire `msgpack:"u"`
	Over  []int      `msgpack:"ov,omitempty"` // columns flagged over-height
}

// WelcomeMsg is sent to a player when they join
type WelcomeMsg struct {
	ID   string `json:"id"`
	Seat int    `json:"seat"`
}

// ScoreMsg reports units consumed by one resolution pass
type ScoreMsg struct {
	Consumed int `json:"n"`
	Total    int `json:"total"`
}

// GameOverMsg reports which columns ended the run
type GameOverMsg struct {
	Columns []int `json:"cols"`
	Score   int   `json:"score"`
}

// SessionInfo is used in the session list
type SessionInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Players int    `json:"players"`
}

// ErrorMsg sends an error to the client
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// RegisterMsg creates an account
type RegisterMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginMsg authenticates an account
type LoginMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthMsg re-authenticates with a stored token
type AuthMsg struct {
	Token string `json:"token"`
}

// AuthOKMsg confirms authentication
type AuthOKMsg struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	PlayerID int64  `json:"pid"`
}

// ProfileDataMsg carries account stats
type ProfileDataMsg struct {
	Username     string  `json:"username"`
	Games        int     `json:"games"`
	UnitsCleared int     `json:"cleared"`
	BestScore    int     `json:"best"`
	Playtime     float64 `json:"playtime"`
}

// UnlockedMsg announces a freshly unlocked achievement
type UnlockedMsg struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
