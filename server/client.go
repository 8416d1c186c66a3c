package main

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 65536 // save blobs travel on this channel
	sendBufSize       = 256
	maxMessagesPerSec = 50
	maxNameLen        = 16
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	playerID   string
	sessionID  string
	remoteAddr string
	msgCount   int
	msgResetAt time.Time
	// Auth state
	authPlayerID int64  // 0 = unauthenticated/guest
	authUsername string // "" = unauthenticated
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		remoteAddr: remoteAddr,
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		// Binary drop messages: 2 bytes [0x01, column]
		if msgType == websocket.BinaryMessage && len(message) == 2 && message[0] == 0x01 {
			c.handleBinaryDrop(message)
		} else {
			c.handleMessage(message)
		}
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message
// Prefixes with 0xFF marker byte so WritePump can distinguish from text
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF // binary marker
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}

	switch env.T {
	case MsgList:
		c.handleList()
	case MsgCreate:
		c.handleCreate(env.D)
	case MsgJoin:
		c.handleJoin(env.D)
	case MsgDrop:
		c.handleDrop(env.D)
	case MsgSwap:
		c.handleSwap(env.D)
	case MsgRestart:
		c.handleRestart()
	case MsgLeave:
		c.handleLeave()
	case MsgCheck:
		c.handleCheck(env.D)
	case MsgSave:
		c.handleSave()
	case MsgLoad:
		c.handleLoad()
	case MsgLeaderboard:
		c.handleLeaderboard()
	case MsgRegister:
		c.handleRegister(env.D)
	case MsgLogin:
		c.handleLogin(env.D)
	case MsgGuest:
		c.handleGuest()
	case MsgAuth:
		c.handleAuth(env.D)
	case MsgProfile:
		c.handleProfile()
	}
}

func (c *Client) handleList() {
	sessions := c.hub.sessions.ListSessions()
	c.SendJSON(Envelope{T: MsgSessions, Data: sessions})
}

func (c *Client) handleCreate(data json.RawMessage) {
	var msg CreateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	name := msg.Name
	if name == "" {
		name = GenerateGuestName()
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	sname := msg.SessionName
	if sname == "" {
		sname = "Launch Pad"
	}
	if len(sname) > 30 {
		sname = sname[:30]
	}

	sess := c.hub.sessions.CreateSession(sname, c.hub.db, c.hub.analytics)
	if sess == nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "too many active sessions"}})
		return
	}
	if c.hub.analytics != nil {
		c.hub.analytics.SetActiveSessions(c.hub.sessions.SessionCount())
	}
	c.SendJSON(Envelope{T: MsgCreated, Data: map[string]string{"sid": sess.ID}})
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	name := msg.Name
	if name == "" {
		name = GenerateGuestName()
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}

	sess := c.hub.sessions.GetSession(msg.SessionID)
	if sess == nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "session not found"}})
		return
	}

	seat := sess.Game.AddPlayer(name)
	if seat == nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "session full"}})
		return
	}
	c.playerID = seat.ID
	c.sessionID = sess.ID

	// Link auth to the seat so game-over stats land on the account
	seat.AuthPlayerID = c.authPlayerID

	sess.Game.SetClient(seat.ID, c)

	c.SendJSON(Envelope{T: MsgJoined, Data: map[string]string{"sid": sess.ID}})
	c.SendJSON(Envelope{T: MsgWelcome, Data: WelcomeMsg{ID: seat.ID, Seat: seat.Index}})
}

// handleBinaryDrop decodes the compact 2-byte drop message
func (c *Client) handleBinaryDrop(msg []byte) {
	if c.sessionID == "" || c.playerID == "" {
		return
	}
	sess := c.hub.sessions.GetSession(c.sessionID)
	if sess == nil {
		return
	}
	sess.Game.HandleDrop(c.playerID, int(msg[1]))
}

func (c *Client) handleDrop(data json.RawMessage) {
	if c.sessionID == "" || c.playerID == "" {
		return
	}
	var msg DropMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sess := c.hub.sessions.GetSession(c.sessionID)
	if sess == nil {
		return
	}
	sess.Game.HandleDrop(c.playerID, msg.Col)
}

func (c *Client) handleSwap(data json.RawMessage) {
	if c.sessionID == "" || c.playerID == "" {
		return
	}
	var msg SwapMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sess := c.hub.sessions.GetSession(c.sessionID)
	if sess == nil {
		return
	}
	sess.Game.HandleSwap(c.playerID, msg.A, msg.B)
}

func (c *Client) handleRestart() {
	if c.sessionID == "" || c.playerID == "" {
		return
	}
	sess := c.hub.sessions.GetSession(c.sessionID)
	if sess == nil {
		return
	}
	sess.Game.HandleRestart(c.playerID)
}

func (c *Client) handleCheck(data json.RawMessage) {
	var msg CheckMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sess := c.hub.sessions.GetSession(msg.SID)
	if sess == nil {
		c.SendJSON(Envelope{T: MsgChecked, Data: CheckedMsg{SID: msg.SID, Exists: false}})
		return
	}
	c.SendJSON(Envelope{T: MsgChecked, Data: CheckedMsg{
		SID:     msg.SID,
		Exists:  true,
		Name:    sess.Name,
		Players: sess.Game.PlayerCount(),
	}})
}

func (c *Client) handleLeave() {
	if c.sessionID != "" {
		c.hub.sessions.RemovePlayer(c.sessionID, c.playerID)
		c.sessionID = ""
		c.playerID = ""
	}
}

func (c *Client) handleSave() {
	if c.hub.db == nil || c.authPlayerID == 0 {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "not authenticated"}})
		return
	}
	if c.sessionID == "" {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "not in a session"}})
		return
	}
	sess := c.hub.sessions.GetSession(c.sessionID)
	if sess == nil {
		return
	}
	blob, err := sess.Game.SaveBlob()
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "save failed"}})
		return
	}
	if err := c.hub.db.SaveGame(c.authPlayerID, blob); err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "save failed"}})
		return
	}
	if c.hub.analytics != nil {
		c.hub.analytics.Track(EvtSaveGame, c.authPlayerID, c.sessionID, "")
	}
	c.SendJSON(Envelope{T: MsgSaved, Data: map[string]int{"bytes": len(blob)}})
}

func (c *Client) handleLoad() {
	if c.hub.db == nil || c.authPlayerID == 0 {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "not authenticated"}})
		return
	}
	if c.sessionID == "" {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "not in a session"}})
		return
	}
	sess := c.hub.sessions.GetSession(c.sessionID)
	if sess == nil {
		return
	}
	blob, err := c.hub.db.LoadGame(c.authPlayerID)
	if err != nil || blob == nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "no saved game"}})
		return
	}
	if err := sess.Game.LoadBlob(blob); err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "saved game is corrupt"}})
		return
	}
	if c.hub.analytics != nil {
		c.hub.analytics.Track(EvtLoadGame, c.authPlayerID, c.sessionID, "")
	}
	c.SendJSON(Envelope{T: MsgLoaded})
}

func (c *Client) handleLeaderboard() {
	if c.hub.db == nil {
		return
	}
	entries, err := c.hub.db.GetLeaderboard("best", 20)
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "leaderboard unavailable"}})
		return
	}
	c.SendJSON(Envelope{T: MsgLeaders, Data: entries})
}

func (c *Client) handleRegister(data json.RawMessage) {
	if c.hub.auth == nil {
		return
	}
	var msg RegisterMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, token, err := c.hub.auth.Register(msg.Username, msg.Password)
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: err.Error()}})
		return
	}
	c.authPlayerID = id
	c.authUsername = msg.Username
	c.hub.SetOnline(id, c)
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{
		Token:    token,
		Username: msg.Username,
		PlayerID: id,
	}})
}

func (c *Client) handleLogin(data json.RawMessage) {
	if c.hub.auth == nil {
		return
	}
	var msg LoginMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, token, err := c.hub.auth.Login(msg.Username, msg.Password, c.remoteAddr)
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: err.Error()}})
		return
	}
	c.authPlayerID = id
	c.authUsername = msg.Username
	c.hub.SetOnline(id, c)
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{
		Token:    token,
		Username: msg.Username,
		PlayerID: id,
	}})
}

// handleGuest creates a persistent guest account so stats and saves work
// without registration. Guests stay off the leaderboard.
func (c *Client) handleGuest() {
	if c.hub.auth == nil || c.hub.db == nil {
		return
	}
	id, name, token, err := c.hub.auth.RegisterGuest()
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: err.Error()}})
		return
	}
	c.authPlayerID = id
	c.authUsername = name
	c.hub.SetOnline(id, c)
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{
		Token:    token,
		Username: name,
		PlayerID: id,
	}})
}

func (c *Client) handleAuth(data json.RawMessage) {
	if c.hub.auth == nil {
		return
	}
	var msg AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, username, err := c.hub.auth.ValidateToken(msg.Token)
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "invalid token"}})
		return
	}
	c.authPlayerID = id
	c.authUsername = username
	c.hub.SetOnline(id, c)
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{
		Token:    msg.Token,
		Username: username,
		PlayerID: id,
	}})
}

func (c *Client) handleProfile() {
	if c.hub.db == nil || c.authPlayerID == 0 {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "not authenticated"}})
		return
	}
	stats, err := c.hub.db.GetStats(c.authPlayerID)
	if err != nil || stats == nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "profile not found"}})
		return
	}
	c.SendJSON(Envelope{T: MsgProfileData, Data: ProfileDataMsg{
		Username:     c.authUsername,
		Games:        stats.Games,
		UnitsCleared: stats.UnitsCleared,
		BestScore:    stats.BestScore,
		Playtime:     stats.Playtime,
	}})
}
