package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenLifetime    = 7 * 24 * time.Hour
	bcryptCost       = 12
	minPasswordLen   = 4
	minUsernameLen   = 2
	maxUsernameLen   = 16
	loginRateWindow  = 60 * time.Second
	maxLoginAttempts = 10
	guestNameRetries = 3
)

// Auth issues and validates account tokens. Two kinds of account exist:
// registered players with a bcrypt password hash, and passwordless guests
// flagged is_guest in the players table. Guests keep stats and saves like
// anyone else but are filtered off the leaderboard.
type Auth struct {
	db        *DB
	jwtSecret []byte

	// Login attempts per IP inside the rate window
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAuth creates the auth handler, loading or minting the signing secret.
func NewAuth(db *DB) *Auth {
	return &Auth{
		db:        db,
		jwtSecret: loadOrCreateSecret(db),
		rateMap:   make(map[string]*rateEntry),
	}
}

// loadOrCreateSecret loads the JWT secret from the settings table, or
// generates and persists a new one so tokens survive restarts.
func loadOrCreateSecret(db *DB) []byte {
	if db != nil {
		if h := db.GetSetting("jwt_secret"); h != "" {
			if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
				return b
			}
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting("jwt_secret", hex.EncodeToString(secret)); err != nil {
			log.Printf("warning: could not persist JWT secret: %v", err)
		}
	}
	return secret
}

// checkUsername validates a requested account name.
func checkUsername(username string) error {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return fmt.Errorf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	}
	return nil
}

// Register creates a password-backed account and returns its id and token.
func (a *Auth) Register(username, password string) (int64, string, error) {
	username = strings.TrimSpace(username)
	if err := checkUsername(username); err != nil {
		return 0, "", err
	}
	if len(password) < minPasswordLen {
		return 0, "", fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	exists, err := a.db.UsernameExists(username)
	if err != nil {
		return 0, "", fmt.Errorf("database error")
	}
	if exists {
		return 0, "", fmt.Errorf("username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return 0, "", fmt.Errorf("internal error")
	}
	id, err := a.db.CreatePlayer(username, string(hash))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create account")
	}

	token, err := a.generateToken(id, username)
	if err != nil {
		return 0, "", fmt.Errorf("internal error")
	}
	return id, token, nil
}

// RegisterGuest creates a passwordless guest account under a generated
// name. Returns id, the assigned name, and a token so the guest's stats
// and saves stick across reconnects.
func (a *Auth) RegisterGuest() (int64, string, string, error) {
	var id int64
	var name string
	var err error
	for attempt := 0; attempt < guestNameRetries; attempt++ {
		name = GenerateGuestName()
		if id, err = a.db.CreateGuest(name); err == nil {
			break
		}
	}
	if err != nil {
		return 0, "", "", fmt.Errorf("failed to create guest")
	}
	token, err := a.generateToken(id, name)
	if err != nil {
		return 0, "", "", fmt.Errorf("internal error")
	}
	return id, name, token, nil
}

// Login authenticates a registered account. Guests have no password hash
// and fall through to the same rejection as a bad password.
func (a *Auth) Login(username, password, ip string) (int64, string, error) {
	if !a.checkRate(ip) {
		return 0, "", fmt.Errorf("too many login attempts, try again later")
	}

	player, err := a.db.GetPlayerByUsername(username)
	if err != nil {
		return 0, "", fmt.Errorf("database error")
	}
	if player == nil || player.PassHash == "" {
		return 0, "", fmt.Errorf("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(player.PassHash), []byte(password)); err != nil {
		return 0, "", fmt.Errorf("invalid username or password")
	}

	token, err := a.generateToken(player.ID, player.Username)
	if err != nil {
		return 0, "", fmt.Errorf("internal error")
	}
	return player.ID, token, nil
}

// ValidateToken validates a JWT and returns (playerID, username, error).
func (a *Auth) ValidateToken(tokenStr string) (int64, string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return 0, "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, "", fmt.Errorf("invalid token")
	}
	pid, ok := claims["pid"].(float64)
	if !ok {
		return 0, "", fmt.Errorf("invalid token claims")
	}
	username, ok := claims["usr"].(string)
	if !ok {
		return 0, "", fmt.Errorf("invalid token claims")
	}
	return int64(pid), username, nil
}

func (a *Auth) generateToken(playerID int64, username string) (string, error) {
	claims := jwt.MapClaims{
		"pid": playerID,
		"usr": username,
		"exp": time.Now().Add(tokenLifetime).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

func (a *Auth) checkRate(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	entry, ok := a.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(loginRateWindow)}
		return true
	}
	entry.Count++
	return entry.Count <= maxLoginAttempts
}

// GenerateGuestName creates a guest name like "Guest_a3f2c1".
func GenerateGuestName() string {
	b := make([]byte, 3)
	rand.Read(b)
	return "Guest_" + hex.EncodeToString(b)
}
