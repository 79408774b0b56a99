// Pokebattle Battle Mode
//
// Two players share a room identified by a 6-character code. The host
// creates the room, the guest joins with the code (or by scanning the QR),
// and the host drives the match: five rounds of "guess the Pokémon", first
// correct guess takes the round, first to three points (or the better score
// after the last round) takes the match.
//
// Features:
// - WebSocket per player: /battle/ws, one Session per connection
// - Room codes from an ambiguity-free alphabet, collision-checked
// - All room state lives in the shared store; sessions only ever see
//   store-pushed snapshots, so both players converge on the same state
// - Guess resolution runs inside a store transaction, server-side
// - The creature's name is withheld from the wire while a round is open
// - Synchronized countdown anchored to the store clock
// - Players identified by cookie (playerID)
// - Idle rooms auto-reaped after a configurable timeout
// - In-browser QR button to share the room, backed by go-qrcode

package main

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type string `json:"type"`           // "create", "join", "leave", "start", "guess", "next", "again"
	Code string `json:"code,omitempty"` // join
	Text string `json:"text,omitempty"` // guess
}

// StateMessage carries the full session view; sent on every change.
type StateMessage struct {
	Type string      `json:"type"` // "state"
	View SessionView `json:"view"`
}

// GuessResultMessage answers a "guess" message directly.
type GuessResultMessage struct {
	Type    string `json:"type"` // "guess_result"
	Correct bool   `json:"correct"`
}

// SimpleMessage is for generic notifications ("error", mostly).
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn    *websocket.Conn
	send    chan any
	session *Session
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "pokebattle_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// serveBattleWS binds one Session per connection. Closing the socket leaves
// the room, so a vanished player frees their seat (guest) or ends the match
// (host), the same way closing the app would.
func serveBattleWS(cfg *Config, store RoomStore, dex Supplier) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:    conn,
			send:    make(chan any, 8),
			session: NewSession(cfg, store, dex, playerID),
		}

		go client.writePump()
		go client.pushStates()

		client.send <- StateMessage{Type: "state", View: client.session.View()}
		client.readPump(cfg)
	}
}

func (c *Client) readPump(cfg *Config) {
	defer func() {
		c.session.Close()
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "create":
			_ = c.session.CreateRoom()
		case "join":
			c.session.JoinRoom(msg.Code)
		case "leave":
			c.session.LeaveRoom()
		case "start":
			_ = c.session.StartGame()
		case "guess":
			correct, _ := c.session.SubmitGuess(msg.Text)
			c.trySend(GuessResultMessage{Type: "guess_result", Correct: correct})
		case "next":
			_ = c.session.NextRound()
		case "again":
			_ = c.session.PlayAgain()
		default:
			// ignore unknown types
		}
	}
}

// pushStates forwards session change signals to the socket as full views.
// It owns the send channel: once the session's event stream is closed no
// other goroutine sends, so closing here is what stops writePump.
func (c *Client) pushStates() {
	for range c.session.Events() {
		c.trySend(StateMessage{Type: "state", View: c.session.View()})
	}
	close(c.send)
}

// trySend drops the message if the outbox is full rather than blocking on a
// slow or dead connection.
func (c *Client) trySend(msg any) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for a room's join URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")
	if code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at .../room/:code/qr; strip trailing "/qr" to get the join URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerBattleGame sets up routes so that:
//   - $path              → HTML client (create or join from there)
//   - $path/ws           → per-player WebSocket
//   - $path/room/:code   → HTML client, pre-filled with the room code
//   - $path/room/:code/qr → PNG QR code for that join URL
func registerBattleGame(cfg *Config, path string, mux *httprouter.Router, store RoomStore, dex Supplier) {
	mux.GET(cfg.prefix+path, getIndexHandler(cfg))

	// Shared assets (no room code in route)
	mux.GET(cfg.prefix+"/assets/battle/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/battle/app.js", getJsHandler(cfg))

	mux.GET(cfg.prefix+path+"/ws", serveBattleWS(cfg, store, dex))

	mux.GET(cfg.prefix+path+"/room/:code", getIndexHandler(cfg))

	mux.GET(cfg.prefix+path+"/room/:code/qr", qrHandler)
}
