/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/handcricket/cricket"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	roomIDLength   = 8
	maxRoomIDLen   = 32
	maxMessageSize = 4096

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "handcricket_id"

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

func validRoomID(id string) bool {
	if id == "" || len(id) > maxRoomIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

func randomComputer() cricket.PickSource {
	seed, err := cricket.NewSeed()
	if err != nil {
		seed = time.Now().UnixNano()
	}
	return cricket.NewRandom(seed)
}

// RoomManager holds every room of one mode, keyed by room code.
type RoomManager struct {
	cfg      *Config
	mode     roomMode
	recorder Recorder

	// newComputer supplies the opponent of each new solo room.
	newComputer func() cricket.PickSource

	mu          sync.Mutex
	rooms       map[string]*Room
	idleTimeout time.Duration
}

func newRoomManager(ctx context.Context, cfg *Config, mode roomMode, recorder Recorder) *RoomManager {
	rm := &RoomManager{
		cfg:         cfg,
		mode:        mode,
		recorder:    recorder,
		newComputer: randomComputer,
		rooms:       make(map[string]*Room),
		idleTimeout: cfg.sessionTimeout,
	}
	if rm.idleTimeout > 0 {
		go rm.reaperLoop(ctx)
	}
	return rm
}

func (rm *RoomManager) getRoom(id string) *Room {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if room, ok := rm.rooms[id]; ok {
		return room
	}

	var computer cricket.PickSource
	if rm.mode == modeSolo {
		computer = rm.newComputer()
	}

	room := newRoom(rm.cfg, id, rm.mode, rm.recorder, computer)
	rm.rooms[id] = room
	go room.run()

	logf(rm.cfg, "ROOMS: Opened %s room %s", rm.mode, id)

	return room
}

// newRoomID generates a crypto-random room code that no open room uses.
func (rm *RoomManager) newRoomID() string {
	for {
		id := randomRoomID(roomIDLength)

		rm.mu.Lock()
		_, exists := rm.rooms[id]
		rm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// randomRoomID draws n letters uniformly, discarding bytes that would bias
// the modulo.
func randomRoomID(n int) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	const max = byte(255 - (256 % len(letters)))

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)

	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		for _, b := range buf {
			if b > max {
				continue
			}
			out = append(out, letters[int(b)%len(letters)])
			if len(out) == n {
				return string(out)
			}
		}
	}

	return string(out)
}

// reaperLoop closes rooms that have been idle longer than idleTimeout.
func (rm *RoomManager) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(rm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rm.closeAll()
			return
		case <-ticker.C:
			rm.reap(time.Now().Add(-rm.idleTimeout))
		}
	}
}

func (rm *RoomManager) reap(cutoff time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for id, room := range rm.rooms {
		if room.idleSince().Before(cutoff) {
			delete(rm.rooms, id)
			logf(rm.cfg, "ROOMS: Reaped idle room %s", id)
			go room.closeAll()
		}
	}
}

func (rm *RoomManager) closeAll() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for id, room := range rm.rooms {
		delete(rm.rooms, id)
		go room.closeAll()
	}
}

func serveRoomSocket(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if !validRoomID(roomID) {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		room := rm.getRoom(roomID)

		conn, err := upgrader.Upgrade(w, r, w.Header())
		if err != nil {
			logf(cfg, "ROOMS: Upgrade failed for %s: %v", realIP(r), err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan outbound, 32),
			playerID: playerID,
		}

		select {
		case room.register <- client:
		case <-room.done:
			_ = conn.Close()
			return
		}

		logf(cfg, "ROOMS: %s connected to %s", realIP(r), roomID)

		go client.writePump()
		client.readPump(room)
	}
}

func (c *Client) readPump(room *Room) {
	defer func() {
		select {
		case room.unreg <- c:
		case <-room.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logf(room.cfg, "ROOMS: Read error in %s: %v", room.id, err)
			}
			return
		}

		in := inbound{client: c}
		if err := json.Unmarshal(data, &in.msg); err != nil {
			in.err = err
		}

		select {
		case room.inbox <- in:
		case <-room.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	var seq int64
	for {
		select {
		case out, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			seq++
			if err := c.conn.WriteJSON(frame{Type: out.kind, Seq: seq, Data: out.data}); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveRoomQR returns a PNG QR code pointing at the room it is requested from.
func serveRoomQR(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !validRoomID(ps.ByName("roomid")) {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		scheme := cfg.scheme()
		if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)

		if _, err := w.Write(png); err != nil {
			errs <- err
		}
	}
}

func serveRoomPage(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !validRoomID(ps.ByName("roomid")) {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		data, err := assets.ReadFile("assets/room.html")
		if err != nil {
			errs <- err
			http.Error(w, "page unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		if _, err := w.Write(data); err != nil {
			errs <- err
		}
	}
}

// redirectNewRoom sends GET $path to a fresh $path/:roomid.
func redirectNewRoom(cfg *Config, path string, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := rm.newRoomID()
		logf(cfg, "ROOMS: Created %s room %s", rm.mode, roomID)
		http.Redirect(w, r, cfg.prefix+path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerRooms sets up routes so that:
//   - $path                  → redirects to a new room
//   - $path/:roomid          → HTML client
//   - $path/:roomid/ws       → websocket for that room
//   - $path/:roomid/qr       → PNG QR code for that room
func registerRooms(ctx context.Context, cfg *Config, path string, mode roomMode, mux *httprouter.Router, recorder Recorder, errs chan<- error) *RoomManager {
	rm := newRoomManager(ctx, cfg, mode, recorder)

	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, rm))
	mux.GET(cfg.prefix+path+"/:roomid", serveRoomPage(cfg, errs))
	mux.GET(cfg.prefix+path+"/:roomid/ws", serveRoomSocket(cfg, rm))
	mux.GET(cfg.prefix+path+"/:roomid/qr", serveRoomQR(cfg, errs))

	return rm
}
