// Package linktest runs an in-process arena server that speaks the link
// protocol, so sessions, wingmen and ground control can be exercised
// against a real websocket connection.
package linktest

import (
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AirmashQ/airmash-ground-control/game"
	"github.com/AirmashQ/airmash-ground-control/link"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Input is a frame received from a connected client
type Input struct {
	From  string
	Frame link.Frame
}

type player struct {
	id     uint16
	name   string
	pos    game.Position
	client *client // nil for scripted players
}

type client struct {
	arena *Arena
	conn  *websocket.Conn
	send  chan link.Frame
	p     *player
}

// Arena is a minimal game server. Players are either real websocket
// clients or scripted by the test through AddPlayer/Say/Move.
type Arena struct {
	srv *httptest.Server

	mu      sync.Mutex
	players map[uint16]*player
	nextID  uint16
	spawns  map[string]game.Position
	reject  map[string]bool
	inputs  []Input
	ping    int
}

// NewArena starts an arena on a local listener
func NewArena() *Arena {
	a := &Arena{
		players: make(map[uint16]*player),
		nextID:  1,
		spawns:  make(map[string]game.Position),
		reject:  make(map[string]bool),
	}
	a.srv = httptest.NewServer(http.HandlerFunc(a.handleWebSocket))
	return a
}

// URL returns the websocket address of the arena
func (a *Arena) URL() string {
	return "ws" + strings.TrimPrefix(a.srv.URL, "http")
}

// Close disconnects every client and stops the listener
func (a *Arena) Close() {
	a.mu.Lock()
	for _, p := range a.players {
		if p.client != nil {
			p.client.conn.Close()
		}
	}
	a.mu.Unlock()
	a.srv.Close()
}

// Spawn sets where a client logging in with name will appear. Clients
// whose name is already taken are renamed with a "#<id>" suffix.
func (a *Arena) Spawn(name string, pos game.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.spawns[name] = pos
}

// Reject makes logins with name fail
func (a *Arena) Reject(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reject[name] = true
}

// SetPing makes every client report the given latency from now on
func (a *Arena) SetPing(ms int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ping = ms
	a.broadcastLocked(link.MsgTypePingResult, link.PingResultData{Ping: ms})
}

// AddPlayer adds a scripted player and announces it
func (a *Arena) AddPlayer(name string, pos game.Position) uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.addLocked(name, pos, nil)
	return p.id
}

// RemovePlayer drops a scripted or connected player by name
func (a *Arena) RemovePlayer(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p := a.byNameLocked(name); p != nil {
		a.removeLocked(p)
	}
}

// Move relocates a player and broadcasts the update
func (a *Arena) Move(name string, pos game.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.byNameLocked(name)
	if p == nil {
		return
	}
	p.pos = pos
	a.broadcastLocked(link.MsgTypePlayerUpdate, link.PlayerData{ID: p.id, X: pos.X, Y: pos.Y})
}

// Say makes a player post a public chat line
func (a *Arena) Say(name, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p := a.byNameLocked(name); p != nil {
		a.broadcastLocked(link.MsgTypeChatPublic, link.ChatPublicData{ID: p.id, Text: text})
	}
}

// Connected lists the names of logged-in websocket clients
func (a *Arena) Connected() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var names []string
	for _, p := range a.players {
		if p.client != nil {
			names = append(names, p.name)
		}
	}
	slices.Sort(names)
	return names
}

// Inputs returns every frame received so far of the given type, or all
// frames when msgType is empty.
func (a *Arena) Inputs(msgType string) []Input {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Input
	for _, in := range a.inputs {
		if msgType == "" || in.Frame.Type == msgType {
			out = append(out, in)
		}
	}
	return out
}

// Chats returns the chat lines sent by clients, in arrival order
func (a *Arena) Chats() []string {
	var lines []string
	for _, in := range a.Inputs(link.MsgTypeChat) {
		var c link.ChatData
		if err := in.Frame.Decode(&c); err == nil {
			lines = append(lines, c.Text)
		}
	}
	return lines
}

func (a *Arena) addLocked(name string, pos game.Position, c *client) *player {
	p := &player{id: a.nextID, name: name, pos: pos, client: c}
	a.nextID++
	a.broadcastLocked(link.MsgTypePlayerNew, link.PlayerData{ID: p.id, Name: name, X: pos.X, Y: pos.Y})
	a.players[p.id] = p
	return p
}

func (a *Arena) removeLocked(p *player) {
	delete(a.players, p.id)
	a.broadcastLocked(link.MsgTypePlayerLeave, link.PlayerLeaveData{ID: p.id})
	if p.client != nil {
		close(p.client.send)
		p.client.p = nil
	}
}

func (a *Arena) byNameLocked(name string) *player {
	for _, p := range a.players {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (a *Arena) broadcastLocked(msgType string, data any) {
	f, err := link.NewFrame(msgType, data)
	if err != nil {
		log.Printf("arena: %v", err)
		return
	}
	for _, p := range a.players {
		if p.client == nil {
			continue
		}
		select {
		case p.client.send <- f:
		default:
			log.Printf("arena: client %s send buffer full, skipping %s", p.name, msgType)
		}
	}
}

func (a *Arena) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("arena: upgrade error: %v", err)
		return
	}
	c := &client{
		arena: a,
		conn:  conn,
		send:  make(chan link.Frame, 256),
	}
	go c.writePump()
	go c.readPump()
}

// readPump handles frames coming from one client
func (c *client) readPump() {
	defer func() {
		c.arena.mu.Lock()
		if c.p != nil {
			c.arena.removeLocked(c.p)
		}
		c.arena.mu.Unlock()
		c.conn.Close()
	}()

	for {
		var f link.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		c.handle(f)
	}
}

// writePump sends queued frames to the client
func (c *client) writePump() {
	defer c.conn.Close()
	for f := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(f); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *client) reply(msgType string, data any) {
	f, err := link.NewFrame(msgType, data)
	if err != nil {
		return
	}
	select {
	case c.send <- f:
	default:
	}
}

func (c *client) handle(f link.Frame) {
	a := c.arena
	a.mu.Lock()
	defer a.mu.Unlock()

	from := ""
	if c.p != nil {
		from = c.p.name
	}
	a.inputs = append(a.inputs, Input{From: from, Frame: f})

	switch f.Type {
	case link.MsgTypeLogin:
		var id link.Identity
		if err := f.Decode(&id); err != nil || id.Name == "" || a.reject[id.Name] {
			c.reply(link.MsgTypeLogin, link.LoginResult{Success: false})
			return
		}
		if c.p != nil {
			return
		}
		name := id.Name
		if a.byNameLocked(name) != nil {
			name = fmt.Sprintf("%s#%d", name, a.nextID)
		}
		c.p = a.addLocked(name, a.spawns[id.Name], c)

		players := make([]game.Player, 0, len(a.players))
		for _, p := range a.players {
			players = append(players, game.Player{ID: p.id, Name: p.name, Pos: p.pos})
		}
		c.reply(link.MsgTypeLogin, link.LoginResult{Success: true, ID: c.p.id, Players: players})
		c.reply(link.MsgTypePing, link.PingData{Clock: time.Now().UnixMilli()})
		if a.ping > 0 {
			c.reply(link.MsgTypePingResult, link.PingResultData{Ping: a.ping})
		}

	case link.MsgTypeChat:
		var chat link.ChatData
		if err := f.Decode(&chat); err != nil || c.p == nil {
			return
		}
		a.broadcastLocked(link.MsgTypeChatPublic, link.ChatPublicData{ID: c.p.id, Text: chat.Text})

	case link.MsgTypePoint:
		var pt link.PointData
		if err := f.Decode(&pt); err != nil || c.p == nil {
			return
		}
		// Aircraft teleport to whatever they point at; enough for pursuit tests
		c.p.pos = game.Position{X: pt.X, Y: pt.Y}
		a.broadcastLocked(link.MsgTypePlayerUpdate, link.PlayerData{ID: c.p.id, X: pt.X, Y: pt.Y})
	}
}
