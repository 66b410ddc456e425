package link

import (
	"time"

	"github.com/AirmashQ/airmash-ground-control/game"
)

// World is a session's view of the arena. It is only written while the
// owning goroutine handles NextEvent, and hands out copies to readers.
type World struct {
	me      uint16
	players map[uint16]game.Player
	names   map[string]uint16
	ping    time.Duration
}

func newWorld() *World {
	return &World{
		players: make(map[uint16]game.Player),
		names:   make(map[string]uint16),
	}
}

func (w *World) reset(me uint16, players []game.Player) {
	w.me = me
	w.players = make(map[uint16]game.Player, len(players))
	w.names = make(map[string]uint16, len(players))
	for _, p := range players {
		w.add(p)
	}
}

func (w *World) add(p game.Player) {
	if old, ok := w.players[p.ID]; ok && old.Name != p.Name {
		delete(w.names, old.Name)
	}
	w.players[p.ID] = p
	w.names[p.Name] = p.ID
}

func (w *World) remove(id uint16) (game.Player, bool) {
	p, ok := w.players[id]
	if !ok {
		return p, false
	}
	delete(w.players, id)
	if w.names[p.Name] == id {
		delete(w.names, p.Name)
	}
	return p, true
}

func (w *World) move(id uint16, pos game.Position) {
	if p, ok := w.players[id]; ok {
		p.Pos = pos
		w.players[id] = p
	}
}

// Player looks up a player by id
func (w *World) Player(id uint16) (game.Player, bool) {
	p, ok := w.players[id]
	return p, ok
}

// PlayerByName looks up a player by display name
func (w *World) PlayerByName(name string) (game.Player, bool) {
	id, ok := w.names[name]
	if !ok {
		return game.Player{}, false
	}
	return w.Player(id)
}

// Me returns the session's own player
func (w *World) Me() (game.Player, bool) {
	return w.Player(w.me)
}

// Ping returns the last measured round-trip latency
func (w *World) Ping() time.Duration {
	return w.ping
}

// Len returns the number of known players
func (w *World) Len() int {
	return len(w.players)
}
