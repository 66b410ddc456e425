package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AirmashQ/airmash-ground-control/game"
	"github.com/AirmashQ/airmash-ground-control/link"
)

var errLinkDown = &link.ProtocolError{Op: "receive", Err: errors.New("connection reset")}

type keyInput struct {
	Key   link.Key
	State bool
}

// fakeLink is a scripted GameLink. Tests change the world with setPlayer
// and friends, then hand the link an event with push.
type fakeLink struct {
	events chan link.Event

	mu       sync.Mutex
	me       uint16
	players  map[uint16]game.Player
	ping     time.Duration
	loginErr error
	sendErr  error

	identities []link.Identity
	chats      []string
	keys       []keyInput
	points     []game.Position
	commands   []link.CommandData
	waits      []time.Duration
	closed     bool
}

func newFakeLink(me uint16, players ...game.Player) *fakeLink {
	f := &fakeLink{
		events:  make(chan link.Event, 64),
		me:      me,
		players: make(map[uint16]game.Player),
	}
	for _, p := range players {
		f.players[p.ID] = p
	}
	return f
}

func (f *fakeLink) dialer() Dialer {
	return func(ctx context.Context, url string, logger *slog.Logger) (GameLink, error) {
		return f, nil
	}
}

func (f *fakeLink) push(ev link.Event) { f.events <- ev }

// hangUp makes NextEvent fail once queued events are drained
func (f *fakeLink) hangUp() { close(f.events) }

func (f *fakeLink) setPlayer(p game.Player) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.players[p.ID] = p
}

func (f *fakeLink) removePlayer(id uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.players, id)
}

func (f *fakeLink) Login(ctx context.Context, id link.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities = append(f.identities, id)
	return f.loginErr
}

func (f *fakeLink) NextEvent(ctx context.Context) (link.Event, error) {
	select {
	case <-ctx.Done():
		return link.Event{}, ctx.Err()
	case ev, ok := <-f.events:
		if !ok {
			return link.Event{}, errLinkDown
		}
		return ev, nil
	}
}

func (f *fakeLink) record(fn func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	fn()
	return nil
}

func (f *fakeLink) Chat(ctx context.Context, text string) error {
	return f.record(func() { f.chats = append(f.chats, text) })
}

func (f *fakeLink) PressKey(ctx context.Context, k link.Key) error {
	return f.record(func() { f.keys = append(f.keys, keyInput{k, true}) })
}

func (f *fakeLink) ReleaseKey(ctx context.Context, k link.Key) error {
	return f.record(func() { f.keys = append(f.keys, keyInput{k, false}) })
}

func (f *fakeLink) PointAt(ctx context.Context, pos game.Position) error {
	return f.record(func() { f.points = append(f.points, pos) })
}

func (f *fakeLink) Command(ctx context.Context, com, data string) error {
	return f.record(func() { f.commands = append(f.commands, link.CommandData{Com: com, Data: data}) })
}

func (f *fakeLink) Wait(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	f.mu.Unlock()
	return ctx.Err()
}

func (f *fakeLink) Player(id uint16) (game.Player, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.players[id]
	return p, ok
}

func (f *fakeLink) PlayerByName(name string) (game.Player, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.players {
		if p.Name == name {
			return p, true
		}
	}
	return game.Player{}, false
}

func (f *fakeLink) Me() (game.Player, bool) {
	return f.Player(f.me)
}

func (f *fakeLink) Ping() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ping
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLink) snapshotKeys() []keyInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]keyInput(nil), f.keys...)
}

func (f *fakeLink) snapshotPoints() []game.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]game.Position(nil), f.points...)
}

func (f *fakeLink) snapshotChats() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.chats...)
}

func (f *fakeLink) snapshotWaits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}

func (f *fakeLink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
