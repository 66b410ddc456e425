package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AirmashQ/airmash-ground-control/game"
)

// Transport timeouts
const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	frameBuffer  = 256
	maxPending   = 256
)

var (
	// ErrClosed is returned once the session has been closed locally
	ErrClosed = errors.New("session closed")
	// ErrLoginRejected is returned when the server refuses a login
	ErrLoginRejected = errors.New("login rejected")
)

// ProtocolError wraps a transport failure with the operation that hit it
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("link %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// EventKind classifies what NextEvent returned
type EventKind int

const (
	EventOther EventKind = iota
	EventChatPublic
	EventPlayerJoin
	EventPlayerLeave
)

func (k EventKind) String() string {
	switch k {
	case EventChatPublic:
		return "chat_public"
	case EventPlayerJoin:
		return "player_join"
	case EventPlayerLeave:
		return "player_leave"
	default:
		return "other"
	}
}

// Event is one inbound frame after it has been applied to the world view
type Event struct {
	Kind   EventKind
	Player uint16
	Name   string
	Text   string
}

// Session is a client connection to one game server
type Session struct {
	conn   *websocket.Conn
	log    *slog.Logger
	world  *World
	frames chan Frame

	// events applied during Wait, handed out by NextEvent before new frames
	pending []Event

	readErr error // set by readPump before frames is closed

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens a session to the given websocket URL
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := websocket.Dialer{
		HandshakeTimeout:  writeTimeout,
		EnableCompression: true,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &ProtocolError{Op: "connect", Err: err}
	}

	s := &Session{
		conn:   conn,
		log:    logger,
		world:  newWorld(),
		frames: make(chan Frame, frameBuffer),
		closed: make(chan struct{}),
	}
	go s.readPump()
	return s, nil
}

// readPump decodes inbound frames until the connection fails
func (s *Session) readPump() {
	defer close(s.frames)

	s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.log.Warn("Dropping malformed frame", "error", err)
				continue
			}
			select {
			case <-s.closed:
				s.readErr = ErrClosed
			default:
				s.readErr = err
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(readTimeout))

		// Pings are answered here so latency does not depend on how
		// quickly the owner drains events.
		if f.Type == MsgTypePing {
			var p PingData
			if err := f.Decode(&p); err == nil {
				if err := s.send(context.Background(), MsgTypePong, p); err != nil {
					s.log.Warn("Failed to answer ping", "error", err)
				}
			}
			continue
		}

		select {
		case s.frames <- f:
		case <-s.closed:
			s.readErr = ErrClosed
			return
		}
	}
}

// NextEvent blocks until the next frame arrives, applies it to the world
// view and reports what happened. Events seen during Wait come first.
func (s *Session) NextEvent(ctx context.Context) (Event, error) {
	if len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		return ev, nil
	}
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case f, ok := <-s.frames:
		if !ok {
			return Event{}, &ProtocolError{Op: "receive", Err: s.readErr}
		}
		return s.apply(f), nil
	}
}

func (s *Session) apply(f Frame) Event {
	switch f.Type {
	case MsgTypeLogin:
		var res LoginResult
		if err := f.Decode(&res); err == nil && res.Success {
			s.world.reset(res.ID, res.Players)
		}

	case MsgTypePlayerNew:
		var p PlayerData
		if err := f.Decode(&p); err != nil {
			s.log.Warn("Bad player_new frame", "error", err)
			break
		}
		s.world.add(game.Player{ID: p.ID, Name: p.Name, Pos: game.Position{X: p.X, Y: p.Y}})
		return Event{Kind: EventPlayerJoin, Player: p.ID, Name: p.Name}

	case MsgTypePlayerLeave:
		var p PlayerLeaveData
		if err := f.Decode(&p); err != nil {
			s.log.Warn("Bad player_leave frame", "error", err)
			break
		}
		old, _ := s.world.remove(p.ID)
		return Event{Kind: EventPlayerLeave, Player: p.ID, Name: old.Name}

	case MsgTypePlayerUpdate:
		var p PlayerData
		if err := f.Decode(&p); err == nil {
			s.world.move(p.ID, game.Position{X: p.X, Y: p.Y})
		}

	case MsgTypeChatPublic:
		var c ChatPublicData
		if err := f.Decode(&c); err != nil {
			s.log.Warn("Bad chat_public frame", "error", err)
			break
		}
		return Event{Kind: EventChatPublic, Player: c.ID, Text: c.Text}

	case MsgTypePingResult:
		var p PingResultData
		if err := f.Decode(&p); err == nil {
			s.world.ping = time.Duration(p.Ping) * time.Millisecond
		}

	case MsgTypeError:
		var e ErrorData
		if err := f.Decode(&e); err == nil {
			s.log.Warn("Server reported error", "text", e.Text)
		}
	}
	return Event{Kind: EventOther}
}

// Login submits the identity and waits for the server to accept it.
// Frames arriving before the answer are applied to the world view.
func (s *Session) Login(ctx context.Context, id Identity) error {
	if err := s.send(ctx, MsgTypeLogin, id); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return &ProtocolError{Op: "login", Err: ctx.Err()}
		case f, ok := <-s.frames:
			if !ok {
				return &ProtocolError{Op: "login", Err: s.readErr}
			}
			switch f.Type {
			case MsgTypeLogin:
				var res LoginResult
				if err := f.Decode(&res); err != nil {
					return &ProtocolError{Op: "login", Err: err}
				}
				if !res.Success {
					return &ProtocolError{Op: "login", Err: ErrLoginRejected}
				}
				s.world.reset(res.ID, res.Players)
				return nil
			case MsgTypeError:
				var e ErrorData
				_ = f.Decode(&e)
				return &ProtocolError{Op: "login", Err: fmt.Errorf("%w: %s", ErrLoginRejected, e.Text)}
			default:
				s.apply(f)
			}
		}
	}
}

func (s *Session) send(ctx context.Context, msgType string, data any) error {
	if err := ctx.Err(); err != nil {
		return &ProtocolError{Op: "send", Err: err}
	}
	f, err := NewFrame(msgType, data)
	if err != nil {
		return &ProtocolError{Op: "send", Err: err}
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.closed:
		return &ProtocolError{Op: "send", Err: ErrClosed}
	default:
	}
	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(f); err != nil {
		return &ProtocolError{Op: "send", Err: err}
	}
	return nil
}

// Chat sends a public chat line
func (s *Session) Chat(ctx context.Context, text string) error {
	return s.send(ctx, MsgTypeChat, ChatData{Text: text})
}

// PressKey holds a key down
func (s *Session) PressKey(ctx context.Context, k Key) error {
	return s.send(ctx, MsgTypeKey, KeyData{Key: k, State: true})
}

// ReleaseKey lets go of a key
func (s *Session) ReleaseKey(ctx context.Context, k Key) error {
	return s.send(ctx, MsgTypeKey, KeyData{Key: k, State: false})
}

// PointAt turns the aircraft towards a world position
func (s *Session) PointAt(ctx context.Context, pos game.Position) error {
	return s.send(ctx, MsgTypePoint, PointData{X: pos.X, Y: pos.Y})
}

// Command sends a server command
func (s *Session) Command(ctx context.Context, com, data string) error {
	return s.send(ctx, MsgTypeCommand, CommandData{Com: com, Data: data})
}

// Wait pauses for d, returning early if ctx is cancelled or the
// connection fails. Frames arriving meanwhile are applied to the world
// view; the events among them are kept for NextEvent.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		case f, ok := <-s.frames:
			if !ok {
				return &ProtocolError{Op: "receive", Err: s.readErr}
			}
			if ev := s.apply(f); ev.Kind != EventOther {
				s.queue(ev)
			}
		}
	}
}

func (s *Session) queue(ev Event) {
	if len(s.pending) >= maxPending {
		s.log.Warn("Event queue full, dropping oldest", "kind", s.pending[0].Kind)
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, ev)
}

// Player looks up a player in the world view
func (s *Session) Player(id uint16) (game.Player, bool) { return s.world.Player(id) }

// PlayerByName looks up a player by display name
func (s *Session) PlayerByName(name string) (game.Player, bool) { return s.world.PlayerByName(name) }

// Me returns the session's own player
func (s *Session) Me() (game.Player, bool) { return s.world.Me() }

// Ping returns the last measured round-trip latency
func (s *Session) Ping() time.Duration { return s.world.Ping() }

// Close shuts the connection down. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		close(s.closed)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
