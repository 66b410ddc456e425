package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AirmashQ/airmash-ground-control/game"
	"github.com/AirmashQ/airmash-ground-control/link"
)

// ErrPlayerNotFound is logged when an id or name has no player behind it
var ErrPlayerNotFound = errors.New("player not found")

// ErrTargetIsSelf is returned when a target name resolves to the wingman's own player
var ErrTargetIsSelf = errors.New("target resolves to own player")

// GameLink is a logged-in session with one game server. *link.Session
// implements it.
type GameLink interface {
	Login(ctx context.Context, id link.Identity) error
	NextEvent(ctx context.Context) (link.Event, error)
	Chat(ctx context.Context, text string) error
	PressKey(ctx context.Context, k link.Key) error
	ReleaseKey(ctx context.Context, k link.Key) error
	PointAt(ctx context.Context, pos game.Position) error
	Command(ctx context.Context, com, data string) error
	Wait(ctx context.Context, d time.Duration) error

	Player(id uint16) (game.Player, bool)
	PlayerByName(name string) (game.Player, bool)
	Me() (game.Player, bool)
	Ping() time.Duration

	Close() error
}

// Dialer opens a GameLink to a server URL
type Dialer func(ctx context.Context, url string, logger *slog.Logger) (GameLink, error)

// DialLink is the Dialer backed by a websocket link.Session
func DialLink(ctx context.Context, url string, logger *slog.Logger) (GameLink, error) {
	s, err := link.Dial(ctx, url, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}
