package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AirmashQ/airmash-ground-control/game"
	"github.com/AirmashQ/airmash-ground-control/link"
)

// ChatPacing is the pause after each chat line of a reply
const ChatPacing = 1000 * time.Millisecond

// FleetOptions configures a FleetManager
type FleetOptions struct {
	URL        string
	MaxWings   uint8
	Announce   bool
	Grid       *game.Grid
	Dial       Dialer
	Supervisor *Supervisor
	Logger     *slog.Logger
}

// FleetManager answers chat commands on one server and keeps track of the
// wingmen assigned to each player.
type FleetManager struct {
	link GameLink
	opts FleetOptions
	log  *slog.Logger

	chatPacing time.Duration
	commands   metric.Int64Counter

	// written only by the Run goroutine; the lock is for WingCount readers
	mu    sync.Mutex
	wings map[uint16][]*ShutdownFlag
}

// NewFleetManager wraps a logged-in link
func NewFleetManager(gl GameLink, opts FleetOptions) (*FleetManager, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Grid == nil {
		opts.Grid = game.DefaultGrid()
	}
	if opts.Dial == nil {
		opts.Dial = DialLink
	}
	if opts.Supervisor == nil {
		sup, err := NewSupervisor(opts.Logger)
		if err != nil {
			return nil, err
		}
		opts.Supervisor = sup
	}

	commands, err := meter().Int64Counter(
		"groundcontrol.commands",
		metric.WithDescription("Chat commands handled, by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("create command counter: %w", err)
	}

	return &FleetManager{
		link:       gl,
		opts:       opts,
		log:        opts.Logger,
		chatPacing: ChatPacing,
		commands:   commands,
		wings:      make(map[uint16][]*ShutdownFlag),
	}, nil
}

// WingCount returns how many wingmen are assigned to a player
func (f *FleetManager) WingCount(id uint16) uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint8(len(f.wings[id]))
}

// Run handles events until the link fails or ctx ends. Every wingman
// still assigned is told to stop on the way out.
func (f *FleetManager) Run(ctx context.Context) error {
	defer f.clearAll()

	for {
		ev, err := f.link.NextEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.log.Error("Error awaiting next event", "error", err)
			return err
		}

		switch ev.Kind {
		case link.EventChatPublic:
			f.handleChat(ctx, ev.Player, ev.Text)
		case link.EventPlayerLeave:
			f.clear(ev.Player)
		case link.EventPlayerJoin:
			if f.opts.Announce {
				f.chat(ctx, fmt.Sprintf("Ground Control, standing by for %s! Use %s for help.", ev.Name, Help))
			}
		}
	}
}

func (f *FleetManager) handleChat(ctx context.Context, id uint16, text string) {
	p, ok := f.link.Player(id)
	if !ok {
		f.log.Warn("Chat from unknown player", "player_id", id, "error", ErrPlayerNotFound)
		return
	}

	resp, err := Interpret(text, p.Name, f.WingCount(id), f.opts.MaxWings)
	if err != nil {
		result := "error"
		var bad *BadCommand
		if errors.As(err, &bad) {
			result = bad.Kind.String()
		}
		f.countCommand(ctx, result)
		f.log.Info("Refused command", "player", p.Name, "reason", err)
		f.chat(ctx, err.Error())
		return
	}
	if resp == nil {
		return
	}
	f.countCommand(ctx, "ok")

	switch resp.Action.Kind {
	case ActionSetWings:
		f.spawn(ctx, id, p.Name, resp.Action.Wings)
	case ActionClearWings:
		f.clear(id)
	}

	for _, line := range resp.Lines {
		f.chat(ctx, line)
		if err := f.link.Wait(ctx, f.chatPacing); err != nil {
			f.log.Warn("Chat pacing interrupted", "error", err)
		}
	}
}

func (f *FleetManager) spawn(ctx context.Context, id uint16, name string, n uint8) {
	flags := make([]*ShutdownFlag, 0, n)
	for range n {
		flag := NewShutdownFlag()
		f.opts.Supervisor.Go("wingman "+name, func(unit uuid.UUID) error {
			logger := f.log.With("target", name, "unit", unit)
			w := NewWingman(f.opts.URL, name, flag, f.opts.Grid, f.opts.Dial, logger)
			return w.Run(ctx)
		})
		flags = append(flags, flag)
	}

	f.mu.Lock()
	f.wings[id] = flags
	f.mu.Unlock()
	f.log.Info("Spawned wingmen", "player", name, "count", n)
}

// clear stops every wingman assigned to a player without waiting for them
func (f *FleetManager) clear(id uint16) {
	f.mu.Lock()
	flags, ok := f.wings[id]
	delete(f.wings, id)
	f.mu.Unlock()
	if !ok {
		return
	}
	for _, flag := range flags {
		flag.Set()
	}
	f.log.Debug("Cleared wingmen", "player_id", id, "count", len(flags))
}

func (f *FleetManager) clearAll() {
	f.mu.Lock()
	ids := make([]uint16, 0, len(f.wings))
	for id := range f.wings {
		ids = append(ids, id)
	}
	f.mu.Unlock()
	for _, id := range ids {
		f.clear(id)
	}
}

func (f *FleetManager) chat(ctx context.Context, text string) {
	if err := f.link.Chat(ctx, text); err != nil {
		f.log.Warn("Failed to send chat", "error", err)
	}
}

func (f *FleetManager) countCommand(ctx context.Context, result string) {
	f.commands.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
