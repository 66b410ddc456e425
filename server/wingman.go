package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AirmashQ/airmash-ground-control/game"
	"github.com/AirmashQ/airmash-ground-control/link"
)

// releaseTimeout bounds the key releases sent while a wingman shuts down
const releaseTimeout = time.Second

// Wingman chases one player around the arena and shoots at it until its
// ShutdownFlag is set or the player leaves.
type Wingman struct {
	URL      string
	Target   string
	Shutdown *ShutdownFlag
	Grid     *game.Grid
	Dial     Dialer
	Log      *slog.Logger

	now func() time.Time
}

// NewWingman builds a wingman that logs in to url under target's name
func NewWingman(url, target string, flag *ShutdownFlag, grid *game.Grid, dial Dialer, logger *slog.Logger) *Wingman {
	if logger == nil {
		logger = slog.Default()
	}
	return &Wingman{
		URL:      url,
		Target:   target,
		Shutdown: flag,
		Grid:     grid,
		Dial:     dial,
		Log:      logger,
		now:      time.Now,
	}
}

// Run connects, logs in and pursues the target. It returns nil when the
// wingman stopped because of its flag or the target leaving. Errors are
// returned, not logged; the supervisor reports them.
func (w *Wingman) Run(ctx context.Context) error {
	gl, err := w.Dial(ctx, w.URL, w.Log)
	if err != nil {
		return fmt.Errorf("connect wingman: %w", err)
	}
	defer gl.Close()

	if err := gl.Login(ctx, link.DefaultIdentity(w.Target)); err != nil {
		return fmt.Errorf("login wingman: %w", err)
	}

	target, ok := gl.PlayerByName(w.Target)
	if !ok {
		return fmt.Errorf("acquire %q: %w", w.Target, ErrPlayerNotFound)
	}
	// Servers that keep duplicate names can map the name to us
	if me, ok := gl.Me(); ok && me.ID == target.ID {
		return fmt.Errorf("acquire %q: %w", w.Target, ErrTargetIsSelf)
	}
	w.Log.Info("Wingman acquired target", "target_id", target.ID)

	err = w.pursue(ctx, gl, target.ID)
	w.release(ctx, gl)
	if err != nil {
		return fmt.Errorf("pursue %q: %w", w.Target, err)
	}
	w.Log.Debug("Wingman shutting down")
	return nil
}

// pursue is the control loop. It returns nil on a normal stop.
func (w *Wingman) pursue(ctx context.Context, gl GameLink, targetID uint16) error {
	if err := gl.PressKey(ctx, link.KeyUp); err != nil {
		return err
	}
	lastThrust := w.now()

	for {
		if _, err := gl.NextEvent(ctx); err != nil {
			return err
		}
		if w.Shutdown.IsSet() {
			return nil
		}
		target, ok := gl.Player(targetID)
		if !ok {
			w.Log.Info("Target left")
			return nil
		}

		if now := w.now(); now.Sub(lastThrust) >= game.ThrustInterval {
			if err := gl.PressKey(ctx, link.KeyUp); err != nil {
				return err
			}
			lastThrust = now
		}

		if me, ok := gl.Me(); ok {
			s := steer(w.Grid, me.Pos, target.Pos)
			logSteering(w.Log, w.Grid.ToGrid(me.Pos), w.Grid.ToGrid(target.Pos), s)

			if err := gl.PointAt(ctx, s.aim); err != nil {
				return err
			}
			fire := gl.ReleaseKey
			if s.fire {
				fire = gl.PressKey
			}
			if err := fire(ctx, link.KeyFire); err != nil {
				return err
			}
		}

		if err := gl.Wait(ctx, game.TickInterval(gl.Ping())); err != nil {
			return err
		}
	}
}

// release lets go of thrust and fire. Failures are only logged.
func (w *Wingman) release(ctx context.Context, gl GameLink) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	for _, k := range []link.Key{link.KeyUp, link.KeyFire} {
		if err := gl.ReleaseKey(ctx, k); err != nil {
			w.Log.Warn("Failed to release key", "key", k, "error", err)
		}
	}
}

// steering is what a wingman does on one tick
type steering struct {
	aim      game.Position
	fire     bool
	blocked  bool
	obstacle game.GridPosition
	path     []game.GridPosition
}

// steer picks an aim point and decides whether to fire. Fire only when
// the target is close and in sight. When terrain is in the way and the
// obstacle is near, aim at the next cell of the shortest path instead.
func steer(g *game.Grid, me, target game.Position) steering {
	s := steering{
		aim:  target,
		fire: game.Distance(me, target) < game.FireRange,
	}

	src := g.ToGrid(me)
	dst := g.ToGrid(target)

	// A* explores the whole map when the goal is occupied
	if g.Occupied(dst) {
		free, ok := g.FreeNeighbor(dst)
		if !ok {
			return s
		}
		dst = free
	}

	obstacle, blocked := g.LineBlocked(src, dst)
	if !blocked {
		return s
	}
	s.fire = false
	s.blocked = true
	s.obstacle = obstacle

	if src.Manhattan(obstacle) >= game.PathfindRange {
		return s
	}
	s.path = g.FindPath(src, dst)
	if len(s.path) > 1 {
		s.aim = g.ToWorld(s.path[1])
	}
	return s
}
