package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AirmashQ/airmash-ground-control/game"
	"github.com/AirmashQ/airmash-ground-control/link"
)

// arenaGrid returns a full size grid with the given cells blocked
func arenaGrid(t *testing.T, blocked ...game.GridPosition) *game.Grid {
	t.Helper()
	cells := make([]bool, game.GridWidth*game.GridHeight)
	for _, p := range blocked {
		cells[p.Y*game.GridWidth+p.X] = true
	}
	g, err := game.NewGrid(game.GridWidth, game.GridHeight, cells)
	require.NoError(t, err)
	return g
}

// wall returns a vertical run of cells at column x
func wall(x, fromY, toY int) []game.GridPosition {
	var out []game.GridPosition
	for y := fromY; y <= toY; y++ {
		out = append(out, game.GridPosition{X: x, Y: y})
	}
	return out
}

func chebyshev(a, b game.GridPosition) int {
	return max(abs(a.X-b.X), abs(a.Y-b.Y))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestSteerClearShot(t *testing.T) {
	g := arenaGrid(t)
	me := g.ToWorld(game.GridPosition{X: 100, Y: 100})

	near := game.Position{X: me.X + 300, Y: me.Y}
	s := steer(g, me, near)
	assert.Equal(t, near, s.aim)
	assert.True(t, s.fire)
	assert.False(t, s.blocked)
	assert.Nil(t, s.path)

	far := game.Position{X: me.X + 800, Y: me.Y}
	s = steer(g, me, far)
	assert.Equal(t, far, s.aim)
	assert.False(t, s.fire, "out of range")
}

func TestSteerAroundNearObstacle(t *testing.T) {
	g := arenaGrid(t, wall(103, 97, 103)...)
	src := game.GridPosition{X: 100, Y: 100}
	dst := game.GridPosition{X: 106, Y: 100}

	s := steer(g, g.ToWorld(src), g.ToWorld(dst))

	assert.True(t, s.blocked)
	assert.Equal(t, game.GridPosition{X: 103, Y: 100}, s.obstacle)
	assert.False(t, s.fire, "no firing through terrain")
	require.Greater(t, len(s.path), 1)
	assert.Equal(t, src, s.path[0])
	assert.Equal(t, dst, s.path[len(s.path)-1])
	assert.Equal(t, 1, chebyshev(src, s.path[1]))
	assert.Equal(t, g.ToWorld(s.path[1]), s.aim)
}

func TestSteerSkipsSearchForDistantObstacle(t *testing.T) {
	tests := []struct {
		wallX    int
		searched bool
	}{
		{wallX: 115, searched: true},  // 15 cells away
		{wallX: 116, searched: false}, // 16 cells away
		{wallX: 130, searched: false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("wall at %d", tt.wallX), func(t *testing.T) {
			g := arenaGrid(t, wall(tt.wallX, 95, 105)...)
			target := g.ToWorld(game.GridPosition{X: 140, Y: 100})

			s := steer(g, g.ToWorld(game.GridPosition{X: 100, Y: 100}), target)
			require.True(t, s.blocked)
			assert.Equal(t, game.GridPosition{X: tt.wallX, Y: 100}, s.obstacle)
			if tt.searched {
				assert.NotEmpty(t, s.path)
				assert.NotEqual(t, target, s.aim)
			} else {
				assert.Nil(t, s.path)
				assert.Equal(t, target, s.aim)
			}
		})
	}
}

func TestSteerTargetInsideTerrain(t *testing.T) {
	// Target sits on a blocked cell; the first free neighbour is used as
	// the destination, so the line of sight is clear.
	g := arenaGrid(t, game.GridPosition{X: 120, Y: 100})
	me := g.ToWorld(game.GridPosition{X: 118, Y: 100})
	target := g.ToWorld(game.GridPosition{X: 120, Y: 100})

	s := steer(g, me, target)
	assert.False(t, s.blocked)
	assert.True(t, s.fire)
	assert.Equal(t, target, s.aim)
}

func TestSteerTargetSealedIn(t *testing.T) {
	var block []game.GridPosition
	for y := 99; y <= 101; y++ {
		block = append(block, wall(111, y, y)...)
		block = append(block, wall(112, y, y)...)
		block = append(block, wall(113, y, y)...)
	}
	g := arenaGrid(t, block...)
	me := g.ToWorld(game.GridPosition{X: 109, Y: 100})
	target := g.ToWorld(game.GridPosition{X: 112, Y: 100})

	// No free cell near the target: pathfinding is skipped for the tick
	s := steer(g, me, target)
	assert.False(t, s.blocked)
	assert.Nil(t, s.path)
	assert.Equal(t, target, s.aim)
	assert.True(t, s.fire)
}

func newTestWingman(t *testing.T, fl *fakeLink, flag *ShutdownFlag) *Wingman {
	t.Helper()
	w := NewWingman("ws://arena.test", "victim", flag, arenaGrid(t), fl.dialer(), nil)
	t0 := time.Unix(1700000000, 0)
	w.now = func() time.Time { return t0 }
	return w
}

func runWingman(ctx context.Context, w *Wingman) <-chan error {
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("wingman did not stop")
		return nil
	}
}

func victimAndMe() (game.Player, game.Player) {
	return game.Player{ID: 1, Name: "victim", Pos: game.Position{X: 0, Y: 0}},
		game.Player{ID: 2, Name: "victim#2", Pos: game.Position{X: 100, Y: 0}}
}

func TestWingmanPursuesUntilFlagSet(t *testing.T) {
	victim, me := victimAndMe()
	fl := newFakeLink(me.ID, victim, me)
	flag := NewShutdownFlag()
	w := newTestWingman(t, fl, flag)

	done := runWingman(context.Background(), w)
	fl.push(link.Event{})
	require.Eventually(t, func() bool { return len(fl.snapshotPoints()) == 1 }, 5*time.Second, time.Millisecond)

	flag.Set()
	fl.push(link.Event{})
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, []link.Identity{link.DefaultIdentity("victim")}, fl.identities)
	assert.Equal(t, []game.Position{victim.Pos}, fl.snapshotPoints())
	assert.Equal(t, []keyInput{
		{link.KeyUp, true},
		{link.KeyFire, true},
		{link.KeyUp, false},
		{link.KeyFire, false},
	}, fl.snapshotKeys())
	assert.True(t, fl.isClosed())
}

func TestWingmanStopsWhenTargetLeaves(t *testing.T) {
	victim, me := victimAndMe()
	fl := newFakeLink(me.ID, victim, me)
	w := newTestWingman(t, fl, NewShutdownFlag())

	done := runWingman(context.Background(), w)
	fl.push(link.Event{})
	require.Eventually(t, func() bool { return len(fl.snapshotPoints()) == 1 }, 5*time.Second, time.Millisecond)

	fl.removePlayer(victim.ID)
	fl.push(link.Event{Kind: link.EventPlayerLeave, Player: victim.ID})
	require.NoError(t, waitDone(t, done))
	assert.Len(t, fl.snapshotPoints(), 1)
}

func TestWingmanHoldsFireOutOfRange(t *testing.T) {
	victim, me := victimAndMe()
	me.Pos = game.Position{X: 2000, Y: 0}
	fl := newFakeLink(me.ID, victim, me)
	flag := NewShutdownFlag()
	w := newTestWingman(t, fl, flag)

	done := runWingman(context.Background(), w)
	fl.push(link.Event{})
	require.Eventually(t, func() bool { return len(fl.snapshotPoints()) == 1 }, 5*time.Second, time.Millisecond)
	flag.Set()
	fl.push(link.Event{})
	require.NoError(t, waitDone(t, done))

	assert.Contains(t, fl.snapshotKeys(), keyInput{link.KeyFire, false})
	assert.NotContains(t, fl.snapshotKeys(), keyInput{link.KeyFire, true})
}

func TestWingmanReassertsThrust(t *testing.T) {
	victim, me := victimAndMe()
	fl := newFakeLink(me.ID, victim, me)
	flag := NewShutdownFlag()
	w := newTestWingman(t, fl, flag)

	// Each clock reading advances 300ms: thrust is pressed at the start
	// and again on the second tick only.
	t0 := time.Unix(1700000000, 0)
	readings := 0
	w.now = func() time.Time {
		readings++
		return t0.Add(time.Duration(readings) * 300 * time.Millisecond)
	}

	done := runWingman(context.Background(), w)
	for i := 1; i <= 3; i++ {
		fl.push(link.Event{})
		require.Eventually(t, func() bool { return len(fl.snapshotPoints()) == i }, 5*time.Second, time.Millisecond)
	}
	flag.Set()
	fl.push(link.Event{})
	require.NoError(t, waitDone(t, done))

	presses := 0
	for _, k := range fl.snapshotKeys() {
		if k == (keyInput{link.KeyUp, true}) {
			presses++
		}
	}
	assert.Equal(t, 2, presses)
}

func TestWingmanPacesOnPing(t *testing.T) {
	victim, me := victimAndMe()
	fl := newFakeLink(me.ID, victim, me)
	fl.ping = 40 * time.Millisecond
	flag := NewShutdownFlag()
	w := newTestWingman(t, fl, flag)

	done := runWingman(context.Background(), w)
	fl.push(link.Event{})
	require.Eventually(t, func() bool { return len(fl.snapshotWaits()) == 1 }, 5*time.Second, time.Millisecond)
	flag.Set()
	fl.push(link.Event{})
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, []time.Duration{80 * time.Millisecond}, fl.snapshotWaits())
}

func TestWingmanWithoutOwnPlayerWaits(t *testing.T) {
	victim, _ := victimAndMe()
	fl := newFakeLink(9, victim)
	flag := NewShutdownFlag()
	w := newTestWingman(t, fl, flag)

	done := runWingman(context.Background(), w)
	fl.push(link.Event{})
	require.Eventually(t, func() bool { return len(fl.snapshotWaits()) == 1 }, 5*time.Second, time.Millisecond)
	flag.Set()
	fl.push(link.Event{})
	require.NoError(t, waitDone(t, done))
	assert.Empty(t, fl.snapshotPoints())
}

func TestWingmanLinkFailure(t *testing.T) {
	victim, me := victimAndMe()
	fl := newFakeLink(me.ID, victim, me)
	w := newTestWingman(t, fl, NewShutdownFlag())

	done := runWingman(context.Background(), w)
	fl.hangUp()
	err := waitDone(t, done)
	assert.ErrorIs(t, err, errLinkDown)

	keys := fl.snapshotKeys()
	require.GreaterOrEqual(t, len(keys), 2)
	assert.Equal(t, []keyInput{{link.KeyUp, false}, {link.KeyFire, false}}, keys[len(keys)-2:])
	assert.True(t, fl.isClosed())
}

func TestWingmanStartupFailures(t *testing.T) {
	victim, me := victimAndMe()

	t.Run("dial", func(t *testing.T) {
		refused := errors.New("connection refused")
		dial := func(ctx context.Context, url string, logger *slog.Logger) (GameLink, error) {
			return nil, refused
		}
		w := NewWingman("ws://arena.test", "victim", NewShutdownFlag(), arenaGrid(t), dial, nil)
		assert.ErrorIs(t, w.Run(context.Background()), refused)
	})

	t.Run("login", func(t *testing.T) {
		fl := newFakeLink(me.ID, victim, me)
		fl.loginErr = &link.ProtocolError{Op: "login", Err: link.ErrLoginRejected}
		w := newTestWingman(t, fl, NewShutdownFlag())
		assert.ErrorIs(t, w.Run(context.Background()), link.ErrLoginRejected)
		assert.True(t, fl.isClosed())
		assert.Empty(t, fl.snapshotKeys())
	})

	t.Run("target missing", func(t *testing.T) {
		fl := newFakeLink(me.ID, me)
		w := newTestWingman(t, fl, NewShutdownFlag())
		assert.ErrorIs(t, w.Run(context.Background()), ErrPlayerNotFound)
		assert.Empty(t, fl.snapshotKeys())
	})

	t.Run("target is self", func(t *testing.T) {
		// The server kept the duplicate name, so the lookup finds us
		fl := newFakeLink(victim.ID, victim)
		w := newTestWingman(t, fl, NewShutdownFlag())
		assert.ErrorIs(t, w.Run(context.Background()), ErrTargetIsSelf)
		assert.Empty(t, fl.snapshotKeys())
		assert.Empty(t, fl.snapshotPoints())
		assert.True(t, fl.isClosed())
	})

	t.Run("send", func(t *testing.T) {
		fl := newFakeLink(me.ID, victim, me)
		fl.sendErr = &link.ProtocolError{Op: "send", Err: link.ErrClosed}
		w := newTestWingman(t, fl, NewShutdownFlag())
		assert.ErrorIs(t, w.Run(context.Background()), link.ErrClosed)
	})
}

func TestWingmanStartupFailureLoggedOnce(t *testing.T) {
	victim, me := victimAndMe()
	fl := newFakeLink(me.ID, victim, me)
	fl.loginErr = &link.ProtocolError{Op: "login", Err: link.ErrLoginRejected}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sup, err := NewSupervisor(logger)
	require.NoError(t, err)

	w := NewWingman("ws://arena.test", "victim", NewShutdownFlag(), arenaGrid(t), fl.dialer(), logger)
	sup.Go("wingman victim", func(uuid.UUID) error { return w.Run(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sup.Drain(ctx))

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "login rejected"), out)
	assert.Contains(t, out, "Task stopped with error")
}

func TestWingmanStopsOnContextCancel(t *testing.T) {
	victim, me := victimAndMe()
	fl := newFakeLink(me.ID, victim, me)
	w := newTestWingman(t, fl, NewShutdownFlag())

	ctx, cancel := context.WithCancel(context.Background())
	done := runWingman(ctx, w)
	fl.push(link.Event{})
	require.Eventually(t, func() bool { return len(fl.snapshotPoints()) == 1 }, 5*time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, waitDone(t, done), context.Canceled)
	// Keys are still released after cancellation
	keys := fl.snapshotKeys()
	assert.Equal(t, []keyInput{{link.KeyUp, false}, {link.KeyFire, false}}, keys[len(keys)-2:])
}
