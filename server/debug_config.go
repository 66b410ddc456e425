package server

import (
	"log/slog"

	"github.com/AirmashQ/airmash-ground-control/game"
)

// Debug flags for various subsystems
var (
	DebugPathfinding = false // Set to true to log every steering decision
)

// logSteering logs a wingman's steering decision when debugging is enabled
func logSteering(log *slog.Logger, src, dst game.GridPosition, s steering) {
	if !DebugPathfinding {
		return
	}
	attrs := []any{"src", src, "dst", dst, "fire", s.fire, "aim_x", s.aim.X, "aim_y", s.aim.Y}
	if s.blocked {
		attrs = append(attrs, "obstacle", s.obstacle, "path_len", len(s.path))
	}
	log.Debug("Steering", attrs...)
}
