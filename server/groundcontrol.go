package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AirmashQ/airmash-ground-control/game"
	"github.com/AirmashQ/airmash-ground-control/link"
)

// Spectate command sent right after login so ground control never flies
const (
	spectateCommand = "spectate"
	spectateData    = "-3"
)

// Options configures ground control on one server
type Options struct {
	URL        string
	Name       string
	MaxWings   uint8
	Announce   bool
	Grid       *game.Grid
	Dial       Dialer
	Supervisor *Supervisor
	Logger     *slog.Logger
}

// StartGroundControl connects to one server, logs in as a spectator and
// runs a FleetManager until the connection drops or ctx ends.
func StartGroundControl(ctx context.Context, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dial == nil {
		opts.Dial = DialLink
	}
	logger := opts.Logger.With("server", opts.URL)

	gl, err := opts.Dial(ctx, opts.URL, logger)
	if err != nil {
		logger.Error("Client connection error", "error", err)
		return fmt.Errorf("connect %s: %w", opts.URL, err)
	}
	defer gl.Close()

	if err := gl.Login(ctx, link.DefaultIdentity(opts.Name)); err != nil {
		logger.Error("Client login error", "error", err)
		return fmt.Errorf("login %s: %w", opts.URL, err)
	}
	if err := gl.Command(ctx, spectateCommand, spectateData); err != nil {
		logger.Error("Force spectate error", "error", err)
		return fmt.Errorf("spectate %s: %w", opts.URL, err)
	}

	fm, err := NewFleetManager(gl, FleetOptions{
		URL:        opts.URL,
		MaxWings:   opts.MaxWings,
		Announce:   opts.Announce,
		Grid:       opts.Grid,
		Dial:       opts.Dial,
		Supervisor: opts.Supervisor,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.Info("Starting ground control", "name", opts.Name, "max_wingmen", opts.MaxWings)
	if err := fm.Run(ctx); err != nil {
		return fmt.Errorf("ground control on %s: %w", opts.URL, err)
	}
	return nil
}
