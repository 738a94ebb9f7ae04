// Command client opens the game window and joins a shooter server from
// the lobby.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"shooter/internal/client"
	"shooter/internal/config"
	"shooter/internal/game"
	"shooter/internal/logging"
	"shooter/internal/render"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("client failed")
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultConfigFile, "path to the JSON config file")
	addr := fs.String("server", "", "server address, host:port or ws://host:port/ws")
	layout := fs.String("layout", "", "arena layout file; empty uses the built-in arena")
	sens := fs.Float64("sensitivity", 0, "mouse sensitivity in radians per pixel")
	level := fs.String("log-level", "", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			cfg.Client.ServerAddr = *addr
		case "layout":
			cfg.Client.LayoutPath = *layout
		case "sensitivity":
			cfg.Client.Sensitivity = float32(*sens)
		case "log-level":
			cfg.Logging.Level = *level
		}
	})

	closer, err := logging.Init("client", cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := cfg.ValidateClient(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cc := cfg.Client

	arena, err := game.LoadMap(cc.LayoutPath)
	if err != nil {
		return err
	}

	m := client.NewMachine(client.Config{
		Dialer:      client.NetDialer{Timeout: cc.DialTimeout()},
		DefaultAddr: cc.ServerAddr,
		DialTimeout: cc.DialTimeout(),
		Map:         arena,
		Sensitivity: cc.Sensitivity,
	})
	g := render.NewGame(m, render.NewInput(), cc.ScreenWidth, cc.ScreenHeight)

	log.Info().Str("server", cc.ServerAddr).Msg("starting client")
	return render.Run(g, "shooter")
}
