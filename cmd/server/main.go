// Command server hosts two-player shooter sessions over TCP, with an
// optional WebSocket endpoint and HTTP status API.
//
// Usage:
//
//	server [flags]              run the game server
//	server history [-n N]       print recent sessions
//	server init-config          write the effective configuration
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"shooter/internal/config"
	"shooter/internal/logging"
	"shooter/internal/server"
	"shooter/internal/store"
	"shooter/internal/telemetry"
	"shooter/internal/transport"
)

const (
	recordTimeout   = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := "serve"
	if len(args) > 0 && (args[0] == "history" || args[0] == "init-config") {
		cmd, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultConfigFile, "path to the JSON config file")
	listen := fs.String("listen", "", "TCP address for game connections")
	admin := fs.String("admin", "", "HTTP address for the status API and WebSocket endpoint")
	ws := fs.Bool("ws", false, "accept game connections over WebSocket at /ws")
	db := fs.String("db", "", "SQLite file for session history; empty disables it")
	level := fs.String("log-level", "", "log level (debug, info, warn, error)")
	limit := fs.Int("n", 20, "number of sessions to list (history)")
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
	// Flags set on the command line win over file and environment.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Server.ListenAddr = *listen
		case "admin":
			cfg.Server.AdminAddr = *admin
		case "ws":
			cfg.Server.WebSocket = *ws
		case "db":
			cfg.Server.DBPath = *db
		case "log-level":
			cfg.Logging.Level = *level
		}
	})

	switch cmd {
	case "init-config":
		if err := cfg.Save(*cfgPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", *cfgPath)
		return nil
	case "history":
		return printHistory(cfg.Server.DBPath, *limit)
	}

	closer, err := logging.Init("server", cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg.Server)
}

func serve(ctx context.Context, sc config.ServerConfig) error {
	opts := server.DefaultOptions()
	opts.CountdownInterval = sc.CountdownInterval()
	opts.RelayInterval = sc.RelayInterval()
	orch := server.New(opts)

	var adminOpts server.AdminOptions
	if sc.DBPath != "" {
		st, err := store.Open(sc.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()
		orch.Observe(server.RecordSessions(st, recordTimeout))
		adminOpts.History = st
		log.Info().Str("path", sc.DBPath).Msg("recording session history")
	}

	if sc.MQTT.Enabled {
		h, err := telemetry.NewMQTTHandler(sc.MQTT)
		if err != nil {
			return err
		}
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = h.Connect(connectCtx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("telemetry unavailable, continuing without it")
		} else {
			defer h.Close()
			orch.Observe(h)
		}
	}

	tcp, err := transport.ListenTCP(ctx, sc.ListenAddr)
	if err != nil {
		return err
	}
	var ln net.Listener = tcp

	var httpSrv *http.Server
	if sc.AdminAddr != "" {
		if sc.WebSocket {
			wsl := transport.NewWSListener(tcp.Addr())
			adminOpts.WebSocket = wsl
			ln = transport.Merge(tcp, wsl)
		}
		httpSrv = &http.Server{
			Addr:              sc.AdminAddr,
			Handler:           server.NewAdminRouter(orch, adminOpts),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Serve(gctx, ln)
	})
	if httpSrv != nil {
		g.Go(func() error {
			log.Info().Str("addr", sc.AdminAddr).Bool("websocket", sc.WebSocket).Msg("admin API listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(shutCtx)
		})
	}

	err = g.Wait()
	log.Info().Uint64("sessions", orch.SessionsServed()).Msg("server stopped")
	return err
}

func printHistory(path string, limit int) error {
	if path == "" {
		return errors.New("no session database configured (set -db or server.db_path)")
	}
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	sessions, err := st.Recent(ctx, limit)
	if err != nil {
		return err
	}
	total, err := st.Count(ctx)
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Session", "Ended", "Duration", "Player 1", "Player 2", "HP 1", "HP 2", "First Out", "Ticks"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, s := range sessions {
		id := s.ID
		if len(id) > 8 {
			id = id[:8]
		}
		firstOut := "-"
		if s.FirstOut > 0 {
			firstOut = strconv.Itoa(s.FirstOut)
		}
		tw.Append([]string{
			id,
			s.EndedAt.Local().Format("2006-01-02 15:04:05"),
			s.Duration().Round(time.Second).String(),
			s.Player1,
			s.Player2,
			strconv.Itoa(s.Health1),
			strconv.Itoa(s.Health2),
			firstOut,
			strconv.FormatInt(s.Ticks, 10),
		})
	}
	tw.Render()
	fmt.Printf("%d of %d sessions\n", len(sessions), total)
	return nil
}
