package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cometbft/cometbft/abci/server"

	"potchain/internal/app"
	"potchain/internal/config"
	"potchain/internal/recorder"
	"potchain/internal/state"
)

func main() {
	var (
		cfgPath = flag.String("config", "config.yaml", "path to config file")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	adminPub, err := cfg.AdminPubKey()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	callerKeys, err := cfg.CallerPubKeys()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	callers := make([]state.Caller, 0, len(callerKeys))
	for id, pub := range callerKeys {
		callers = append(callers, state.Caller{ID: id, PubKey: pub})
	}

	// Event log is optional; run without one rather than refusing to start.
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sq, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[ERROR] open sqlite recorder: %v (events will not be recorded)", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sq
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}
	defer func() { _ = rec.Close() }()

	a, err := app.New(cfg.Node.Home, app.Options{
		Admin:          state.Caller{ID: cfg.Admin.ID, PubKey: adminPub},
		GenesisCallers: callers,
		Recorder:       rec,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "init app: %v\n", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(cfg.Node.Addr, cfg.Node.Transport, a)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "start abci server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "abci server start: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = srv.Stop() }()

	log.Printf("[INFO] potd listening on %s (%s)", cfg.Node.Addr, cfg.Node.Transport)

	// Wait for signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
