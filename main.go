// agentcall is the voice-agent call orchestrator daemon: it connects a
// human participant with a remote AI voice agent over WebRTC, keeps the
// conversation transcript and republishes the agent's audio into the
// conferencing room so recordings capture both parties.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	osignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/hireloop/agentcall/internal/api"
	"github.com/hireloop/agentcall/internal/bridge"
	"github.com/hireloop/agentcall/internal/config"
	"github.com/hireloop/agentcall/internal/peer"
	"github.com/hireloop/agentcall/internal/prompt"
	"github.com/hireloop/agentcall/internal/room"
	"github.com/hireloop/agentcall/internal/schedule"
	"github.com/hireloop/agentcall/internal/session"
	"github.com/hireloop/agentcall/internal/signal"
	"github.com/hireloop/agentcall/internal/transcript"
	"github.com/hireloop/agentcall/internal/util"
)

var log = logging.Logger("main")

var (
	configPath = flag.String("config", "agentcall.json", "Path to the config file")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	version    = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("agentcall v%s\n", appVersion)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agentcall: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if lvl, err := logging.LevelFromString(*logLevel); err == nil {
		logging.SetAllLoggers(lvl)
	}

	cfg, created, err := config.Ensure(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if created {
		log.Infof("wrote default config to %s — fill in signaling.url before starting calls", *configPath)
	}

	// Relative storage and prompt paths resolve against the config file's
	// directory, so the daemon behaves the same from any working dir.
	baseDir := filepath.Dir(*configPath)

	store, err := transcript.OpenStore(util.ResolvePath(baseDir, cfg.Storage.DBPath))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	loader, err := prompt.NewLoader(util.ResolvePath(baseDir, cfg.Prompt.Dir))
	if err != nil {
		return fmt.Errorf("prompt loader: %w", err)
	}
	defer loader.Close()

	// Without a configured provider the no-op room keeps the bridge and
	// recording paths exercised end to end.
	var rm room.Room = room.NewNop()
	if err := rm.Join(cfg.Room.URL, cfg.Room.Token); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	defer rm.Leave()

	mgr := session.NewManager()
	factory := newSessionFactory(cfg, loader, rm, store)
	srv := api.New(mgr, factory)

	httpSrv := &http.Server{
		Addr:    cfg.API.HTTPAddr,
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("control API listening on %s", cfg.API.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	osignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("control API: %w", err)
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
	}

	srv.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

// newSessionFactory wires one call session from the configured
// collaborators. The prompt is snapshotted per session; edits to the
// prompt directory only affect later sessions.
func newSessionFactory(cfg config.Config, loader *prompt.Loader, rm room.Room, store *transcript.SQLiteStore) api.Factory {
	dialTimeout := time.Duration(cfg.Signaling.DialTimeoutSec) * time.Second
	grace := time.Duration(cfg.Schedule.GraceSec) * time.Second
	poll := time.Duration(cfg.Schedule.PollSec) * time.Second

	return func(id string, scheduled time.Time) (*session.Session, *schedule.Gate, error) {
		if cfg.Signaling.URL == "" {
			return nil, nil, errors.New("signaling.url is not configured")
		}

		deps := session.Deps{
			DialSignaling: func() (session.Transport, error) {
				return signal.Dial(cfg.Signaling.URL, dialTimeout)
			},
			NewPeer: func(send peer.SendFunc) (session.Peer, error) {
				return peer.New(cfg.ICE.STUNServers, send)
			},
			Bridge:    bridge.New(rm),
			Room:      rm,
			Store:     store,
			Reporter:  store,
			Prompt:    loader.Sections().Compose(),
			AgentID:   id,
			TrackName: cfg.Room.TrackName,
		}
		return session.New(id, deps), schedule.NewGate(scheduled, grace, poll), nil
	}
}
