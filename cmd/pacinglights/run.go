package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/chaz8081/pacinglights/internal/ble"
	"github.com/chaz8081/pacinglights/internal/command"
	"github.com/chaz8081/pacinglights/internal/hotkey"
	"github.com/chaz8081/pacinglights/internal/permission"
	"github.com/chaz8081/pacinglights/internal/picker"
	"github.com/chaz8081/pacinglights/internal/session"
	"github.com/chaz8081/pacinglights/internal/statusfeed"
)

func runInteractive(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := commonFlags(fs)
	fs.Parse(args) //nolint:errcheck

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := openManager(ctx, cfg.Permission.BluezAdapter, sessionOptions(cfg), log)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()
	ch := session.NewChannel(mgr, log)

	if cfg.StatusFeed.Listen != "" {
		go func() {
			err := statusfeed.Serve(ctx, cfg.StatusFeed.Listen, statusfeed.NewHandler(mgr, log), log)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status feed stopped", zap.Error(err))
			}
		}()
	}

	if err := mgr.StartScan(ctx); err != nil {
		return err
	}
	if err := pickAndConnect(ctx, mgr); err != nil {
		if errors.Is(err, picker.ErrCancelled) || ctx.Err() != nil {
			return nil
		}
		return err
	}

	links, unsub := mgr.Subscribe()
	defer unsub()

	var hotkeys <-chan hotkey.Event
	if cfg.Hotkey.Enabled {
		listener := hotkey.NewListener(cfg.Hotkey.StartKeys, cfg.Hotkey.StopKeys)
		go listener.Start()
		hotkeys = listener.Events()
		fmt.Printf("Ready! %s starts the wave, %s stops it. Ctrl+C to quit.\n",
			strings.Join(cfg.Hotkey.StartKeys, "+"), strings.Join(cfg.Hotkey.StopKeys, "+"))
	} else {
		fmt.Println("Ready! Hotkeys are disabled; use `pacinglights send` from another terminal. Ctrl+C to quit.")
	}

	wave := cfg.Wave.Command()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			mgr.Shutdown()
			log.Sync() //nolint:errcheck
			// Exit directly to avoid gohook's C cleanup crash.
			// The OS reclaims the event hook on process exit.
			os.Exit(0)

		case ev, ok := <-hotkeys:
			if !ok {
				hotkeys = nil
				continue
			}
			cmd := wave
			if ev.Type == hotkey.EventStop {
				cmd = command.Stop
			}
			if _, err := ch.Send(ctx, cmd); err != nil {
				log.Error("send failed", zap.Stringer("command", cmd), zap.Error(err))
				if errors.Is(err, session.ErrNotConnected) {
					fmt.Println("Not connected. Waiting for a controller...")
				}
			}

		case ev, ok := <-links:
			if !ok {
				return nil
			}
			if ev.Kind != session.LinkLost {
				continue
			}
			fmt.Printf("\nConnection to %s was lost. Pick a controller to reconnect.\n", ev.Device.Label())
			if err := pickAndConnect(ctx, mgr); err != nil {
				if errors.Is(err, picker.ErrCancelled) || ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// openManager passes the permission gate and starts a session manager on
// the system radio.
func openManager(ctx context.Context, bluezAdapter string, opts session.Options, log *zap.Logger) (*session.Manager, error) {
	gate := permission.NewGate(permission.NewPlatform(bluezAdapter, log), log)
	if err := gate.Require(ctx); err != nil {
		if errors.Is(err, permission.ErrPermissionDenied) {
			return nil, errors.New("bluetooth access was denied; turn Bluetooth on or grant access and try again")
		}
		return nil, err
	}
	return session.NewManager(ble.NewTinyGoAdapter(log), opts, log), nil
}

// pickAndConnect shows the picker until a connection succeeds. A failed
// attempt resumes the scan, so the picker simply reopens.
func pickAndConnect(ctx context.Context, mgr *session.Manager) error {
	for {
		d, err := picker.Run(ctx, mgr, "Select pacing lights")
		if err != nil {
			return err
		}
		fmt.Printf("Connecting to %s...\n", d.Label())
		if _, err := mgr.Connect(ctx, d); err != nil {
			if errors.Is(err, session.ErrConnectTimeout) || errors.Is(err, session.ErrConnectRejected) {
				fmt.Printf("Could not connect: %v\n", err)
				continue
			}
			return err
		}
		fmt.Printf("Connected to %s (%s)\n", d.Label(), session.Status(mgr.Link()))
		return nil
	}
}
