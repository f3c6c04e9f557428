package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/chaz8081/pacinglights/internal/command"
	"github.com/chaz8081/pacinglights/internal/config"
	"github.com/chaz8081/pacinglights/internal/laptime"
	"github.com/chaz8081/pacinglights/internal/session"
)

func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := commonFlags(fs)
	duration := fs.Duration("duration", 5*time.Second, "how long to scan")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := openManager(ctx, cfg.Permission.BluezAdapter, sessionOptions(cfg), log)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	if err := mgr.StartScan(ctx); err != nil {
		return err
	}
	fmt.Printf("Scanning for %s...\n", *duration)
	select {
	case <-time.After(*duration):
	case <-ctx.Done():
	}
	mgr.StopScan()

	devices := mgr.Devices()
	if len(devices) == 0 {
		fmt.Println("No controllers found.")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tRSSI")
	for _, d := range devices {
		name := d.Name
		if !d.HasName() {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", d.ID, name, d.RSSI)
	}
	return tw.Flush()
}

func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	configPath := commonFlags(fs)
	device := fs.String("device", "", "controller address (default: ble.device)")
	laps := fs.String("laps", "", "total laps")
	lapTime := fs.String("time", "", "seconds per lap, e.g. 45.5")
	lights := fs.String("lights", "", "number of lights in the wave")
	start := fs.String("start", "0", "starting light, 0-7")
	timeout := fs.Duration("timeout", 15*time.Second, "how long to look for the controller")
	fs.Parse(args) //nolint:errcheck

	cmd, err := command.Parse(*laps, *lapTime, *lights, *start)
	if err != nil {
		return err
	}
	return sendOnce(*configPath, *device, *timeout, cmd)
}

func runStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	configPath := commonFlags(fs)
	device := fs.String("device", "", "controller address (default: ble.device)")
	timeout := fs.Duration("timeout", 15*time.Second, "how long to look for the controller")
	fs.Parse(args) //nolint:errcheck

	return sendOnce(*configPath, *device, *timeout, command.Stop)
}

// sendOnce scans for address, connects, sends cmd and disconnects.
func sendOnce(configPath, address string, timeout time.Duration, cmd command.Command) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if address == "" {
		address = cfg.BLE.Device
	}
	if address == "" {
		return errNoDevice
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := openManager(ctx, cfg.Permission.BluezAdapter, sessionOptions(cfg), log)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	if err := mgr.StartScan(ctx); err != nil {
		return err
	}
	findCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	d, err := findDevice(findCtx, mgr, address)
	if err != nil {
		return err
	}

	if _, err := mgr.Connect(ctx, d); err != nil {
		return err
	}
	defer mgr.Disconnect()

	ack, err := session.NewChannel(mgr, log).Send(ctx, cmd)
	if err != nil {
		return err
	}
	log.Debug("acknowledged", zap.Uint64("session", ack.Session))
	fmt.Printf("Sent %s to %s\n", ack.Payload, d.Label())
	return nil
}

// deviceLister is the part of the manager findDevice polls.
type deviceLister interface {
	Devices() []session.Descriptor
}

// findDevice waits until a scan has reported address.
func findDevice(ctx context.Context, src deviceLister, address string) (session.Descriptor, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, d := range src.Devices() {
			if strings.EqualFold(d.ID, address) {
				return d, nil
			}
		}
		select {
		case <-ctx.Done():
			return session.Descriptor{}, fmt.Errorf("controller %s not found: %w", address, ctx.Err())
		case <-ticker.C:
		}
	}
}

func runLaptime(args []string) error {
	fs := flag.NewFlagSet("laptime", flag.ExitOnError)
	distance := fs.Float64("distance", 0, "race distance, e.g. 1500")
	lap := fs.Float64("lap", 400, "lap distance in the same unit")
	result := fs.String("result", "", "race result as min:sec, e.g. 4:05")
	fs.Parse(args) //nolint:errcheck

	d, err := laptime.ParseResult(*result)
	if err != nil {
		return err
	}
	secs, err := laptime.Calculate(*distance, *lap, d)
	if err != nil {
		return err
	}
	fmt.Println(laptime.Format(secs))
	return nil
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	fs.Parse(args) //nolint:errcheck

	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}
