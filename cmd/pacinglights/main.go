// Command pacinglights connects to a pacing-lights controller over BLE and
// starts or stops light waves from the terminal or global hotkeys.
//
// Usage:
//
//	pacinglights [run] [-config path]
//	pacinglights scan [-duration 5s]
//	pacinglights send [-device addr] -laps 10 -time 45.5 -lights 8 [-start 0]
//	pacinglights stop [-device addr]
//	pacinglights laptime -distance 1500 -lap 400 -result 4:05
//	pacinglights init
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chaz8081/pacinglights/internal/config"
	"github.com/chaz8081/pacinglights/internal/session"
)

func main() {
	cmd, args := "run", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runInteractive(args)
	case "scan":
		err = runScan(args)
	case "send":
		err = runSend(args)
	case "stop":
		err = runStop(args)
	case "laptime":
		err = runLaptime(args)
	case "init":
		err = runInit(args)
	case "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pacinglights %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: pacinglights <command> [flags]

commands:
  run      pick a controller and drive it with hotkeys (default)
  scan     list nearby controllers
  send     send one wave
  stop     stop the running wave
  laptime  compute a lap time from a race result
  init     write the default config file

Run "pacinglights <command> -h" for flags.
`)
}

// commonFlags registers flags shared by every radio command.
func commonFlags(fs *flag.FlagSet) *string {
	return fs.String("config", "", "path to config file (default: ~/.config/pacinglights/config.yaml)")
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}
	cfg, err := config.LoadOrDefault("")
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", config.DefaultConfigPath(), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// newLogger builds a console logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = lvl
	zc.DisableStacktrace = true
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zc.DisableCaller = true
	return zc.Build()
}

func sessionOptions(cfg *config.Config) session.Options {
	opts := session.DefaultOptions()
	opts.ServiceUUID = cfg.BLE.ServiceUUID
	opts.CommandCharUUID = cfg.BLE.CommandCharUUID
	opts.NamePrefix = cfg.BLE.NamePrefix
	opts.ConnectTimeout = cfg.BLE.ConnectTimeout
	opts.WriteTimeout = cfg.BLE.WriteTimeout
	opts.RescanOnLinkLoss = cfg.BLE.RescanOnLinkLoss
	if cfg.BLE.ScanPolicy == "clear" {
		opts.ScanPolicy = session.ClearOnRestart
	}
	return opts
}

var errNoDevice = errors.New("no device address; pass -device or set ble.device in the config")

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== pacinglights ===")
	fmt.Printf("  Wave:    %s\n", cfg.Wave.Command())
	if cfg.Hotkey.Enabled {
		fmt.Printf("  Hotkeys: start %s, stop %s\n",
			strings.Join(cfg.Hotkey.StartKeys, "+"), strings.Join(cfg.Hotkey.StopKeys, "+"))
	} else {
		fmt.Println("  Hotkeys: disabled")
	}
	if cfg.BLE.NamePrefix != "" {
		fmt.Printf("  Filter:  %s*\n", cfg.BLE.NamePrefix)
	}
	if cfg.StatusFeed.Listen != "" {
		fmt.Printf("  Feed:    http://%s/status\n", cfg.StatusFeed.Listen)
	}
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("====================")
}
