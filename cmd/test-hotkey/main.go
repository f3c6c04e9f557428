// Command test-hotkey is a manual test for the global start/stop hotkeys.
// Run it, then press the combos to see events.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--start ctrl+shift+s] [--stop ctrl+shift+x]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/pacinglights/internal/hotkey"
)

func main() {
	startCombo := flag.String("start", "ctrl+shift+s", "start wave combo")
	stopCombo := flag.String("stop", "ctrl+shift+x", "stop wave combo")
	flag.Parse()

	startKeys, err := hotkey.ParseCombo(*startCombo)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	stopKeys, err := hotkey.ParseCombo(*stopCombo)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	fmt.Printf("Listening for %s (start) and %s (stop)...\n", *startCombo, *stopCombo)
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(startKeys, stopKeys)

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read events
	go func() {
		for ev := range listener.Events() {
			switch ev.Type {
			case hotkey.EventStart:
				fmt.Println(">>> START wave")
			case hotkey.EventStop:
				fmt.Println("<<< STOP  wave")
			}
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
