// command bootloader is the boot menu for the instrument: it lists the
// configurations programmed into the flash slots, autoboots the last
// used one and stages the selected image before requesting
// reconfiguration from the supervisor.
package main

import (
	"fmt"
	"log"
	"os"
	"time"
)

// Version is set by the Go linker with -ldflags='-X main.Version=...'.
var Version string

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bootloader: %v\n", err)
		os.Exit(2)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	if Version != "" {
		log.Printf("bootloader %s", Version)
	}
	p, err := Init()
	if err != nil {
		return err
	}
	go func() {
		t := time.NewTicker(p.orch.Config.TickPeriod)
		defer t.Stop()
		for range t.C {
			p.orch.Tick()
		}
	}()
	return p.Run()
}
