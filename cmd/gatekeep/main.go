// Command gatekeep serves the invitation API with rate limiting and browser
// security headers. All configuration comes from GATEKEEP_* variables.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/app"
)

func main() {
	showVersion := flag.Bool("version", false, "print the build version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(app.BuildVersion)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gatekeep:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("initialise: %w", err)
	}
	return application.Run()
}
