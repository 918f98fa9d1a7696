package main

import (
	"fmt"
	"os"
	"time"

	"github.com/tphakala/forestwatch/cmd"
	"github.com/tphakala/forestwatch/internal/buildinfo"
	"github.com/tphakala/forestwatch/internal/conf"
	"github.com/tphakala/forestwatch/internal/errors"
)

// buildDate and version are set at build time with -ldflags
var (
	buildDate string
	version   string
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	build := buildinfo.NewContext(version, buildDate)

	settings, err := conf.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return 1
	}

	rootCmd := cmd.RootCommand(settings, build)
	defer errors.FlushTelemetry(2 * time.Second)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
