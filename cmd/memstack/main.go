package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitFailure = 1
)

//go:embed stack.yaml
var defaultStackYAML string

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	stackPath := flag.String("stack", "", "Path to compose stack file (default: built-in platform stack)")
	assumeYes := flag.Bool("yes", false, "Skip the deployment confirmation prompt")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("memstack %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	// Load configuration
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitFailure
	}

	// Setup logger
	logger := SetupLogger(cfg)
	logger.Info("starting memstack",
		"version", Version,
		"config", *configPath,
		"stack", *stackPath,
	)

	stackYAML := defaultStackYAML
	if *stackPath != "" {
		data, err := os.ReadFile(*stackPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "stack file error: %v\n", err)
			return ExitFailure
		}
		stackYAML = string(data)
	}

	// A first interrupt cancels the run; a second kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewApp(cfg, logger).Run(ctx, stackYAML, *assumeYes)
}
