package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/logging"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/runner"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to a configuration file or a directory of configuration files")
	validateOnly := flag.Bool("validate-only", false, "Validate configurations and endpoint connectivity, then exit")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "missing required flag: --config")
		flag.Usage()
		return runner.ExitConfigInvalid
	}

	logger, err := logging.New("info", "console", *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return runner.ExitConfigInvalid
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("InfluxDB backup service starting",
		zap.String("config_path", *configPath),
		zap.Bool("validate_only", *validateOnly))

	return runner.Run(ctx, runner.Options{
		ConfigPath:   *configPath,
		ValidateOnly: *validateOnly,
		Verbose:      *verbose,
	}, logger)
}
