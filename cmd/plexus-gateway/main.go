// Command plexus-gateway wires up and runs a plexus Application.
//
// Standing up the HTTP ingress/auth-middleware processes themselves is out
// of scope (per SPEC_FULL's scoping note): this binary loads config, builds
// the Application, logs readiness, and blocks until SIGINT/SIGTERM — the
// same "build the service, wait for a shutdown signal" shape as the
// teacher's own serve command, minus the http.Server it stood up.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/plexusgw/plexus"
	"github.com/plexusgw/plexus/internal/config"
	"github.com/plexusgw/plexus/internal/logging"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	fs := flag.NewFlagSet("plexus-gateway", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	dsn := fs.String("dsn", "", "gorm/sqlite DSN for cooldown & usage persistence")
	fs.Parse(os.Args[1:])

	var logOpts logging.Options
	if cfg, err := config.NewLoader().WithConfigPath(*configPath).Load(); err == nil && cfg.Log.Level != "" {
		logOpts = logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPaths: cfg.Log.OutputPaths}
	} else {
		logOpts = logging.DefaultOptions()
	}
	logger := logging.New(logOpts)
	defer logger.Sync()

	logger.Info("starting plexus-gateway",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	app, err := plexus.New(plexus.Options{
		ConfigPath: *configPath,
		DSN:        *dsn,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build application: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	logger.Info("plexus-gateway ready")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("plexus-gateway shutting down")
}
