// Command gofer runs the control plane process: it wires storage, the
// scheduler, the orchestrator, and the HTTP API into one Application and
// serves until interrupted. There is no flag-driven DSN override since
// config.Load already reads every backend knob from the environment.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clintjedwards/gofer-sub002/internal/app"
	"github.com/clintjedwards/gofer-sub002/internal/config"
	"github.com/clintjedwards/gofer-sub002/internal/httpapi"
	"github.com/clintjedwards/gofer-sub002/pkg/logger"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 normal, 1 fatal startup error.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("load configuration: %v", err)
		return 1
	}

	lg := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})

	application, err := app.New(cfg, app.WithLogger(lg))
	if err != nil {
		lg.WithField("error", err.Error()).Error("initialise application")
		return 1
	}

	server := httpapi.New(application, httpapi.Config{
		ListenAddress:  cfg.ListenAddress,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, lg)
	application.Attach(server)

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		lg.WithField("error", err.Error()).Error("start application")
		return 1
	}
	lg.WithField("address", cfg.ListenAddress).Info("gofer control plane started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		lg.WithField("error", err.Error()).Error("shutdown did not complete cleanly")
		return 1
	}
	return 0
}
