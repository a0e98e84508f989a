// Package main provides the entry point for the audio bridge application.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Raikerian/go-audio-bridge/internal/app"
	"github.com/Raikerian/go-audio-bridge/internal/bridge"
	"github.com/Raikerian/go-audio-bridge/internal/config"
	"github.com/Raikerian/go-audio-bridge/internal/consumer"
	"github.com/Raikerian/go-audio-bridge/internal/infrastructure"
	"github.com/Raikerian/go-audio-bridge/internal/pool"
	"github.com/Raikerian/go-audio-bridge/internal/source"
	"github.com/Raikerian/go-audio-bridge/internal/telemetry"
	pkginfra "github.com/Raikerian/go-audio-bridge/pkg/infrastructure"

	"go.uber.org/fx"
)

func main() {
	// Default config path; pure defaults apply when the file is absent.
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	application := app.New(
		// Core modules
		config.Module,
		infrastructure.LoggerModule,
		telemetry.Module,

		// Pipeline modules
		pool.Module,
		bridge.Module,
		consumer.Module,
		source.Module,

		// Supply the config path
		fx.Supply(configPath),

		// Configure Fx to use our Zap logger for its own internal logging
		fx.WithLogger(pkginfra.NewFxLoggerAdapter),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go application.Run()

	sig := <-sigCh
	fmt.Printf("Received signal: %s, initiating shutdown.\n", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := application.Stop(shutdownCtx)
	cancel()

	if err != nil {
		fmt.Printf("Error during shutdown: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Application has shut down gracefully.")
}
