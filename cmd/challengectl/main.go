package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ckoval7/challengectl/internal/app"
	"github.com/ckoval7/challengectl/internal/config"
)

func main() {
	createDefaultConfig := flag.Bool("create-default-config", false, "write a commented default domain config and exit")
	configPath := flag.String("config", "", "path to the domain config YAML (overrides CHALLENGECTL_CONFIG)")
	host := flag.String("host", "", "listen host (overrides CHALLENGECTL_HOST)")
	port := flag.Int("port", 0, "listen port (overrides CHALLENGECTL_PORT)")
	flag.Parse()

	if *createDefaultConfig {
		path := *configPath
		if path == "" {
			path = "challengectl.yaml"
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote default domain config to %s\n", path)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	// CLI flags override environment variables.
	if *configPath != "" {
		cfg.ConfigPath = *configPath
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
