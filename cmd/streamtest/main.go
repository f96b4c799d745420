// streamtest connects to the realtime endpoint and streams frames from
// one destination to the console.
// Usage: go run ./cmd/streamtest --config configs/agent.local.yaml --topic /topic/rooms/1
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/matcha-chat/realtime/internal/api"
	"github.com/matcha-chat/realtime/internal/auth"
	"github.com/matcha-chat/realtime/internal/config"
	"github.com/matcha-chat/realtime/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/agent.local.yaml", "path to config file")
	topic := flag.String("topic", transport.DestMatchResults, "destination to subscribe to")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Authenticate
	tokens := auth.NewTokenSource()
	if cfg.Auth.Guest {
		pid := tokens.UseGuest()
		logger.Info("running as guest", "pid", pid)
	} else {
		apiClient := api.NewClient(cfg.API.BaseURL, tokens, api.WithLogger(logger))
		resp, err := apiClient.Login(ctx, api.LoginRequest{
			LoginID:  cfg.Auth.LoginID,
			Password: cfg.Auth.Password,
		})
		if err != nil {
			logger.Error("login failed", "error", err)
			os.Exit(1)
		}
		if err := tokens.SetToken(resp.AccessToken); err != nil {
			logger.Error("rejecting access token", "error", err)
			os.Exit(1)
		}
		logger.Info("logged in", "identity", tokens.Identity())
	}

	// Connect and subscribe
	manager := transport.NewManager(transport.Config{
		URL:              cfg.Realtime.WSURL,
		Heartbeat:        cfg.Realtime.Heartbeat,
		ReconnectDelay:   cfg.Realtime.ReconnectDelay,
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
		WriteTimeout:     cfg.Realtime.WriteTimeout,
		BufferSize:       cfg.Realtime.BufferSize,
	}, tokens, logger)
	defer manager.Disconnect()

	if err := manager.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	count := 0
	unsubscribe, err := manager.Registry().Subscribe(ctx, *topic, func(body []byte) {
		count++
		if *verbose {
			var pretty any
			if err := json.Unmarshal(body, &pretty); err == nil {
				out, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Printf("--- frame %d ---\n%s\n", count, out)
				return
			}
		}
		fmt.Printf("frame %d: %s\n", count, body)
	})
	if err != nil {
		logger.Error("failed to subscribe", "topic", *topic, "error", err)
		os.Exit(1)
	}
	defer unsubscribe()

	logger.Info("streaming", "topic", *topic)
	<-ctx.Done()
	logger.Info("stopped", "frames", count)
}
