package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/matcha-chat/realtime/internal/api"
	"github.com/matcha-chat/realtime/internal/auth"
	"github.com/matcha-chat/realtime/internal/chat"
	"github.com/matcha-chat/realtime/internal/config"
	"github.com/matcha-chat/realtime/internal/match"
	"github.com/matcha-chat/realtime/internal/peer"
	"github.com/matcha-chat/realtime/internal/signal"
	"github.com/matcha-chat/realtime/internal/transport"
	"github.com/matcha-chat/realtime/internal/version"
)

// matchPollInterval is how often the agent checks the negotiation
// state while a match is in flight.
const matchPollInterval = 500 * time.Millisecond

func main() {
	configPath := flag.String("config", "configs/agent.local.yaml", "path to config file")
	guest := flag.Bool("guest", false, "connect as a guest, overriding configured credentials")
	startMatch := flag.Bool("match", false, "request a match on startup and auto-accept")
	roomID := flag.Int64("room", 0, "join this chat room on startup")
	say := flag.String("say", "", "send this message after joining a room")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting matcha agent",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && *guest {
			logger.Info("no config file, using defaults")
			cfg = config.Default()
			cfg.Auth.Guest = true
		} else {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}
	if *guest {
		cfg.Auth = config.AuthConfig{Guest: true}
	}

	logger.Info("configuration loaded",
		"api_url", cfg.API.BaseURL,
		"ws_url", cfg.Realtime.WSURL,
		"guest", cfg.Auth.Guest,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Credentials and HTTP boundary
	tokens := auth.NewTokenSource()
	apiClient := api.NewClient(
		cfg.API.BaseURL,
		tokens,
		api.WithTimeout(cfg.API.Timeout),
		api.WithLogger(logger),
	)

	if cfg.Auth.Guest {
		pid := tokens.UseGuest()
		logger.Info("running as guest", "pid", pid)
	} else {
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

	// Shared realtime connection
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
	logger.Info("realtime connection established")

	// Match negotiation
	machine := match.NewMachine(apiClient, logger)
	unsubMatch, err := manager.Registry().Subscribe(ctx, transport.DestMatchResults, machine.HandleEvent)
	if err != nil {
		logger.Error("failed to subscribe to match results", "error", err)
		os.Exit(1)
	}
	defer unsubMatch()

	// Signaling relay routes inbound envelopes to the current peer link.
	relay := signal.NewRelay(manager.Registry(), manager, tokens, logger)
	defer relay.Close()

	links := newLinkSlot(logger)
	err = relay.Subscribe(ctx, func(env signal.Envelope) {
		links.route(ctx, env)
	})
	if err != nil {
		logger.Error("failed to subscribe to signals", "error", err)
		os.Exit(1)
	}

	// Chat
	chatCoord := chat.NewCoordinator(manager.Registry(), manager, apiClient, tokens, logger)
	defer chatCoord.Cleanup()

	if rooms, err := chatCoord.LoadRooms(ctx); err != nil {
		logger.Warn("failed to list rooms", "error", err)
	} else {
		logger.Info("rooms loaded", "count", len(rooms))
	}

	if *roomID != 0 {
		if err := joinRoom(ctx, chatCoord, *roomID, *say, logger); err != nil {
			logger.Error("failed to join room", "room_id", *roomID, "error", err)
			os.Exit(1)
		}
	}

	startLink := func(ctx context.Context, partnerLoginID string, createOffer bool) (peerLink, error) {
		l := peer.NewLink(relay, partnerLoginID, peer.Config{
			ICEServers: cfg.Peer.ICEServers,
		}, logger)
		l.OnData(func(data []byte) {
			logger.Info("peer data received", "bytes", len(data))
		})
		if err := l.Start(ctx, createOffer); err != nil {
			l.Close()
			return nil, err
		}
		return l, nil
	}

	if *startMatch {
		if err := runMatch(ctx, machine, chatCoord, startLink, *say, links, logger); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error("match session failed", "error", err)
				os.Exit(1)
			}
		}
	}

	logger.Info("agent running", "identity", tokens.Identity())

	// Wait for shutdown
	<-ctx.Done()

	if l := links.get(); l != nil {
		l.Close()
	}

	logger.Info("agent stopped")
}

// maxBufferedSignals bounds envelopes held while no link is active.
const maxBufferedSignals = 16

// peerLink is the slice of a peer link the agent drives.
// Satisfied by *peer.Link.
type peerLink interface {
	HandleSignal(ctx context.Context, env signal.Envelope) error
	Close() error
}

// linkSlot holds the peer link for the current match. Envelopes that
// arrive before a link is set are buffered and replayed on set, so an
// offer published by a fast partner is never lost.
type linkSlot struct {
	logger *slog.Logger

	mu      sync.Mutex
	l       peerLink
	pending []signal.Envelope
}

func newLinkSlot(logger *slog.Logger) *linkSlot {
	if logger == nil {
		logger = slog.Default()
	}
	return &linkSlot{logger: logger}
}

func (s *linkSlot) get() peerLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l
}

// route delivers env to the active link, or buffers it until one is
// set.
func (s *linkSlot) route(ctx context.Context, env signal.Envelope) {
	s.mu.Lock()
	l := s.l
	if l == nil {
		if len(s.pending) < maxBufferedSignals {
			s.pending = append(s.pending, env)
			s.mu.Unlock()
			s.logger.Debug("buffering signal until peer link is ready", "type", env.Type, "sender", env.SenderLoginID)
			return
		}
		s.mu.Unlock()
		s.logger.Warn("signal buffer full, dropping", "type", env.Type, "sender", env.SenderLoginID)
		return
	}
	s.mu.Unlock()

	if err := l.HandleSignal(ctx, env); err != nil {
		s.logger.Warn("handling signal failed", "type", env.Type, "error", err)
	}
}

// set installs l and replays any buffered envelopes into it.
func (s *linkSlot) set(ctx context.Context, l peerLink) {
	s.mu.Lock()
	s.l = l
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if l == nil {
		return
	}
	for _, env := range pending {
		if err := l.HandleSignal(ctx, env); err != nil {
			s.logger.Warn("handling buffered signal failed", "type", env.Type, "error", err)
		}
	}
}

// clear drops the active link and any buffered envelopes.
func (s *linkSlot) clear() {
	s.mu.Lock()
	s.l = nil
	s.pending = nil
	s.mu.Unlock()
}

// roomSession is the slice of the chat coordinator the agent drives.
// Satisfied by *chat.Coordinator.
type roomSession interface {
	SelectRoom(ctx context.Context, roomID int64) error
	SendMessage(ctx context.Context, content string) error
	History() []chat.Message
}

// linkStarter builds and starts the peer link for a confirmed match.
type linkStarter func(ctx context.Context, partnerLoginID string, createOffer bool) (peerLink, error)

// joinRoom selects a chat room and optionally sends one message.
func joinRoom(ctx context.Context, rooms roomSession, roomID int64, say string, logger *slog.Logger) error {
	if err := rooms.SelectRoom(ctx, roomID); err != nil {
		return err
	}
	logger.Info("joined room", "room_id", roomID, "history", len(rooms.History()))

	if say != "" {
		if err := rooms.SendMessage(ctx, say); err != nil {
			return err
		}
		logger.Info("message sent", "room_id", roomID)
	}
	return nil
}

// runMatch requests a match, auto-accepts when one is found, and on
// confirmation joins the matched room and establishes the peer link.
// Returns once the session is confirmed or the negotiation ends.
//
// The offer flag is captured from the MATCHED snapshot, before the
// accept is issued: confirmation clears the flag on the session, so by
// the time CONFIRMED is observed it no longer says which side
// originates. The answerer's link is started before accepting, so the
// partner's offer has a live connection to land on however fast it
// arrives.
func runMatch(
	ctx context.Context,
	machine *match.Machine,
	rooms roomSession,
	startLink linkStarter,
	say string,
	links *linkSlot,
	logger *slog.Logger,
) error {
	if err := machine.Start(ctx, api.MatchCriteria{}); err != nil {
		return fmt.Errorf("starting match: %w", err)
	}
	logger.Info("match requested", "status", machine.Snapshot().Status)

	ticker := time.NewTicker(matchPollInterval)
	defer ticker.Stop()

	accepted := false
	createOffer := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		sess := machine.Snapshot()
		switch sess.Status {
		case match.StatusMatched:
			if accepted {
				continue
			}
			createOffer = sess.ShouldCreateOffer
			logger.Info("match found",
				"partner", sess.PartnerLoginID,
				"room_id", sess.RoomID,
				"create_offer", createOffer,
			)

			if !createOffer {
				l, err := startLink(ctx, sess.PartnerLoginID, false)
				if err != nil {
					return fmt.Errorf("starting peer link: %w", err)
				}
				links.set(ctx, l)
			}

			if err := machine.Accept(ctx); err != nil {
				return fmt.Errorf("accepting match: %w", err)
			}
			accepted = true

		case match.StatusConfirmed:
			logger.Info("match confirmed",
				"partner", sess.PartnerLoginID,
				"room_id", sess.RoomID,
				"create_offer", createOffer,
			)

			if createOffer {
				l, err := startLink(ctx, sess.PartnerLoginID, true)
				if err != nil {
					return fmt.Errorf("starting peer link: %w", err)
				}
				links.set(ctx, l)
			}

			if sess.RoomID != 0 {
				if err := joinRoom(ctx, rooms, sess.RoomID, say, logger); err != nil {
					return err
				}
			}
			return nil

		case match.StatusDeclined, match.StatusCancelled:
			logger.Info("match ended without confirmation", "status", sess.Status)
			if l := links.get(); l != nil {
				l.Close()
			}
			links.clear()
			machine.Reset()
			return nil
		}
	}
}
