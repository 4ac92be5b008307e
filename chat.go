package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bizchat/audit"
	"bizchat/config"
	"bizchat/conversation"
	"bizchat/prompt"
	"bizchat/providers"
	"bizchat/stream"
	"bizchat/tokens"
)

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg.Log, os.Stderr)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	if cfg.LLM.APIKey == "" {
		logger.Warn().Msg("OPENAI_API_KEY is not set; upstream calls will fail")
	}

	store := conversation.NewStore(cfg.Conversation.Greeting, cfg.Conversation.MaxTurns)
	provider := providers.NewOpenAIProvider(cfg.LLM.APIURL, cfg.LLM.APIKey, nil, component(logger, "provider"))
	relay := providers.NewRelay(provider, providers.RelayConfig{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, component(logger, "relay"))
	info := relay.Provider()
	logger.Info().
		Str("provider", info.Name).
		Str("version", info.Version).
		Bool("requires_auth", info.RequiresAuth).
		Str("url", cfg.LLM.APIURL).
		Str("model", relay.Model()).
		Msg("completion provider configured")

	counter := tokens.NewCounter(tokens.DefaultEncoding, component(logger, "tokens"))
	go func() {
		start := time.Now()
		exact := counter.Warm()
		logger.Info().Bool("tiktoken", exact).Dur("took", time.Since(start)).Msg("token counter ready")
	}()

	opts := stream.Options{
		Builder:     prompt.Builder{SystemPrompt: cfg.Conversation.SystemPrompt},
		TokenBudget: cfg.Conversation.TokenBudget,
		Counter:     counter,
		Logger:      component(logger, "session"),
	}

	var auditStore *audit.Store
	if cfg.Audit.Enabled {
		var err error
		auditStore, err = audit.Open(cfg.Audit.Path, counter, component(logger, "audit"))
		if err != nil {
			// the chat works without the audit log
			logger.Error().Err(err).Msg("LLM audit disabled")
			auditStore = nil
		} else {
			defer auditStore.Close()
			opts.Recorder = auditStore
		}
	}

	srv := newServer(cfg, store, relay, opts, component(logger, "http"))
	srv.provider = info
	if auditStore != nil {
		srv.history = auditStore
	}
	handler := srv.routes()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var servers []*http.Server
	errCh := make(chan error, 2)
	serve := func(hs *http.Server, listen func() error) {
		servers = append(servers, hs)
		go func() {
			if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s: %w", hs.Addr, err)
			}
		}()
	}

	if cfg.Server.HTTPSPort > 0 {
		certPath, keyPath, found := findSSLCertificates(cfg.Server.BaseDomain, logger)
		if !found {
			logger.Warn().Msg("SSL certificates not found, HTTPS disabled. Expected cert.pem and key.pem in working directory or valid Let's Encrypt certificates")
		} else {
			hs := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.HTTPSPort), Handler: handler}
			serve(hs, func() error { return hs.ListenAndServeTLS(certPath, keyPath) })
			logger.Info().Str("addr", hs.Addr).Str("cert", certPath).Msg("HTTPS server listening")
		}
	}

	if cfg.Server.HTTPPort > 0 {
		hs := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.HTTPPort), Handler: handler}
		serve(hs, hs.ListenAndServe)
		logger.Info().Str("addr", hs.Addr).Str("model", relay.Model()).Msg("HTTP server listening")
	}

	if len(servers) == 0 {
		return errors.New("no listeners configured: set server.http_port or server.https_port")
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case runErr = <-errCh:
	}

	// in-flight streams get as long as an upstream call may take
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.LLM.Timeout+5*time.Second)
	defer cancel()
	for _, hs := range servers {
		if err := hs.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("addr", hs.Addr).Msg("shutdown failed")
		}
	}
	return runErr
}
